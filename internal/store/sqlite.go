package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/ham/internal/hamerr"
	"github.com/rcliao/ham/internal/model"
	"github.com/rcliao/ham/internal/processor"
)

// SQLiteBackend stores one row per record. Payloads are already sealed;
// metadata is encrypted with the codec before it is written.
type SQLiteBackend struct {
	db    *sql.DB
	path  string
	codec *processor.Codec
}

// NewSQLiteBackend opens or creates a database at dbPath.
func NewSQLiteBackend(dbPath string, codec *processor.Codec) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteBackend{db: db, path: dbPath, codec: codec}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteBackend) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS memories (
		id         TEXT PRIMARY KEY,
		timestamp  TEXT NOT NULL,
		data_type  TEXT NOT NULL,
		package    BLOB NOT NULL,
		metadata   BLOB,
		relevance  REAL NOT NULL DEFAULT 0.5,
		protected  INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(data_type);
	CREATE INDEX IF NOT EXISTS idx_memories_timestamp ON memories(timestamp DESC);

	CREATE TABLE IF NOT EXISTS counters (
		name  TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`)
	return err
}

func (s *SQLiteBackend) Load(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot()

	err := s.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = 'next_memory_id'`).Scan(&snap.NextMemoryID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("read counter: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, data_type, package, metadata, relevance, protected FROM memories`)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		snap.Memories[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLiteBackend) scanRecord(rows *sql.Rows) (model.MemoryRecord, error) {
	var (
		r         model.MemoryRecord
		ts        string
		meta      []byte
		protected int
	)
	if err := rows.Scan(&r.ID, &ts, &r.DataType, &r.EncryptedPackage, &meta, &r.Relevance, &protected); err != nil {
		return r, fmt.Errorf("scan memory: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return r, hamerr.Wrap(hamerr.KindSerialization, "store.scan", err)
	}
	r.Timestamp = t
	r.Protected = protected != 0

	r.Metadata = model.Metadata{}
	if len(meta) > 0 {
		plain, err := s.codec.Decrypt(meta)
		if err != nil {
			return r, err
		}
		if err := json.Unmarshal(plain, &r.Metadata); err != nil {
			return r, hamerr.Wrap(hamerr.KindSerialization, "store.scan", err)
		}
	}
	return r, nil
}

// Save replaces the stored state with snap in one transaction.
func (s *SQLiteBackend) Save(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	existing := make(map[string]bool)
	rows, err := tx.QueryContext(ctx, `SELECT id FROM memories`)
	if err != nil {
		return fmt.Errorf("list ids: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		existing[id] = true
	}
	rows.Close()

	upsert, err := tx.PrepareContext(ctx,
		`INSERT INTO memories (id, timestamp, data_type, package, metadata, relevance, protected)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			timestamp = excluded.timestamp,
			data_type = excluded.data_type,
			package = excluded.package,
			metadata = excluded.metadata,
			relevance = excluded.relevance,
			protected = excluded.protected`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer upsert.Close()

	for id, r := range snap.Memories {
		mb, err := json.Marshal(r.Metadata)
		if err != nil {
			return hamerr.Wrap(hamerr.KindSerialization, "store.save", err)
		}
		sealedMeta, err := s.codec.Encrypt(mb)
		if err != nil {
			return fmt.Errorf("encrypt metadata: %w", err)
		}
		protected := 0
		if r.Protected {
			protected = 1
		}
		if _, err := upsert.ExecContext(ctx, id, r.Timestamp.UTC().Format(time.RFC3339Nano), r.DataType,
			r.EncryptedPackage, sealedMeta, r.Relevance, protected); err != nil {
			return fmt.Errorf("upsert %s: %w", id, err)
		}
		delete(existing, id)
	}

	for id := range existing {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO counters (name, value) VALUES ('next_memory_id', ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`, snap.NextMemoryID); err != nil {
		return fmt.Errorf("write counter: %w", err)
	}

	return tx.Commit()
}

// Usage sums the database file and its write-ahead log.
func (s *SQLiteBackend) Usage() (int64, error) {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal"} {
		st, err := os.Stat(p)
		if err == nil {
			total += st.Size()
		} else if !os.IsNotExist(err) {
			return 0, err
		}
	}
	return total, nil
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
