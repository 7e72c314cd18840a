// Package store persists the memory snapshot and guards writes with a
// free-disk check.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rcliao/ham/internal/hamerr"
	"github.com/rcliao/ham/internal/logging"
	"github.com/rcliao/ham/internal/model"
	"github.com/rcliao/ham/internal/resource"
)

// Snapshot is the complete persisted state.
type Snapshot struct {
	Memories     map[string]model.MemoryRecord `json:"memories"`
	NextMemoryID int64                         `json:"nextMemoryId"`
}

// NewSnapshot returns an empty store state.
func NewSnapshot() *Snapshot {
	return &Snapshot{Memories: make(map[string]model.MemoryRecord), NextMemoryID: 1}
}

// normalize fills record ids from map keys and keeps the counter ahead of
// every id already issued.
func (s *Snapshot) normalize() {
	if s.Memories == nil {
		s.Memories = make(map[string]model.MemoryRecord)
	}
	for id, r := range s.Memories {
		r.ID = id
		if r.Metadata == nil {
			r.Metadata = model.Metadata{}
		}
		s.Memories[id] = r
		if n, ok := parseSeq(id); ok && n >= s.NextMemoryID {
			s.NextMemoryID = n + 1
		}
	}
	if s.NextMemoryID < 1 {
		s.NextMemoryID = 1
	}
}

func parseSeq(id string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimPrefix(id, "mem_"), 10, 64)
	return n, err == nil && strings.HasPrefix(id, "mem_")
}

// Backend reads and writes whole snapshots.
type Backend interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	// Usage is the number of bytes the persisted store occupies.
	Usage() (int64, error)
	Close() error
}

// CoreOptions configures a Core.
type CoreOptions struct {
	// Dir is probed for free space before each save.
	Dir          string
	MinFreeBytes uint64
	Monitor      resource.Monitor
	Logger       *zap.Logger
}

// Core is the storage layer the memory manager talks to.
type Core struct {
	backend Backend
	opts    CoreOptions
	logger  *zap.Logger
}

// NewCore wraps a backend.
func NewCore(b Backend, opts CoreOptions) *Core {
	return &Core{backend: b, opts: opts, logger: logging.OrNop(opts.Logger)}
}

// Load never fails: unreadable or undecryptable content is logged and
// replaced by an empty store.
func (c *Core) Load(ctx context.Context) *Snapshot {
	snap, err := c.backend.Load(ctx)
	if err != nil {
		c.logger.Warn("stored memory unreadable, starting empty",
			zap.String("kind", string(hamerr.KindOf(err))), zap.Error(err))
		return NewSnapshot()
	}
	snap.normalize()
	return snap
}

// Save writes the full snapshot after checking the disk floor.
func (c *Core) Save(ctx context.Context, snap *Snapshot) error {
	if err := c.checkDisk(); err != nil {
		return err
	}
	if err := c.backend.Save(ctx, snap); err != nil {
		var he *hamerr.Error
		if errors.As(err, &he) {
			return err
		}
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (c *Core) checkDisk() error {
	if c.opts.Monitor == nil || c.opts.MinFreeBytes == 0 {
		return nil
	}
	free, err := c.opts.Monitor.AvailableDiskBytes(c.opts.Dir)
	if err != nil {
		// the probe is advisory
		c.logger.Warn("disk probe failed", zap.String("dir", c.opts.Dir), zap.Error(err))
		return nil
	}
	if free < c.opts.MinFreeBytes {
		return hamerr.New(hamerr.KindInsufficientSpace, "store.save",
			"%d bytes free in %s, need %d", free, c.opts.Dir, c.opts.MinFreeBytes)
	}
	return nil
}

// Usage reports the persisted size.
func (c *Core) Usage() (int64, error) {
	return c.backend.Usage()
}

func (c *Core) Close() error {
	return c.backend.Close()
}
