// Package processor turns raw experiences into stored payloads: text
// abstraction, checksums, compression and encryption.
package processor

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/rcliao/ham/internal/hamerr"
)

// KeySize is the length of an encryption key in bytes.
const KeySize = chacha20poly1305.KeySize

// Codec compresses and encrypts payloads. A Codec without a key passes
// data through Encrypt and Decrypt unchanged. Safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// NewCodec creates a codec. key must be KeySize bytes, or empty for
// plaintext operation.
func NewCodec(key []byte) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	c := &Codec{enc: enc, dec: dec}
	if len(key) > 0 {
		if len(key) != KeySize {
			return nil, hamerr.New(hamerr.KindInvalid, "processor.codec", "key must be %d bytes, got %d", KeySize, len(key))
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("init cipher: %w", err)
		}
		c.aead = aead
	}
	return c, nil
}

// Encrypting reports whether the codec has a key.
func (c *Codec) Encrypting() bool { return c.aead != nil }

// Compress is lossless: Decompress(Compress(b)) == b.
func (c *Codec) Compress(b []byte) []byte {
	return c.enc.EncodeAll(b, make([]byte, 0, len(b)/2+16))
}

func (c *Codec) Decompress(b []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(b, nil)
	if err != nil {
		return nil, hamerr.Wrap(hamerr.KindIntegrity, "processor.decompress", err)
	}
	return out, nil
}

// Encrypt seals b with a fresh random nonce prepended to the ciphertext.
func (c *Codec) Encrypt(b []byte) ([]byte, error) {
	if c.aead == nil {
		return append([]byte(nil), b...), nil
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(b)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, b, nil), nil
}

// Decrypt fails with an integrity error on a wrong key or corrupted input.
func (c *Codec) Decrypt(b []byte) ([]byte, error) {
	if c.aead == nil {
		return append([]byte(nil), b...), nil
	}
	ns := c.aead.NonceSize()
	if len(b) < ns+c.aead.Overhead() {
		return nil, hamerr.New(hamerr.KindIntegrity, "processor.decrypt", "ciphertext too short (%d bytes)", len(b))
	}
	out, err := c.aead.Open(nil, b[:ns], b[ns:], nil)
	if err != nil {
		return nil, hamerr.Wrap(hamerr.KindIntegrity, "processor.decrypt", err)
	}
	return out, nil
}

// Seal compresses then encrypts.
func (c *Codec) Seal(b []byte) ([]byte, error) {
	return c.Encrypt(c.Compress(b))
}

// Open decrypts then decompresses.
func (c *Codec) Open(b []byte) ([]byte, error) {
	plain, err := c.Decrypt(b)
	if err != nil {
		return nil, err
	}
	return c.Decompress(plain)
}

// Close releases the compressor state.
func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// Checksum returns the lowercase hex SHA-256 of b.
func Checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a new random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// ParseKey decodes a base64 (standard or URL alphabet) key.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(s); err == nil {
			if len(key) != KeySize {
				return nil, hamerr.New(hamerr.KindInvalid, "processor.parse_key", "key must decode to %d bytes, got %d", KeySize, len(key))
			}
			return key, nil
		}
	}
	return nil, hamerr.New(hamerr.KindInvalid, "processor.parse_key", "key is not valid base64")
}

// EncodeKey renders a key in the form ParseKey accepts.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
