// Package sha256 provides SHA-256 digests for artifact naming and content fingerprints.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Digest accumulates a SHA-256 over a stream while counting bytes.
type Digest struct {
	h hash.Hash
	n int64
}

// NewDigest returns an empty streaming digest.
func NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

// Write implements io.Writer.
func (d *Digest) Write(p []byte) (int, error) {
	n, err := d.h.Write(p)
	d.n += int64(n)
	return n, err
}

// Size returns the number of bytes written so far.
func (d *Digest) Size() int64 {
	return d.n
}

// Sum returns the hex digest of everything written.
func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// TeeWriter returns a writer that writes to w and updates d.
func (d *Digest) TeeWriter(w io.Writer) io.Writer {
	return io.MultiWriter(w, d)
}
