// Package sha256 computes SHA-256 content digests for uploaded objects.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Digest is the hex SHA-256 of a stream and its length in bytes.
type Digest struct {
	Hex   string
	Bytes int64
}

// Sum returns the hex digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Reader hashes everything read through it.
type Reader struct {
	r io.Reader
	h hash.Hash
	n int64
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, h: sha256.New()}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		// hash.Hash.Write never returns an error.
		_, _ = r.h.Write(p[:n])
		r.n += int64(n)
	}
	return n, err //nolint:wrapcheck
}

// Digest returns the digest of the bytes read so far.
func (r *Reader) Digest() Digest {
	return Digest{Hex: hex.EncodeToString(r.h.Sum(nil)), Bytes: r.n}
}
