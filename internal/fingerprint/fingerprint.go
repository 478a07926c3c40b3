// Package fingerprint derives content-addressed identifiers for media and
// identities.
//
// Inputs are framed as tag || uint64be(len) || bytes before hashing with
// SHA-256, so digests are reproducible in any language that can write the
// same framing.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"mediaguard/pkg/domain"
)

const (
	contentTag  = "mediaguard/content/v1"
	identityTag = "mediaguard/identity/v1"
)

// EmptyContentHash is the digest every zero-length input maps to.
var EmptyContentHash = Content(nil)

func framed(tag string, n uint64) hash.Hash {
	h := sha256.New()
	h.Write([]byte(tag))
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], n)
	h.Write(lenBuf[:])
	return h
}

// Content fingerprints media bytes.
func Content(data []byte) domain.ContentHash {
	h := framed(contentTag, uint64(len(data)))
	h.Write(data)
	var out domain.ContentHash
	copy(out[:], h.Sum(nil))
	return out
}

// ContentReader fingerprints size bytes read from r. It fails if r yields a
// different number of bytes.
func ContentReader(r io.Reader, size int64) (domain.ContentHash, error) {
	if size < 0 {
		return domain.ContentHash{}, fmt.Errorf("negative content size %d", size)
	}
	h := framed(contentTag, uint64(size))
	n, err := io.Copy(h, io.LimitReader(r, size+1))
	if err != nil {
		return domain.ContentHash{}, fmt.Errorf("read content: %w", err)
	}
	if n != size {
		return domain.ContentHash{}, fmt.Errorf("content size mismatch: declared %d, read %d", size, n)
	}
	var out domain.ContentHash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Identity fingerprints a public key in its canonical byte encoding.
func Identity(publicKey []byte) domain.IdentityHash {
	h := framed(identityTag, uint64(len(publicKey)))
	h.Write(publicKey)
	var out domain.IdentityHash
	copy(out[:], h.Sum(nil))
	return out
}
