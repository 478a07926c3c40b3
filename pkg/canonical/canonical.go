// Package canonical produces stable digests of JSON-encodable values.
//
// encoding/json emits struct fields in declaration order and map keys sorted,
// so the same value always encodes to the same bytes. Signed payloads and
// hash chains are computed over these bytes.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Prefix labels the digest algorithm in string form.
const Prefix = "sha256:"

// Sum encodes v and returns its SHA-256 digest and the encoded bytes.
func Sum(v any) ([]byte, []byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("canonical encode: %w", err)
	}
	sum := sha256.Sum256(b)
	return sum[:], b, nil
}

// SumString is Sum rendered as "sha256:<hex>".
func SumString(v any) (string, error) {
	digest, _, err := Sum(v)
	if err != nil {
		return "", err
	}
	return Prefix + hex.EncodeToString(digest), nil
}

// Chain returns SHA-256(prev || digest(v)), the link used by hash chains.
func Chain(prev []byte, v any) ([]byte, error) {
	digest, _, err := Sum(v)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(prev)+len(digest))
	buf = append(buf, prev...)
	buf = append(buf, digest...)
	sum := sha256.Sum256(buf)
	return sum[:], nil
}
