// Package merkle computes SHA-256 merkle roots and inclusion proofs.
//
// Levels pair nodes left to right; an odd node at the end of a level is
// paired with itself.
package merkle

import (
	"bytes"
	"crypto/sha256"
)

// Side is the position of a sibling relative to the running hash.
type Side byte

const (
	Left  Side = 'L'
	Right Side = 'R'
)

// Step is one level of an inclusion proof.
type Step struct {
	Sibling []byte
	Side    Side
}

// Leaf hashes raw data into a leaf digest.
func Leaf(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func node(left, right []byte) []byte {
	buf := make([]byte, 0, len(left)+len(right))
	buf = append(buf, left...)
	buf = append(buf, right...)
	sum := sha256.Sum256(buf)
	return sum[:]
}

func nextLevel(nodes [][]byte) [][]byte {
	next := make([][]byte, 0, (len(nodes)+1)/2)
	for i := 0; i < len(nodes); i += 2 {
		if i+1 < len(nodes) {
			next = append(next, node(nodes[i], nodes[i+1]))
		} else {
			next = append(next, node(nodes[i], nodes[i]))
		}
	}
	return next
}

// Root returns the merkle root of leaves, or nil for no leaves.
func Root(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		return nil
	}
	nodes := leaves
	for len(nodes) > 1 {
		nodes = nextLevel(nodes)
	}
	return nodes[0]
}

// Proof returns the inclusion path for leaves[idx], or nil when idx is out of range.
func Proof(leaves [][]byte, idx int) []Step {
	if idx < 0 || idx >= len(leaves) {
		return nil
	}
	var steps []Step
	nodes := leaves
	current := idx
	for len(nodes) > 1 {
		sibling := current ^ 1
		if sibling >= len(nodes) {
			sibling = current
		}
		side := Right
		if current%2 == 1 {
			side = Left
		}
		steps = append(steps, Step{Sibling: nodes[sibling], Side: side})
		nodes = nextLevel(nodes)
		current /= 2
	}
	return steps
}

// Verify checks that leaf is included under root via steps.
func Verify(leaf, root []byte, steps []Step) bool {
	h := leaf
	for _, s := range steps {
		if s.Side == Left {
			h = node(s.Sibling, h)
		} else {
			h = node(h, s.Sibling)
		}
	}
	return len(root) > 0 && bytes.Equal(h, root)
}
