// Package ledger appends audit anchors to an externally ordered, append-only
// log. The log assigns each entry a block height; the core never rewrites or
// deletes entries.
package ledger

import (
	"context"
	"encoding/json"
	"time"

	"mediaguard/pkg/domain"
)

// Kind labels what an entry anchors.
type Kind string

const (
	KindRegistration Kind = "registration"
	KindConsensus    Kind = "consensus"
	KindTakedown     Kind = "takedown"
)

// Entry is one log record. Key is the id of the anchored object (event id,
// request id, registration id).
type Entry struct {
	Kind        Kind               `json:"kind"`
	ContentHash domain.ContentHash `json:"content_hash"`
	Key         string             `json:"key"`
	Payload     json.RawMessage    `json:"payload,omitempty"`
	RecordedAt  time.Time          `json:"recorded_at"`
}

// Receipt locates an appended entry in the log.
type Receipt struct {
	BlockHeight uint64
	Partition   int32
	RecordedAt  time.Time
}

// Ledger is the append-only log contract.
type Ledger interface {
	Append(ctx context.Context, entry Entry) (Receipt, error)
}
