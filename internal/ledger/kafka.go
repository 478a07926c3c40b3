package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaLedger writes entries to a topic keyed by content hash, so every entry
// for one content lands on one partition in order. The partition offset is
// the block height.
type KafkaLedger struct {
	client *kgo.Client
	topic  string
}

func NewKafkaLedger(client *kgo.Client, topic string) *KafkaLedger {
	return &KafkaLedger{client: client, topic: topic}
}

func (l *KafkaLedger) Append(ctx context.Context, entry Entry) (Receipt, error) {
	value, err := json.Marshal(entry)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode ledger entry: %w", err)
	}
	record := &kgo.Record{
		Topic: l.topic,
		Key:   entry.ContentHash[:],
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(entry.Kind)},
		},
	}
	produced, err := l.client.ProduceSync(ctx, record).First()
	if err != nil {
		return Receipt{}, fmt.Errorf("append ledger entry: %w", err)
	}
	return Receipt{
		BlockHeight: uint64(produced.Offset),
		Partition:   produced.Partition,
		RecordedAt:  entry.RecordedAt,
	}, nil
}
