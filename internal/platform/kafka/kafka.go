// Package kafka builds franz-go clients for the ledger producer and the
// judgment intake consumer.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Config selects brokers and, for consumers, the group and topics.
type Config struct {
	Brokers       []string
	ClientID      string
	ConsumerGroup string
	ConsumeTopics []string
}

// NewClient returns a client producing with idempotent writes and, when a
// consumer group is set, consuming the configured topics with manual commits.
func NewClient(cfg Config, extra ...kgo.Opt) (*kgo.Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.ConsumerGroup != "" {
		opts = append(opts,
			kgo.ConsumerGroup(cfg.ConsumerGroup),
			kgo.ConsumeTopics(cfg.ConsumeTopics...),
			kgo.DisableAutoCommit(),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		)
	}
	opts = append(opts, extra...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopics creates the topics that do not exist yet. Existing topics are
// left untouched.
func EnsureTopics(ctx context.Context, client *kgo.Client, partitions int32, topics ...string) error {
	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopics(ctx, partitions, -1, nil, topics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, t := range resp.Sorted() {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", t.Topic, t.Err)
		}
	}
	return nil
}

// Health pings the cluster.
func Health(ctx context.Context, client *kgo.Client) error {
	return client.Ping(ctx)
}
