//go:build integration

package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"mediaguard/internal/fingerprint"
	"mediaguard/internal/ledger"
	"mediaguard/internal/platform/kafka"
	"mediaguard/pkg/testutil/containers"
)

type KafkaLedgerSuite struct {
	suite.Suite
	client *kgo.Client
	ledger *ledger.KafkaLedger
}

func TestKafkaLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaLedgerSuite))
}

func (s *KafkaLedgerSuite) SetupSuite() {
	broker := containers.GetManager().GetRedpanda(s.T())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := kafka.NewClient(kafka.Config{Brokers: broker.Brokers, ClientID: "ledger-test"})
	s.Require().NoError(err)
	s.Require().NoError(kafka.EnsureTopics(ctx, client, 1, "mediaguard.ledger.test"))
	s.client = client
	s.ledger = ledger.NewKafkaLedger(client, "mediaguard.ledger.test")
}

func (s *KafkaLedgerSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *KafkaLedgerSuite) TestBlockHeightsIncrease() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	content := fingerprint.Content([]byte("anchored"))
	first, err := s.ledger.Append(ctx, ledger.Entry{Kind: ledger.KindRegistration, ContentHash: content, Key: "r1", RecordedAt: time.Now()})
	s.Require().NoError(err)
	second, err := s.ledger.Append(ctx, ledger.Entry{Kind: ledger.KindConsensus, ContentHash: content, Key: "e1", RecordedAt: time.Now()})
	s.Require().NoError(err)

	s.Equal(first.Partition, second.Partition)
	s.Greater(second.BlockHeight, first.BlockHeight)
}
