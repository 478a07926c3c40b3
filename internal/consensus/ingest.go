package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"mediaguard/internal/registry/models"
	"mediaguard/pkg/domain"
	dErrors "mediaguard/pkg/domain-errors"
)

// Envelope types accepted on the intake topic.
const (
	EnvelopeEvent       = "event"
	EnvelopeAutomated   = "automated"
	EnvelopeJudgment    = "judgment"
	EnvelopeAttestation = "attestation"
)

// Envelope is one intake message. Type selects which field is read.
type Envelope struct {
	Type        string               `json:"type"`
	EventID     domain.EventID       `json:"event_id"`
	Event       *models.ContentEvent `json:"event,omitempty"`
	Automated   *AutomatedJudgment   `json:"automated,omitempty"`
	Judgment    *PeerJudgment        `json:"judgment,omitempty"`
	Attestation *Attestation         `json:"attestation,omitempty"`
}

const (
	ingestAttempts = 3
	ingestBackoff  = 200 * time.Millisecond
)

// Ingestor feeds intake envelopes from Kafka into a Validator.
type Ingestor struct {
	client    *kgo.Client
	validator *Validator
	logger    *slog.Logger
	backoff   time.Duration
}

func NewIngestor(client *kgo.Client, validator *Validator, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ingestor{client: client, validator: validator, logger: logger, backoff: ingestBackoff}
}

// Run polls until ctx is done. Records of a partition are handled in order
// and only the handled prefix is committed. A record that keeps failing
// transiently stops its partition and is fetched again on the next poll.
func (i *Ingestor) Run(ctx context.Context) error {
	for {
		fetches := i.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			i.logger.WarnContext(ctx, "intake fetch failed",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		var handled []*kgo.Record
		rewind := make(map[string]map[int32]kgo.EpochOffset)
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			last, stuck := i.drain(ctx, p.Records)
			if last != nil {
				handled = append(handled, last)
			}
			if stuck != nil {
				if rewind[stuck.Topic] == nil {
					rewind[stuck.Topic] = make(map[int32]kgo.EpochOffset)
				}
				rewind[stuck.Topic][stuck.Partition] = kgo.EpochOffset{Epoch: stuck.LeaderEpoch, Offset: stuck.Offset}
			}
		})
		if len(handled) > 0 {
			if err := i.client.CommitRecords(ctx, handled...); err != nil && ctx.Err() == nil {
				i.logger.WarnContext(ctx, "intake offset commit failed", "error", err)
			}
		}
		if len(rewind) > 0 && ctx.Err() == nil {
			i.client.SetOffsets(rewind)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ingestAttempts * i.backoff):
			}
		}
	}
}

// drain handles records in order. It returns the last record that may be
// committed and the first record that could not be handled, if any; records
// after that one are left for redelivery. Records that fail permanently are
// logged and skipped.
func (i *Ingestor) drain(ctx context.Context, records []*kgo.Record) (last, stuck *kgo.Record) {
	for _, r := range records {
		err := i.handleWithRetry(ctx, r.Value)
		if err != nil && (transient(err) || ctx.Err() != nil) {
			i.logger.WarnContext(ctx, "intake record deferred",
				"topic", r.Topic,
				"partition", r.Partition,
				"offset", r.Offset,
				"error", err,
			)
			return last, r
		}
		if err != nil {
			i.logger.ErrorContext(ctx, "intake record dropped",
				"topic", r.Topic,
				"partition", r.Partition,
				"offset", r.Offset,
				"error", err,
			)
		}
		last = r
	}
	return last, nil
}

func (i *Ingestor) handleWithRetry(ctx context.Context, value []byte) error {
	var err error
	for attempt := 1; attempt <= ingestAttempts; attempt++ {
		err = i.Handle(ctx, value)
		if err == nil || !transient(err) {
			return err
		}
		if attempt == ingestAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * i.backoff):
		}
	}
	return err
}

func transient(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeInternal) || dErrors.HasCode(err, dErrors.CodeUnavailable)
}

// Handle applies one encoded envelope. Envelopes that arrive after their
// session closed, repeat judgments and unverifiable judgments are absorbed
// without error.
func (i *Ingestor) Handle(ctx context.Context, value []byte) error {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed intake envelope")
	}
	err := i.apply(ctx, env)
	if dErrors.HasCode(err, dErrors.CodeInvalidState) {
		i.logger.DebugContext(ctx, "late intake envelope ignored",
			"type", env.Type,
			"event_id", env.EventID.String(),
		)
		return nil
	}
	return err
}

func (i *Ingestor) apply(ctx context.Context, env Envelope) error {
	switch env.Type {
	case EnvelopeEvent:
		if env.Event == nil {
			return missing(env.Type)
		}
		_, _, err := i.validator.Observe(ctx, env.Event)
		return err
	case EnvelopeAutomated:
		if env.Automated == nil || env.EventID.IsNil() {
			return missing(env.Type)
		}
		return i.validator.RecordAutomated(ctx, env.EventID, *env.Automated)
	case EnvelopeJudgment:
		if env.Judgment == nil || env.EventID.IsNil() {
			return missing(env.Type)
		}
		_, _, err := i.validator.RecordPeer(ctx, env.EventID, *env.Judgment)
		return err
	case EnvelopeAttestation:
		if env.Attestation == nil || env.EventID.IsNil() {
			return missing(env.Type)
		}
		_, err := i.validator.Attest(ctx, env.EventID, *env.Attestation)
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			i.logger.WarnContext(ctx, "attestation rejected",
				"event_id", env.EventID.String(),
				"validator_id", env.Attestation.ValidatorID,
			)
			return nil
		}
		return err
	default:
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown intake envelope type %q", env.Type))
	}
}

func missing(kind string) error {
	return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("%s envelope is missing its payload", kind))
}

// Publish encodes env onto topic, keyed by event id so every envelope of an
// event lands on one partition.
func Publish(ctx context.Context, client *kgo.Client, topic string, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode intake envelope: %w", err)
	}
	key := env.EventID
	if env.Event != nil {
		key = env.Event.EventID
	}
	if key.IsNil() {
		return errors.New("intake envelope has no event id")
	}
	record := &kgo.Record{Topic: topic, Key: []byte(key.String()), Value: value}
	if err := client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish intake envelope: %w", err)
	}
	return nil
}
