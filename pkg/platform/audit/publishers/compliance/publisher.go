// Package compliance provides a fail-closed audit publisher for legally
// significant events.
//
// Emit writes synchronously and returns the store error; the calling
// operation must fail when it does. Use for registrations, takedown
// submissions and their outcomes.
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	audit "mediaguard/pkg/platform/audit"
)

// Publisher emits compliance events with fail-closed semantics.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit synchronously writes a compliance event to the audit store.
func (p *Publisher) Emit(ctx context.Context, event audit.ComplianceEvent) error {
	if event.Subject == "" {
		return fmt.Errorf("compliance event requires Subject")
	}
	if event.Action == "" {
		return fmt.Errorf("compliance event requires Action")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}

	if err := p.store.Append(ctx, event.ToEvent()); err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "CRITICAL: compliance audit failed",
				"action", event.Action,
				"subject", event.Subject,
				"error", err,
			)
		}
		return fmt.Errorf("compliance audit persistence failed: %w", err)
	}
	return nil
}
