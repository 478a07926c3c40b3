// Package publisher emits best-effort audit events, synchronously or through
// a bounded buffer drained by one background goroutine.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	audit "mediaguard/pkg/platform/audit"
)

var ErrBufferFull = errors.New("audit buffer full")

type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	buffer chan audit.Event
	wg     sync.WaitGroup
	once   sync.Once
}

type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to asynchronous delivery through a
// buffer of the given size.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan audit.Event, size)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.buffer {
		if err := p.store.Append(context.Background(), event); err != nil {
			p.logger.Error("audit append failed", "action", event.Action, "error", err)
		}
	}
}

// Emit records event. In async mode it never blocks: a full buffer returns
// ErrBufferFull and a cancelled context returns ctx.Err().
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if p.buffer == nil {
		return p.store.Append(ctx, event)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.buffer <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

// EmitSecurity records a security event.
func (p *Publisher) EmitSecurity(ctx context.Context, event audit.SecurityEvent) error {
	return p.Emit(ctx, event.ToEvent())
}

func (p *Publisher) List(ctx context.Context, subject string) ([]audit.Event, error) {
	return p.store.ListBySubject(ctx, subject)
}

// Close drains buffered events and stops the background goroutine. Emit must
// not be called after Close.
func (p *Publisher) Close() error {
	p.once.Do(func() {
		if p.buffer != nil {
			close(p.buffer)
			p.wg.Wait()
		}
	})
	return nil
}
