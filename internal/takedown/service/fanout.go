package service

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"mediaguard/internal/takedown/models"
	"mediaguard/internal/takedown/platforms"
	"mediaguard/pkg/domain"
	"mediaguard/pkg/platform/circuit"
	"mediaguard/pkg/requestcontext"
)

// fanOut submits r to every targeted platform and hands each answer to
// record as soon as it arrives. Calls are independent: each has its own
// timeout and breaker, and a failure becomes an error response. record is
// never called concurrently.
func (s *Service) fanOut(ctx context.Context, r *models.TakedownRequest, record func(models.PlatformResponse)) []models.PlatformResponse {
	sub := platforms.Submission{
		RequestID:         r.RequestID,
		ContentHashes:     []domain.ContentHash{r.ContentHash},
		LegalBasis:        string(r.LegalBasis),
		Urgency:           string(r.Urgency),
		RequesterIdentity: r.IdentityHash,
	}
	if r.EvidenceRef != "" {
		sub.EvidenceRefs = []string{r.EvidenceRef}
	}

	results := make([]models.PlatformResponse, len(r.Platforms))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.cfg.Fanout)
	for i, id := range r.Platforms {
		g.Go(func() error {
			resp := s.submitTo(ctx, id, sub)
			mu.Lock()
			defer mu.Unlock()
			results[i] = resp
			if record != nil {
				record(resp)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) submitTo(ctx context.Context, platformID string, sub platforms.Submission) models.PlatformResponse {
	p, ok := s.platforms.Get(platformID)
	if !ok {
		s.logger.WarnContext(ctx, "takedown target has no adapter", "platform_id", platformID, "request_id", sub.RequestID.String())
		return s.failed(ctx, platformID, 0, "no adapter configured for platform")
	}
	breaker := s.breaker(platformID)
	if !breaker.Allow() {
		s.metrics.IncBreakerRejection(platformID)
		return s.failed(ctx, platformID, 0, "platform circuit open")
	}

	ctx, span := s.tracer.Start(ctx, "takedown.submit", trace.WithAttributes(
		attribute.String("platform_id", platformID),
		attribute.String("request_id", sub.RequestID.String()),
		attribute.String("urgency", sub.Urgency),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	start := time.Now()
	resp, err := callWithin(callCtx, p, sub)
	elapsed := time.Since(start)

	if err != nil {
		if _, change := breaker.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "platform circuit opened", "platform_id", platformID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(platforms.GetCategory(err)))
		s.metrics.ObservePlatformCall(platformID, string(models.ResponseError), elapsed)
		s.logger.WarnContext(ctx, "platform takedown call failed",
			"platform_id", platformID,
			"request_id", sub.RequestID.String(),
			"category", string(platforms.GetCategory(err)),
			"retryable", platforms.IsRetryable(err),
			"error", err,
		)
		return s.failed(ctx, platformID, elapsed, err.Error())
	}
	if _, change := breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "platform circuit closed", "platform_id", platformID)
	}

	status := models.ResponseStatus(resp.Status)
	if !status.IsValid() {
		status = models.ResponseError
		resp.RejectionReason = "platform answered with unknown status " + resp.Status
	}
	took := resp.ResponseTime
	if took <= 0 {
		took = elapsed
	}
	span.SetAttributes(attribute.String("status", string(status)))
	s.metrics.ObservePlatformCall(platformID, string(status), elapsed)
	return models.PlatformResponse{
		PlatformID:      platformID,
		Status:          status,
		ResponseTimeMs:  took.Milliseconds(),
		RemovalTime:     resp.RemovalTime,
		RejectionReason: resp.RejectionReason,
		ExternalID:      resp.ExternalID,
		RecordedAt:      requestcontext.Now(ctx),
	}
}

type callResult struct {
	resp platforms.Response
	err  error
}

// callWithin returns when the adapter answers or ctx ends, whichever comes
// first. An adapter that ignores ctx is abandoned, not waited for.
func callWithin(ctx context.Context, p platforms.Platform, sub platforms.Submission) (platforms.Response, error) {
	done := make(chan callResult, 1)
	go func() {
		resp, err := p.SubmitTakedown(ctx, sub)
		done <- callResult{resp: resp, err: err}
	}()
	select {
	case res := <-done:
		return res.resp, res.err
	case <-ctx.Done():
		return platforms.Response{}, platforms.NewPlatformError(platforms.ErrorTimeout, p.ID(), "no answer within call timeout", ctx.Err())
	}
}

func (s *Service) failed(ctx context.Context, platformID string, elapsed time.Duration, reason string) models.PlatformResponse {
	return models.PlatformResponse{
		PlatformID:      platformID,
		Status:          models.ResponseError,
		ResponseTimeMs:  elapsed.Milliseconds(),
		RejectionReason: reason,
		RecordedAt:      requestcontext.Now(ctx),
	}
}

func (s *Service) breaker(platformID string) *circuit.Breaker {
	s.breakersMu.Lock()
	defer s.breakersMu.Unlock()
	b, ok := s.breakers[platformID]
	if !ok {
		b = circuit.New("platform:"+platformID, s.cfg.BreakerOptions...)
		s.breakers[platformID] = b
	}
	return b
}
