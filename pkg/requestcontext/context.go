// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; services and workers read them. Keeping the
// package free of net/http lets background loops (deadline sweeps, scans,
// Kafka intake) inject the same values without an HTTP request.
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	now := requestcontext.Now(ctx)
package requestcontext

import (
	"context"
	"time"
)

type (
	subjectKey           struct{}
	deviceFingerprintKey struct{}
	clientIPKey          struct{}
	userAgentKey         struct{}
	requestIDKey         struct{}
	requestTimeKey       struct{}
)

var (
	ContextKeySubject           = subjectKey{}
	ContextKeyDeviceFingerprint = deviceFingerprintKey{}
	ContextKeyClientIP          = clientIPKey{}
	ContextKeyUserAgent         = userAgentKey{}
	ContextKeyRequestID         = requestIDKey{}
	ContextKeyRequestTime       = requestTimeKey{}
)

// Subject returns the authenticated caller (token subject), or "".
func Subject(ctx context.Context) string {
	if s, ok := ctx.Value(ContextKeySubject).(string); ok {
		return s
	}
	return ""
}

func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ContextKeySubject, subject)
}

// DeviceFingerprint returns the pre-computed device fingerprint, or "".
func DeviceFingerprint(ctx context.Context) string {
	if fp, ok := ctx.Value(ContextKeyDeviceFingerprint).(string); ok {
		return fp
	}
	return ""
}

func WithDeviceFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, ContextKeyDeviceFingerprint, fingerprint)
}

func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	return ctx
}

func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, sweeps, tests without injection).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the time seen by every service reading Now(ctx).
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
