package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNowFallsBackToWallClock(t *testing.T) {
	before := time.Now()
	got := Now(context.Background())
	assert.False(t, got.Before(before))
}

func TestAccessorsRoundTrip(t *testing.T) {
	pinned := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := WithTime(context.Background(), pinned)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSubject(ctx, "owner")
	ctx = WithDeviceFingerprint(ctx, "fp")
	ctx = WithClientMetadata(ctx, "10.0.0.1", "curl/8")

	assert.Equal(t, pinned, Now(ctx))
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "owner", Subject(ctx))
	assert.Equal(t, "fp", DeviceFingerprint(ctx))
	assert.Equal(t, "10.0.0.1", ClientIP(ctx))
	assert.Equal(t, "curl/8", UserAgent(ctx))
}

func TestMissingValuesAreEmpty(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, Subject(ctx))
	assert.Empty(t, DeviceFingerprint(ctx))
}
