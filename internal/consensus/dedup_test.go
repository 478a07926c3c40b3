package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaguard/pkg/domain"
)

func TestMemoryDeduplicator(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	d := NewMemoryDeduplicator(time.Minute)
	d.now = func() time.Time { return now }
	ctx := context.Background()
	id := domain.NewEventID()

	first, err := d.FirstSeen(ctx, id)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = d.FirstSeen(ctx, id)
	require.NoError(t, err)
	assert.False(t, first)

	now = now.Add(2 * time.Minute)
	first, err = d.FirstSeen(ctx, id)
	require.NoError(t, err)
	assert.True(t, first, "ids are forgotten after the ttl")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = d.FirstSeen(cancelled, domain.NewEventID())
	assert.ErrorIs(t, err, context.Canceled)
}
