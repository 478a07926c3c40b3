package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "mediaguard/pkg/platform/audit"
	"mediaguard/pkg/platform/audit/store/memory"
)

const subject = "9f2c0000000000000000000000000000000000000000000000000000000000aa"

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		Subject: subject,
		Action:  string(audit.EventContentRegistered),
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventContentRegistered), events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{
			Subject: subject,
			Action:  string(audit.EventScanCompleted),
		}))
	}
	require.NoError(t, pub.Close())

	events, err := store.ListBySubject(context.Background(), subject)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_BufferFull_NeverBlocks(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), audit.Event{Subject: subject, Action: string(audit.EventScanCompleted)})
			if err != nil {
				assert.ErrorIs(t, err, ErrBufferFull)
			}
		}()
	}
	wg.Wait()
}

func TestPublisher_Timestamps(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	t.Run("sets missing timestamp", func(t *testing.T) {
		before := time.Now()
		require.NoError(t, pub.Emit(context.Background(), audit.Event{Subject: "a", Action: "x"}))
		events, err := pub.List(context.Background(), "a")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.False(t, events[0].Timestamp.Before(before))
	})

	t.Run("preserves existing timestamp", func(t *testing.T) {
		custom := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, pub.Emit(context.Background(), audit.Event{Subject: "b", Action: "x", Timestamp: custom}))
		events, err := pub.List(context.Background(), "b")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, custom, events[0].Timestamp)
	})
}

func TestPublisher_CancelledContextAsync(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(1))
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pub.Emit(ctx, audit.Event{Subject: subject, Action: "x"})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPublisher_SecurityEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	require.NoError(t, pub.EmitSecurity(context.Background(), audit.SecurityEvent{
		Subject:    subject,
		Action:     audit.EventUnauthorizedUsage,
		PlatformID: "tiktok",
		Severity:   audit.SeverityCritical,
	}))
	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
	assert.Equal(t, audit.SeverityCritical, events[0].Severity)
}
