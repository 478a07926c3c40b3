package workqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaguard/pkg/platform/sentinel"
)

func TestQueueRunsTasks(t *testing.T) {
	q := New(8, 2)
	q.Start(context.Background())

	var ran atomic.Int32
	for range 8 {
		require.NoError(t, q.Submit(Task{Name: "count", Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}
	q.Stop()

	assert.Equal(t, int32(8), ran.Load())
}

func TestQueueRefusesWhenFull(t *testing.T) {
	q := New(1, 1)
	noop := Task{Name: "noop", Run: func(context.Context) error { return nil }}

	require.NoError(t, q.Submit(noop))
	assert.ErrorIs(t, q.Submit(noop), sentinel.ErrQueueFull)
	assert.Equal(t, 1, q.Len())

	q.Start(context.Background())
	q.Stop()
	assert.ErrorIs(t, q.Submit(noop), sentinel.ErrClosed)
}

func TestQueueSurvivesFailingTasks(t *testing.T) {
	q := New(4, 1)
	q.Start(context.Background())

	var ran atomic.Bool
	require.NoError(t, q.Submit(Task{Name: "boom", Run: func(context.Context) error { panic("boom") }}))
	require.NoError(t, q.Submit(Task{Name: "fail", Run: func(context.Context) error { return errors.New("fail") }}))
	require.NoError(t, q.Submit(Task{Name: "after", Run: func(context.Context) error {
		ran.Store(true)
		return nil
	}}))
	q.Stop()

	assert.True(t, ran.Load())
}
