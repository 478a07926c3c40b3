// Package workqueue runs tasks on a fixed set of workers behind a bounded
// queue. Submissions beyond the queue capacity are refused rather than
// blocking the caller.
package workqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mediaguard/pkg/platform/sentinel"
)

// Task is one unit of work. The context is the queue's run context.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Metrics tracks queue depth and refusals.
type Metrics struct {
	Depth    prometheus.Gauge
	Rejected prometheus.Counter
	Failed   *prometheus.CounterVec
}

func NewMetrics(name string) *Metrics {
	labels := prometheus.Labels{"queue": name}
	return &Metrics{
		Depth: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "mediaguard_workqueue_depth",
			Help:        "Tasks waiting in the queue",
			ConstLabels: labels,
		}),
		Rejected: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "mediaguard_workqueue_rejected_total",
			Help:        "Tasks refused because the queue was full",
			ConstLabels: labels,
		}),
		Failed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "mediaguard_workqueue_failed_total",
			Help:        "Tasks that returned an error or panicked",
			ConstLabels: labels,
		}, []string{"task"}),
	}
}

type Queue struct {
	tasks   chan Task
	workers int
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.RWMutex
	closed  bool
	started sync.Once
	stopped sync.Once
	wg      sync.WaitGroup
}

type Option func(*Queue)

func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// New builds a queue holding up to capacity pending tasks for workers.
func New(capacity, workers int, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	if workers <= 0 {
		workers = 4
	}
	q := &Queue{
		tasks:   make(chan Task, capacity),
		workers: workers,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the workers. Calling it more than once has no effect.
func (q *Queue) Start(ctx context.Context) {
	q.started.Do(func() {
		for range q.workers {
			q.wg.Add(1)
			go q.work(ctx)
		}
	})
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for task := range q.tasks {
		q.setDepth()
		q.run(ctx, task)
	}
}

func (q *Queue) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.fail(ctx, task, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := task.Run(ctx); err != nil {
		q.fail(ctx, task, err)
	}
}

func (q *Queue) fail(ctx context.Context, task Task, err error) {
	if q.metrics != nil {
		q.metrics.Failed.WithLabelValues(task.Name).Inc()
	}
	q.logger.WarnContext(ctx, "queued task failed", "task", task.Name, "error", err)
}

// Submit enqueues task without blocking. It returns sentinel.ErrQueueFull
// when the queue is saturated and sentinel.ErrClosed after Stop.
func (q *Queue) Submit(task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return sentinel.ErrClosed
	}
	select {
	case q.tasks <- task:
		q.setDepth()
		return nil
	default:
		if q.metrics != nil {
			q.metrics.Rejected.Inc()
		}
		return sentinel.ErrQueueFull
	}
}

// Len reports the number of pending tasks.
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Stop refuses new tasks, lets the workers drain the queue and waits for
// them.
func (q *Queue) Stop() {
	q.stopped.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.tasks)
		q.mu.Unlock()
		q.wg.Wait()
	})
}

func (q *Queue) setDepth() {
	if q.metrics != nil {
		q.metrics.Depth.Set(float64(len(q.tasks)))
	}
}
