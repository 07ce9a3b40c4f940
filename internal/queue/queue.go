package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/itstheanurag/codearena/internal/executor"
	"github.com/itstheanurag/codearena/internal/metrics"
)

var ErrQueueFull = errors.New("execution queue is full")

type Job struct {
	ID      string
	Request executor.Request
	Result  chan *executor.Outcome
	Err     chan error
	Ctx     context.Context
}

// NewJob returns a job whose result channels are buffered so that a worker never blocks
// on a caller that has already given up.
func NewJob(ctx context.Context, req executor.Request) *Job {
	return &Job{
		ID:      uuid.NewString(),
		Request: req,
		Result:  make(chan *executor.Outcome, 1),
		Err:     make(chan error, 1),
		Ctx:     ctx,
	}
}

type Manager struct {
	jobQueue chan *Job
}

func NewManager(capacity int) *Manager {
	if capacity < 1 {
		capacity = 1
	}
	return &Manager{
		jobQueue: make(chan *Job, capacity),
	}
}

// Submit enqueues job without blocking. ErrQueueFull is returned when every slot is taken.
func (m *Manager) Submit(job *Job) error {
	select {
	case m.jobQueue <- job:
		m.UpdateQueueMetric()
		return nil
	default:
		metrics.QueueRejections.Inc()
		return ErrQueueFull
	}
}

func (m *Manager) NextJob() <-chan *Job {
	return m.jobQueue
}

func (m *Manager) Len() int {
	return len(m.jobQueue)
}

func (m *Manager) Cap() int {
	return cap(m.jobQueue)
}

func (m *Manager) UpdateQueueMetric() {
	metrics.QueueDepth.Set(float64(len(m.jobQueue)))
}
