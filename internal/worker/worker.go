package worker

import (
	"context"
	"time"

	"github.com/itstheanurag/codearena/internal/executor"
	"github.com/itstheanurag/codearena/internal/metrics"
	"github.com/itstheanurag/codearena/internal/queue"
	"github.com/rs/zerolog"
)

type Executor interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Outcome, error)
	LanguageLabel(requested string) string
}

// Recorder persists a summary of every finished execution. It may be nil.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

type Record struct {
	JobID    string
	Language string
	Status   string
	Passed   int
	Total    int
	Duration time.Duration
}

type Worker struct {
	id       int
	executor Executor
	manager  *queue.Manager
	recorder Recorder
	logger   *zerolog.Logger
}

func NewWorker(id int, exec Executor, manager *queue.Manager, recorder Recorder, logger *zerolog.Logger) *Worker {
	return &Worker{
		id:       id,
		executor: exec,
		manager:  manager,
		recorder: recorder,
		logger:   logger,
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Int("worker_id", w.id).Msg("worker started")
	for {
		select {
		case job := <-w.manager.NextJob():
			w.manager.UpdateQueueMetric()
			metrics.ActiveWorkers.Inc()
			w.processJob(job)
			metrics.ActiveWorkers.Dec()
		case <-ctx.Done():
			w.logger.Info().Int("worker_id", w.id).Msg("worker stopping")
			return
		}
	}
}

func (w *Worker) processJob(job *queue.Job) {
	language := w.executor.LanguageLabel(job.Request.Language)
	log := w.logger.With().Int("worker_id", w.id).Str("job_id", job.ID).Str("language", language).Logger()

	// the caller gave up while the job was queued
	if err := job.Ctx.Err(); err != nil {
		log.Debug().Err(err).Msg("skipping abandoned job")
		job.Err <- err
		return
	}

	log.Info().Msg("processing job")

	startTime := time.Now()
	result, err := w.executor.Execute(job.Ctx, job.Request)
	duration := time.Since(startTime)

	if err != nil {
		log.Info().Err(err).Msg("job aborted")
		metrics.ExecutionsTotal.WithLabelValues(language, "aborted").Inc()
		job.Err <- err
		return
	}

	metrics.ExecutionsTotal.WithLabelValues(language, string(result.Status)).Inc()
	metrics.ExecutionDuration.WithLabelValues(language, "total").Observe(float64(duration.Milliseconds()))

	log.Info().
		Str("status", string(result.Status)).
		Int("passed", result.Passed()).
		Int("total", len(result.TestResults)).
		Dur("duration", duration).
		Msg("job finished")

	job.Result <- result

	w.record(job, language, result, duration, &log)
}

func (w *Worker) record(job *queue.Job, language string, result *executor.Outcome, duration time.Duration, log *zerolog.Logger) {
	if w.recorder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := w.recorder.Record(ctx, Record{
		JobID:    job.ID,
		Language: language,
		Status:   string(result.Status),
		Passed:   result.Passed(),
		Total:    len(result.TestResults),
		Duration: duration,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to record execution")
	}
}
