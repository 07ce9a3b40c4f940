package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/itstheanurag/codearena/internal/executor"
	"github.com/itstheanurag/codearena/internal/languages"
	"github.com/itstheanurag/codearena/internal/queue"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const maxBodyBytes = 1 << 20

type Submitter interface {
	Submit(job *queue.Job) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type LanguageInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Image    string `json:"image"`
	Compiled bool   `json:"compiled"`
}

type Handler struct {
	queue          Submitter
	registry       *languages.Registry
	pinger         Pinger
	requestTimeout time.Duration
}

func NewHandler(q Submitter, registry *languages.Registry, pinger Pinger, requestTimeout time.Duration) *Handler {
	if requestTimeout <= 0 {
		requestTimeout = 2 * time.Minute
	}
	return &Handler{
		queue:          q,
		registry:       registry,
		pinger:         pinger,
		requestTimeout: requestTimeout,
	}
}

func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	var req executor.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	job := queue.NewJob(ctx, req)
	if err := h.queue.Submit(job); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			log.Warn().Str("language", req.Language).Msg("execution queue full")
			writeError(w, http.StatusServiceUnavailable, "Execution queue is full, try again later.")
			return
		}
		log.Error().Err(err).Msg("failed to submit job")
		writeError(w, http.StatusInternalServerError, executor.MsgUnexpected)
		return
	}

	select {
	case res := <-job.Result:
		writeJSON(w, http.StatusOK, res)
	case err := <-job.Err:
		h.abandoned(w, err, log)
	case <-ctx.Done():
		h.abandoned(w, ctx.Err(), log)
	}
}

func (h *Handler) abandoned(w http.ResponseWriter, err error, log *zerolog.Logger) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "Execution timed out")
	case errors.Is(err, context.Canceled):
		// nobody is left to read the response
		log.Debug().Msg("client went away before execution finished")
	default:
		log.Error().Err(err).Msg("execution failed")
		writeError(w, http.StatusInternalServerError, executor.MsgUnexpected)
	}
}

func (h *Handler) Languages(w http.ResponseWriter, r *http.Request) {
	langs := h.registry.List()
	out := make([]LanguageInfo, 0, len(langs))
	for _, l := range langs {
		out = append(out, LanguageInfo{
			ID:       l.ID,
			Name:     l.Name,
			Image:    l.Image,
			Compiled: l.CompileCommand() != nil,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.pinger.Ping(ctx); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("readiness check failed")
		http.Error(w, "docker engine unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, &executor.Outcome{
		Status:      executor.StatusError,
		Message:     message,
		TestResults: []executor.TestResult{},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
