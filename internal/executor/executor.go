package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/itstheanurag/codearena/internal/languages"
	"github.com/itstheanurag/codearena/internal/metrics"
	"github.com/itstheanurag/codearena/internal/sandbox"
	"github.com/itstheanurag/codearena/internal/workspace"
	"github.com/rs/zerolog"
)

const inputFileName = "input.txt"

// UnknownLanguage labels requests for languages missing from the registry.
const UnknownLanguage = "unknown"

// Messages returned to callers. Internal error text is logged, never returned.
const (
	MsgTimeLimitExceeded = "Time Limit Exceeded"
	MsgOutputLimit       = "Output size exceeded limit. This might indicate an infinite loop or excessive output."
	MsgCompileTimeout    = "Compilation Time Limit Exceeded"
	MsgCompileFailed     = "Compilation failed"
	MsgRuntimeError      = "Runtime error"
	MsgOutputUnreadable  = "Failed to read program output."
	MsgImageNotFound     = "Required Docker image not found."
	MsgUnexpected        = "An unexpected error occurred."
)

const (
	verdictPassed  = "passed"
	verdictFailed  = "failed"
	verdictError   = "error"
	verdictTimeout = "timeout"
)

type Config struct {
	RunTimeout     time.Duration
	CompileTimeout time.Duration
	Limits         sandbox.Limits
}

type Executor struct {
	registry   *languages.Registry
	sandbox    sandbox.Sandbox
	workspaces *workspace.Manager
	cfg        Config
	logger     *zerolog.Logger
}

func NewExecutor(registry *languages.Registry, sb sandbox.Sandbox, workspaces *workspace.Manager, cfg Config, logger *zerolog.Logger) *Executor {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Second
	}
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = 30 * time.Second
	}
	return &Executor{
		registry:   registry,
		sandbox:    sb,
		workspaces: workspaces,
		cfg:        cfg,
		logger:     logger,
	}
}

// Execute compiles (when the language requires it) and runs req against every test case
// in order. Every failure is reported through the returned Outcome; the error is non-nil
// only when ctx ends before the pipeline finishes.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	log := e.logger.With().Str("language", req.Language).Int("tests", len(req.TestCases)).Logger()

	lang, err := e.registry.Get(req.Language)
	if err != nil {
		log.Info().Msg("unsupported language requested")
		return errorOutcome(StatusError, fmt.Sprintf("unsupported language: %s", req.Language)), nil
	}

	ws, err := e.workspaces.Create()
	if err != nil {
		log.Error().Err(err).Msg("workspace setup failed")
		return errorOutcome(StatusError, MsgUnexpected), nil
	}
	defer ws.Destroy()

	if err := ws.WriteFile(lang.SourceFile, req.Code); err != nil {
		log.Error().Err(err).Msg("failed to materialize source")
		return errorOutcome(StatusError, MsgUnexpected), nil
	}

	if compiled, ok := lang.Pipeline.(languages.Compiled); ok {
		failed, err := e.compile(ctx, lang, compiled, ws, &log)
		if err != nil {
			return e.requestFailure(ctx, err, &log)
		}
		if failed != nil {
			return failed, nil
		}
	}

	results := make([]TestResult, 0, len(req.TestCases))
	for i, tc := range req.TestCases {
		res, err := e.runTest(ctx, lang, ws, tc, log.With().Int("test", i).Logger())
		if err != nil {
			return e.requestFailure(ctx, err, &log)
		}
		results = append(results, res)
	}

	return &Outcome{
		Status:      StatusSuccess,
		TestResults: results,
	}, nil
}

// LanguageLabel maps a requested language to its registry id, so that metrics and
// execution records only ever carry a bounded set of values.
func (e *Executor) LanguageLabel(requested string) string {
	lang, err := e.registry.Get(requested)
	if err != nil {
		return UnknownLanguage
	}
	return lang.ID
}

// compile returns a compile-error Outcome when the compiler rejects the source, nil when
// compilation succeeded, or an error for failures outside the submitted program.
func (e *Executor) compile(ctx context.Context, lang languages.Language, pipeline languages.Compiled, ws *workspace.Workspace, log *zerolog.Logger) (*Outcome, error) {
	log.Debug().Msg("compiling")

	cctx, cancel := context.WithTimeout(ctx, e.cfg.CompileTimeout)
	defer cancel()

	start := time.Now()
	res, err := e.sandbox.Run(cctx, sandbox.RunConfig{
		Image:        lang.Image,
		Cmd:          pipeline.Compile,
		WorkspaceDir: ws.Path(),
		MountTarget:  languages.WorkDir,
		Limits:       e.cfg.Limits,
	})
	metrics.ExecutionDuration.WithLabelValues(lang.ID, "compile").Observe(float64(time.Since(start).Milliseconds()))

	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case cctx.Err() != nil:
		log.Info().Msg("compilation timed out")
		return errorOutcome(StatusCompileError, MsgCompileTimeout), nil
	case errors.Is(err, sandbox.ErrOutputLimit):
		return errorOutcome(StatusCompileError, MsgOutputLimit), nil
	default:
		return nil, err
	}

	if res.ExitCode != 0 {
		log.Debug().Int("exit_code", res.ExitCode).Msg("compilation failed")
		return errorOutcome(StatusCompileError, firstNonEmpty(res.Stderr, res.Stdout, MsgCompileFailed)), nil
	}
	return nil, nil
}

// runTest runs one test case. Program failures are recorded in the TestResult; the error
// is reserved for failures that abort the whole request.
func (e *Executor) runTest(ctx context.Context, lang languages.Language, ws *workspace.Workspace, tc TestCase, log zerolog.Logger) (TestResult, error) {
	result := TestResult{
		Input:    tc.Input,
		Expected: tc.ExpectedOutput,
	}

	if err := ws.WriteFile(inputFileName, tc.Input); err != nil {
		return result, err
	}

	rctx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	start := time.Now()
	res, err := e.sandbox.Run(rctx, sandbox.RunConfig{
		Image:        lang.Image,
		Cmd:          runCommand(lang.Pipeline.RunCommand()),
		WorkspaceDir: ws.Path(),
		MountTarget:  languages.WorkDir,
		Limits:       e.cfg.Limits,
	})
	metrics.ExecutionDuration.WithLabelValues(lang.ID, "run").Observe(float64(time.Since(start).Milliseconds()))

	var infra *sandbox.InfraError
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return result, ctx.Err()
	case rctx.Err() != nil:
		return e.finish(lang, result, verdictTimeout, MsgTimeLimitExceeded, log), nil
	case errors.Is(err, sandbox.ErrOutputLimit):
		return e.finish(lang, result, verdictError, MsgOutputLimit, log), nil
	case errors.As(err, &infra):
		return result, err
	default:
		log.Warn().Err(err).Msg("failed to collect program output")
		return e.finish(lang, result, verdictError, MsgOutputUnreadable, log), nil
	}

	if res.ExitCode != 0 {
		return e.finish(lang, result, verdictError, firstNonEmpty(res.Stderr, MsgRuntimeError), log), nil
	}

	result.Output = trimOutput(res.Stdout)
	result.Passed = Judge(res.Stdout, tc.ExpectedOutput)

	verdict := verdictFailed
	if result.Passed {
		verdict = verdictPassed
	}
	return e.finish(lang, result, verdict, "", log), nil
}

func (e *Executor) finish(lang languages.Language, result TestResult, verdict, message string, log zerolog.Logger) TestResult {
	if message != "" {
		result.Error = &message
	}
	metrics.TestResultsTotal.WithLabelValues(lang.ID, verdict).Inc()
	log.Debug().Str("verdict", verdict).Msg("test case finished")
	return result
}

// requestFailure maps an error that aborted the pipeline to a safe Outcome.
func (e *Executor) requestFailure(ctx context.Context, err error, log *zerolog.Logger) (*Outcome, error) {
	if ctx.Err() != nil {
		log.Info().Err(ctx.Err()).Msg("execution abandoned")
		return nil, ctx.Err()
	}

	log.Error().Err(err).Msg("execution failed")
	if sandbox.IsImageNotFound(err) {
		return errorOutcome(StatusError, MsgImageNotFound), nil
	}
	return errorOutcome(StatusError, MsgUnexpected), nil
}

// runCommand wraps argv so that the current test input is fed on stdin.
func runCommand(argv []string) []string {
	redirect := fmt.Sprintf(`exec "$0" "$@" < %s/%s`, languages.WorkDir, inputFileName)
	return append([]string{"sh", "-c", redirect}, argv...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
