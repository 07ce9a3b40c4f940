package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/docker/errdefs"
	"github.com/itstheanurag/codearena/internal/stream"
)

// DefaultMountTarget is used when RunConfig.MountTarget is empty.
const DefaultMountTarget = "/app"

// ErrOutputLimit is returned (wrapped) when a container writes more than Limits.OutputLimit.
var ErrOutputLimit = stream.ErrOutputLimit

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

type Sandbox interface {
	Run(ctx context.Context, config RunConfig) (*Result, error)
	EnsureImage(ctx context.Context, image string) error
	Ping(ctx context.Context) error
}

// Limits are applied to every container regardless of what it runs.
type Limits struct {
	MemoryBytes int64
	CPUPeriod   int64
	CPUQuota    int64
	PidsLimit   int64
	OutputLimit int64
}

func DefaultLimits() Limits {
	return Limits{
		MemoryBytes: 256 * 1024 * 1024,
		CPUPeriod:   100000,
		CPUQuota:    50000,
		PidsLimit:   64,
		OutputLimit: stream.DefaultLimit,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.MemoryBytes <= 0 {
		l.MemoryBytes = def.MemoryBytes
	}
	if l.CPUPeriod <= 0 {
		l.CPUPeriod = def.CPUPeriod
	}
	if l.CPUQuota <= 0 {
		l.CPUQuota = def.CPUQuota
	}
	if l.PidsLimit <= 0 {
		l.PidsLimit = def.PidsLimit
	}
	if l.OutputLimit <= 0 {
		l.OutputLimit = def.OutputLimit
	}
	return l
}

type RunConfig struct {
	Image string
	Cmd   []string
	// WorkspaceDir is the host directory bind-mounted read/write at MountTarget.
	WorkspaceDir string
	MountTarget  string
	Limits       Limits
}

// InfraError reports a failure of the container runtime itself, as opposed to a
// failure of the program running inside the container.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("failed to %s container: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error {
	return e.Err
}

// IsImageNotFound reports whether err is an InfraError caused by a missing image.
func IsImageNotFound(err error) bool {
	var infra *InfraError
	if !errors.As(err, &infra) {
		return false
	}
	return infra.Op == "create" && errdefs.IsNotFound(infra.Err)
}
