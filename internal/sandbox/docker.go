package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/google/uuid"
	"github.com/itstheanurag/codearena/internal/metrics"
	"github.com/itstheanurag/codearena/internal/stream"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
)

const (
	cleanupTimeout  = 30 * time.Second
	containerPrefix = "code-arena-"
	// /tmp is the only writable path besides the workspace mount.
	tmpfsOptions = "rw,noexec,nosuid,size=16m,mode=1777"
)

// DockerAPI is the subset of the docker engine client used by DockerSandbox.
type DockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Ping(ctx context.Context) (types.Ping, error)
}

type DockerSandbox struct {
	cli    DockerAPI
	logger *zerolog.Logger
}

func NewDockerSandbox(logger *zerolog.Logger) (*DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return NewDockerSandboxWithClient(cli, logger), nil
}

func NewDockerSandboxWithClient(cli DockerAPI, logger *zerolog.Logger) *DockerSandbox {
	return &DockerSandbox{cli: cli, logger: logger}
}

type streamResult struct {
	out stream.Output
	err error
}

// Run executes cfg.Cmd in a fresh container and returns once the container has exited
// and been removed. When ctx ends first, the container is killed and removed before Run
// returns the context error.
func (s *DockerSandbox) Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	limits := cfg.Limits.withDefaults()
	mount := cfg.MountTarget
	if mount == "" {
		mount = DefaultMountTarget
	}
	pidsLimit := limits.PidsLimit

	createStart := time.Now()
	name := containerPrefix + uuid.NewString()

	// detached from ctx so a client-side timeout cannot orphan a container the daemon
	// goes on to create
	createCtx, cancelCreate := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancelCreate()

	// 1. Create container bound to the workspace
	resp, err := s.cli.ContainerCreate(createCtx, &container.Config{
		Image:           cfg.Image,
		Cmd:             cfg.Cmd,
		WorkingDir:      mount,
		Tty:             false,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}, &container.HostConfig{
		Binds:          []string{cfg.WorkspaceDir + ":" + mount + ":rw"},
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": tmpfsOptions,
		},
		Resources: container.Resources{
			Memory:     limits.MemoryBytes,
			MemorySwap: limits.MemoryBytes, // No swap allowed
			CPUPeriod:  limits.CPUPeriod,
			CPUQuota:   limits.CPUQuota,
			PidsLimit:  &pidsLimit,
		},
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
	}, nil, nil, name)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			// the daemon may have created it anyway
			s.remove(name)
		}
		return nil, &InfraError{Op: "create", Err: err}
	}
	defer s.remove(resp.ID)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("container %s: %w", shortID(resp.ID), ctx.Err())
	}

	log := s.logger.With().Str("container", shortID(resp.ID)).Str("image", cfg.Image).Logger()

	// 2. Start container
	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("container %s: %w", shortID(resp.ID), ctx.Err())
		}
		return nil, &InfraError{Op: "start", Err: err}
	}
	metrics.ContainerCreationTime.Observe(float64(time.Since(createStart).Milliseconds()))
	started := time.Now()
	log.Debug().Strs("cmd", cfg.Cmd).Msg("container started")

	// 3. Follow the combined log stream
	logs, err := s.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		s.kill(resp.ID, "attach")
		if ctx.Err() != nil {
			return nil, fmt.Errorf("container %s: %w", shortID(resp.ID), ctx.Err())
		}
		return nil, &InfraError{Op: "attach", Err: err}
	}
	defer logs.Close()

	streamDone := make(chan streamResult, 1)
	go func() {
		out, err := stream.Demultiplex(logs, limits.OutputLimit)
		streamDone <- streamResult{out: out, err: err}
	}()

	// 4. Wait for exit while the stream drains
	waitCh, waitErrCh := s.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)

	var (
		output   *stream.Output
		exitCode int64
		exited   bool
	)
	for output == nil || !exited {
		select {
		case res := <-streamDone:
			streamDone = nil
			if res.err != nil {
				switch {
				case errors.Is(res.err, stream.ErrOutputLimit):
					s.kill(resp.ID, "output_limit")
					log.Info().Int64("limit", limits.OutputLimit).Msg("container output limit exceeded")
					return nil, fmt.Errorf("container %s: %w", shortID(resp.ID), res.err)
				case ctx.Err() != nil:
					s.kill(resp.ID, "deadline")
					return nil, fmt.Errorf("container %s: %w", shortID(resp.ID), ctx.Err())
				default:
					s.kill(resp.ID, "stream_error")
					return nil, fmt.Errorf("failed to read container output: %w", res.err)
				}
			}
			out := res.out
			output = &out

		case w := <-waitCh:
			waitCh = nil
			if w.Error != nil && w.Error.Message != "" {
				return nil, &InfraError{Op: "wait", Err: errors.New(w.Error.Message)}
			}
			exitCode = w.StatusCode
			exited = true

		case err := <-waitErrCh:
			waitErrCh = nil
			if ctx.Err() != nil {
				s.kill(resp.ID, "deadline")
				return nil, fmt.Errorf("container %s: %w", shortID(resp.ID), ctx.Err())
			}
			return nil, &InfraError{Op: "wait", Err: err}

		case <-ctx.Done():
			s.kill(resp.ID, "deadline")
			log.Debug().Err(ctx.Err()).Msg("container deadline reached")
			return nil, fmt.Errorf("container %s: %w", shortID(resp.ID), ctx.Err())
		}
	}

	duration := time.Since(started)
	log.Debug().Int64("exit_code", exitCode).Dur("duration", duration).Msg("container exited")

	return &Result{
		Stdout:   output.Stdout,
		Stderr:   output.Stderr,
		ExitCode: int(exitCode),
		Duration: duration,
	}, nil
}

// kill stops a container that is still running. The deferred remove still runs after it.
func (s *DockerSandbox) kill(id, reason string) {
	metrics.ContainerKills.WithLabelValues(reason).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := s.cli.ContainerKill(ctx, id, "SIGKILL"); err != nil {
		// the container may already have exited
		s.logger.Debug().Err(err).Str("container", shortID(id)).Msg("container kill failed")
	}
}

func (s *DockerSandbox) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	err := s.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		metrics.ContainerRemoveFailures.Inc()
		s.logger.Warn().Err(err).Str("container", shortID(id)).Msg("container cleanup failed")
	}
}

func (s *DockerSandbox) EnsureImage(ctx context.Context, img string) error {
	_, _, err := s.cli.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return nil // Image already exists
	}

	s.logger.Info().Str("image", img).Msg("pulling docker image")
	reader, err := s.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	defer reader.Close()

	// Important: must consume the reader to finish the pull
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}

	s.logger.Info().Str("image", img).Msg("successfully pulled docker image")
	return nil
}

func (s *DockerSandbox) Ping(ctx context.Context) error {
	if _, err := s.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker engine unreachable: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
