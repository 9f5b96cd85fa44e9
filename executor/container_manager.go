package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"texengine/config"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	logrus "github.com/sirupsen/logrus"
)

const (
	containerWorkDir = "/work"
	containerPids    = int64(256)
	containerLabel   = "texengine.role"
)

// ContainerRunner runs each toolchain invocation in a throwaway container
// with no network, capped memory and CPU, and only the working area mounted.
type ContainerRunner struct {
	dockerClient *client.Client
	image        string
	memoryBytes  int64
	pollInterval time.Duration
	logger       *logrus.Logger
}

// NewContainerRunner connects to the Docker daemon from the environment.
func NewContainerRunner(cfg *config.Config, logger *logrus.Logger) (*ContainerRunner, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %v", err)
	}

	return &ContainerRunner{
		dockerClient: dockerClient,
		image:        cfg.ToolchainImage,
		memoryBytes:  int64(cfg.ContainerMemoryMB) * 1024 * 1024,
		pollInterval: cfg.PollInterval,
		logger:       logger,
	}, nil
}

func (r *ContainerRunner) containerSpec(c Command) (*container.Config, *container.HostConfig) {
	pids := containerPids
	cfg := &container.Config{
		Image:           r.image,
		Cmd:             append([]string{c.Program}, c.Args...),
		Env:             c.Env,
		WorkingDir:      containerWorkDir,
		User:            fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		NetworkDisabled: true,
		Tty:             false,
		Labels:          map[string]string{containerLabel: "toolchain"},
	}
	hostConfig := &container.HostConfig{
		Binds:          []string{c.Dir + ":" + containerWorkDir},
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Tmpfs:          map[string]string{"/tmp": "rw,size=64m"},
		Resources: container.Resources{
			Memory:    r.memoryBytes,
			NanoCPUs:  1000000000, // 1 CPU
			PidsLimit: &pids,
		},
	}
	return cfg, hostConfig
}

// Run creates, starts and polls a container for c, removing it afterwards.
func (r *ContainerRunner) Run(ctx context.Context, c Command) (*ProcessResult, error) {
	cfg, hostConfig := r.containerSpec(c)

	resp, err := r.dockerClient.ContainerCreate(ctx, cfg, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("%w: create container for %s: %v", ErrSpawnFailed, c.Program, err)
	}
	id := resp.ID
	defer r.removeContainer(id)

	start := time.Now()
	if err := r.dockerClient.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("%w: start container for %s: %v", ErrSpawnFailed, c.Program, err)
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			res := r.kill(id, c, start)
			return res, fmt.Errorf("%s interrupted: %w", c.Program, ctx.Err())
		case <-ticker.C:
		}

		info, err := r.dockerClient.ContainerInspect(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("inspect container %s: %w", shortID(id), err)
		}
		if info.ContainerJSONBase != nil && info.State != nil && !info.State.Running {
			res := &ProcessResult{ExitCode: info.State.ExitCode, Duration: time.Since(start)}
			res.Stdout, res.Stderr = r.collectLogs(id)
			r.logger.WithFields(logrus.Fields{
				"container": shortID(id),
				"tool":      c.Program,
				"exit_code": res.ExitCode,
				"duration":  res.Duration,
			}).Debug("Container finished")
			return res, nil
		}

		if c.Timeout > 0 && time.Since(start) > c.Timeout {
			res := r.kill(id, c, start)
			return res, fmt.Errorf("%w: %s after %v", ErrTimedOut, c.Program, c.Timeout)
		}
	}
}

func (r *ContainerRunner) kill(id string, c Command, start time.Time) *ProcessResult {
	ctx := context.Background()
	if err := r.dockerClient.ContainerKill(ctx, id, "KILL"); err != nil {
		r.logger.Printf("Failed to kill container %s: %v", shortID(id), err)
	}

	res := &ProcessResult{ExitCode: -1, Duration: time.Since(start), TimedOut: true}
	res.Stdout, res.Stderr = r.collectLogs(id)
	r.logger.WithFields(logrus.Fields{
		"container": shortID(id),
		"tool":      c.Program,
		"duration":  res.Duration,
	}).Warn("Execution timeout, container killed")
	return res
}

func (r *ContainerRunner) collectLogs(id string) (string, string) {
	rc, err := r.dockerClient.ContainerLogs(context.Background(), id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		r.logger.Printf("Failed to read logs of container %s: %v", shortID(id), err)
		return "", ""
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		r.logger.Printf("Failed to demultiplex logs of container %s: %v", shortID(id), err)
	}
	return stdout.String(), stderr.String()
}

// removeContainer safely removes a container
func (r *ContainerRunner) removeContainer(id string) {
	if err := r.dockerClient.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true}); err != nil {
		r.logger.Printf("Failed to remove container %s: %v", shortID(id), err)
	}
}

// RemoveStale force-removes toolchain containers a crashed run left behind.
func (r *ContainerRunner) RemoveStale(ctx context.Context) (int, error) {
	list, err := r.dockerClient.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", containerLabel+"=toolchain")),
	})
	if err != nil {
		return 0, fmt.Errorf("list containers: %w", err)
	}

	removed := 0
	for _, c := range list {
		if err := r.dockerClient.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			r.logger.Printf("Failed to remove container %s: %v", shortID(c.ID), err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Close releases the Docker client.
func (r *ContainerRunner) Close() error {
	return r.dockerClient.Close()
}

// shortID returns a shortened container ID for logging
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
