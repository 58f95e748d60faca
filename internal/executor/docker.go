package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/ajlab/ojd/internal/common/config"
	"github.com/ajlab/ojd/internal/common/logger"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"go.uber.org/zap"
)

// DockerClient is the thin docker SDK wrapper used when an agent's
// Runtime is "docker": the agent host binary runs inside a
// container instead of as a local subprocess, with the workspace and
// its coop.sock directory bind-mounted in.
type DockerClient struct {
	cli *client.Client
	log *logger.Logger
	cfg config.DockerConfig
}

// NewDockerClient dials the local docker daemon. Returns (nil, nil) when
// docker is disabled in config, so callers can pass the result straight
// into executor.New without a separate enabled check.
func NewDockerClient(cfg config.DockerConfig, log *logger.Logger) (*DockerClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker: new client: %w", err)
	}
	log.Info("docker client created", zap.String("host", cfg.Host))
	return &DockerClient{cli: cli, log: log.Named("docker"), cfg: cfg}, nil
}

// ContainerSpec describes an agent host container.
type ContainerSpec struct {
	Name    string
	Image   string
	Cmd     []string
	Env     []string
	Mounts  []BindMount
	Labels  map[string]string
}

// BindMount is a host-path to container-path bind mount.
type BindMount struct {
	Source string
	Target string
}

// Run creates, starts, and returns the container id. The container is
// created with AutoRemove, so Docker removes it once it exits; Stop
// stops and removes one that is still running.
func (d *DockerClient) Run(ctx context.Context, spec ContainerSpec) (string, error) {
	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: m.Source, Target: m.Target})
	}

	containerCfg := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Cmd,
		Env:    spec.Env,
		Labels: spec.Labels,
	}
	hostCfg := &container.HostConfig{Mounts: mounts, AutoRemove: true}

	resp, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("docker: create %s: %w", spec.Name, err)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("docker: start %s: %w", spec.Name, err)
	}
	d.log.Info("container started", zap.String("id", resp.ID), zap.String("name", spec.Name))
	return resp.ID, nil
}

// Stop stops then removes a container, tolerating "already gone".
func (d *DockerClient) Stop(ctx context.Context, containerID string) error {
	timeout := 10
	_ = d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	return d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// Kill sends SIGKILL directly, for the fire-and-forget KillAgent path.
func (d *DockerClient) Kill(ctx context.Context, containerID string) error {
	return d.cli.ContainerKill(ctx, containerID, "SIGKILL")
}

// Ping verifies the daemon connection at startup.
func (d *DockerClient) Ping(ctx context.Context) error {
	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := d.cli.Ping(c)
	return err
}
