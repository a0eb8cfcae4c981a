package docker

import (
	"context"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// engine is the subset of the Docker API the orchestrator uses.
type engine interface {
	inspect(ctx context.Context, name string) (container.InspectResponse, error)
	create(ctx context.Context, cfg *container.Config, host *container.HostConfig, name string) (string, error)
	start(ctx context.Context, id string) error
	list(ctx context.Context, opts container.ListOptions) ([]container.Summary, error)
	logs(ctx context.Context, name string, opts container.LogsOptions) (io.ReadCloser, error)
	remove(ctx context.Context, id string) error
	ping(ctx context.Context) error
	close() error
}

// requestTimeout bounds every daemon call; none of them stream.
const requestTimeout = 30 * time.Second

type clientEngine struct {
	c *client.Client
}

func newClientEngine() (*clientEngine, error) {
	c, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
		client.WithTimeout(requestTimeout),
	)
	if err != nil {
		return nil, err
	}
	return &clientEngine{c: c}, nil
}

func (e *clientEngine) inspect(ctx context.Context, name string) (container.InspectResponse, error) {
	return e.c.ContainerInspect(ctx, name)
}

func (e *clientEngine) create(ctx context.Context, cfg *container.Config, host *container.HostConfig, name string) (string, error) {
	resp, err := e.c.ContainerCreate(ctx, cfg, host, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (e *clientEngine) start(ctx context.Context, id string) error {
	return e.c.ContainerStart(ctx, id, container.StartOptions{})
}

func (e *clientEngine) list(ctx context.Context, opts container.ListOptions) ([]container.Summary, error) {
	return e.c.ContainerList(ctx, opts)
}

func (e *clientEngine) logs(ctx context.Context, name string, opts container.LogsOptions) (io.ReadCloser, error) {
	return e.c.ContainerLogs(ctx, name, opts)
}

func (e *clientEngine) remove(ctx context.Context, id string) error {
	return e.c.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (e *clientEngine) ping(ctx context.Context) error {
	_, err := e.c.Ping(ctx)
	return err
}

func (e *clientEngine) close() error {
	return e.c.Close()
}
