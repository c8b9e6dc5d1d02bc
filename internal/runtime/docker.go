package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/tlsconfig"
	"github.com/rs/zerolog"
)

const defaultAPITimeout = 10 * time.Second

// ServiceLabel marks a container as backing a managed platform service.
// The label value is the service name from the manifest.
const ServiceLabel = "warden.service"

// ErrNoContainer reports that no container backs the requested service.
var ErrNoContainer = errors.New("runtime: no container found for service")

// dockerAPI defines the subset of Docker client operations used by
// DockerRuntime. This interface enables unit testing without a real
// Docker daemon.
type dockerAPI interface {
	Ping(ctx context.Context) (dockertypes.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]dockertypes.Container, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerInspect(ctx context.Context, containerID string) (dockertypes.ContainerJSON, error)
	Close() error
}

// Ensure the official Docker client satisfies our interface at compile time.
var _ dockerAPI = (*client.Client)(nil)

// TLSConfig carries optional TLS material for the Docker API connection.
type TLSConfig struct {
	CAFile   string
	CertFile string
	KeyFile  string
}

func (c TLSConfig) enabled() bool {
	return c.CAFile != "" || c.CertFile != "" || c.KeyFile != ""
}

// DockerRuntime implements Runtime using the official Docker Go SDK.
// Containers are located by the warden.service label, falling back to
// the container name.
type DockerRuntime struct {
	api     dockerAPI
	timeout time.Duration
	logger  zerolog.Logger
}

// NewDockerRuntime initializes a runtime for the given Docker API host.
// An empty host uses the SDK defaults (DOCKER_HOST or the local socket).
func NewDockerRuntime(host string, timeout time.Duration, tls TLSConfig, logger zerolog.Logger) (*DockerRuntime, error) {
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}

	httpClient := &http.Client{Timeout: timeout}
	if tls.enabled() {
		tlsClientConfig, err := tlsconfig.Client(tlsconfig.Options{
			CAFile:   tls.CAFile,
			CertFile: tls.CertFile,
			KeyFile:  tls.KeyFile,
		})
		if err != nil {
			return nil, fmt.Errorf("configure docker tls: %w", err)
		}
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsClientConfig}
	}

	opts := []client.Opt{
		client.WithAPIVersionNegotiation(),
		client.WithHTTPClient(httpClient),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}

	return &DockerRuntime{
		api:     api,
		timeout: timeout,
		logger:  logger.With().Str("component", "runtime").Logger(),
	}, nil
}

// Ping validates connectivity to the Docker daemon.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	if r == nil || r.api == nil {
		return errors.New("docker runtime is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.api.Ping(ctx)
	return err
}

// StartService starts the container backing the named service.
func (r *DockerRuntime) StartService(ctx context.Context, service string) error {
	id, err := r.findContainer(ctx, service)
	if err != nil {
		return err
	}

	if err := r.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("start %s: %w", service, err)
	}
	r.logger.Debug().Str("service", service).Str("container", id).Msg("container started")
	return nil
}

// StopService stops the container backing the named service, giving it
// the runtime timeout to exit cleanly.
func (r *DockerRuntime) StopService(ctx context.Context, service string) error {
	id, err := r.findContainer(ctx, service)
	if err != nil {
		return err
	}

	seconds := int(r.timeout.Seconds())
	if err := r.api.ContainerStop(ctx, id, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("stop %s: %w", service, err)
	}
	r.logger.Debug().Str("service", service).Str("container", id).Msg("container stopped")
	return nil
}

// ServiceRunning reports whether the named service's container is running.
func (r *DockerRuntime) ServiceRunning(ctx context.Context, service string) (bool, error) {
	id, err := r.findContainer(ctx, service)
	if err != nil {
		return false, err
	}

	inspected, err := r.api.ContainerInspect(ctx, id)
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", service, err)
	}
	running := inspected.ContainerJSONBase != nil &&
		inspected.State != nil &&
		inspected.State.Running
	return running, nil
}

// Close releases the underlying API client.
func (r *DockerRuntime) Close() error {
	if r == nil || r.api == nil {
		return nil
	}
	return r.api.Close()
}

// findContainer resolves the container for a service, preferring the
// warden.service label and falling back to a name match.
func (r *DockerRuntime) findContainer(ctx context.Context, service string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	byLabel := filters.NewArgs(filters.Arg("label", ServiceLabel+"="+service))
	containers, err := r.api.ContainerList(ctx, container.ListOptions{All: true, Filters: byLabel})
	if err != nil {
		return "", fmt.Errorf("list containers for %s: %w", service, err)
	}
	if len(containers) == 0 {
		byName := filters.NewArgs(filters.Arg("name", service))
		containers, err = r.api.ContainerList(ctx, container.ListOptions{All: true, Filters: byName})
		if err != nil {
			return "", fmt.Errorf("list containers for %s: %w", service, err)
		}
	}
	if len(containers) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoContainer, service)
	}
	if len(containers) > 1 {
		r.logger.Warn().
			Str("service", service).
			Int("count", len(containers)).
			Msg("multiple containers match service, using first")
	}
	return containers[0].ID, nil
}
