package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/rs/zerolog"
)

type fakeDockerAPI struct {
	labelContainers []dockertypes.Container
	nameContainers  []dockertypes.Container
	listErr         error
	startErr        error
	stopErr         error
	inspected       dockertypes.ContainerJSON
	inspectErr      error
	pingErr         error

	started     []string
	stopped     []string
	stopTimeout *int
}

func (f *fakeDockerAPI) Ping(context.Context) (dockertypes.Ping, error) {
	return dockertypes.Ping{}, f.pingErr
}

func (f *fakeDockerAPI) ContainerList(_ context.Context, options container.ListOptions) ([]dockertypes.Container, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(options.Filters.Get("label")) > 0 {
		return f.labelContainers, nil
	}
	return f.nameContainers, nil
}

func (f *fakeDockerAPI) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeDockerAPI) ContainerStop(_ context.Context, id string, options container.StopOptions) error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, id)
	f.stopTimeout = options.Timeout
	return nil
}

func (f *fakeDockerAPI) ContainerInspect(context.Context, string) (dockertypes.ContainerJSON, error) {
	return f.inspected, f.inspectErr
}

func (f *fakeDockerAPI) Close() error { return nil }

func newTestRuntime(api dockerAPI) *DockerRuntime {
	return &DockerRuntime{api: api, timeout: 5 * time.Second, logger: zerolog.Nop()}
}

func TestDockerRuntime_StartServiceByLabel(t *testing.T) {
	api := &fakeDockerAPI{
		labelContainers: []dockertypes.Container{{ID: "abc123"}},
	}
	rt := newTestRuntime(api)

	if err := rt.StartService(context.Background(), "postgres"); err != nil {
		t.Fatalf("StartService: %v", err)
	}
	if len(api.started) != 1 || api.started[0] != "abc123" {
		t.Fatalf("started = %v", api.started)
	}
}

func TestDockerRuntime_FindContainerFallsBackToName(t *testing.T) {
	api := &fakeDockerAPI{
		nameContainers: []dockertypes.Container{{ID: "def456"}},
	}
	rt := newTestRuntime(api)

	if err := rt.StartService(context.Background(), "redis"); err != nil {
		t.Fatalf("StartService: %v", err)
	}
	if len(api.started) != 1 || api.started[0] != "def456" {
		t.Fatalf("started = %v", api.started)
	}
}

func TestDockerRuntime_NoContainer(t *testing.T) {
	rt := newTestRuntime(&fakeDockerAPI{})

	err := rt.StartService(context.Background(), "ghost")
	if !errors.Is(err, ErrNoContainer) {
		t.Fatalf("StartService error = %v, want ErrNoContainer", err)
	}
}

func TestDockerRuntime_StopServicePassesTimeout(t *testing.T) {
	api := &fakeDockerAPI{
		labelContainers: []dockertypes.Container{{ID: "abc123"}},
	}
	rt := newTestRuntime(api)

	if err := rt.StopService(context.Background(), "postgres"); err != nil {
		t.Fatalf("StopService: %v", err)
	}
	if len(api.stopped) != 1 || api.stopped[0] != "abc123" {
		t.Fatalf("stopped = %v", api.stopped)
	}
	if api.stopTimeout == nil || *api.stopTimeout != 5 {
		t.Fatalf("stop timeout = %v, want 5", api.stopTimeout)
	}
}

func TestDockerRuntime_ServiceRunning(t *testing.T) {
	cases := []struct {
		name    string
		running bool
	}{
		{name: "running", running: true},
		{name: "stopped", running: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeDockerAPI{
				labelContainers: []dockertypes.Container{{ID: "abc123"}},
				inspected: dockertypes.ContainerJSON{
					ContainerJSONBase: &dockertypes.ContainerJSONBase{
						State: &dockertypes.ContainerState{Running: tc.running},
					},
				},
			}
			rt := newTestRuntime(api)

			running, err := rt.ServiceRunning(context.Background(), "postgres")
			if err != nil {
				t.Fatalf("ServiceRunning: %v", err)
			}
			if running != tc.running {
				t.Fatalf("ServiceRunning = %v, want %v", running, tc.running)
			}
		})
	}
}

func TestDockerRuntime_ListError(t *testing.T) {
	rt := newTestRuntime(&fakeDockerAPI{listErr: errors.New("daemon unavailable")})

	if _, err := rt.ServiceRunning(context.Background(), "postgres"); err == nil {
		t.Fatal("expected list error to propagate")
	}
}

func TestDockerRuntime_PingNotInitialized(t *testing.T) {
	var rt *DockerRuntime
	if err := rt.Ping(context.Background()); err == nil {
		t.Fatal("expected error for uninitialized runtime")
	}
}

func TestNopRuntime(t *testing.T) {
	var rt Runtime = NopRuntime{}

	if err := rt.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := rt.StartService(context.Background(), "postgres"); err != nil {
		t.Fatalf("StartService: %v", err)
	}
	running, err := rt.ServiceRunning(context.Background(), "postgres")
	if err != nil || !running {
		t.Fatalf("ServiceRunning = %v, %v", running, err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
