package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/auto-dns/ddns-sd/internal/engine"
	dockertypes "github.com/docker/docker/api/types"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	dockernetwork "github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeDockerClient struct {
	inspect  map[string]dockertypes.ContainerJSON
	listOut  []dockertypes.Container
	eventsCh chan events.Message
	errCh    chan error
}

func (f *fakeDockerClient) ContainerInspect(ctx context.Context, id string) (dockertypes.ContainerJSON, error) {
	info, ok := f.inspect[id]
	if !ok {
		return dockertypes.ContainerJSON{}, errdefs.NotFound(errors.New("no such container"))
	}
	return info, nil
}

func (f *fakeDockerClient) ContainerList(ctx context.Context, options dockercontainer.ListOptions) ([]dockertypes.Container, error) {
	return f.listOut, nil
}

func (f *fakeDockerClient) Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error) {
	return f.eventsCh, f.errCh
}

func TestGetMapsNotFoundToEngineErrNotFound(t *testing.T) {
	cli := &fakeDockerClient{inspect: map[string]dockertypes.ContainerJSON{}}
	w := NewDockerWatcher(cli, zerolog.Nop())

	_, err := w.Get(context.Background(), "missing")
	require.Error(t, err)
	require.True(t, errors.Is(err, engine.ErrNotFound))
}

func TestGetExtractsMetadataFromInspect(t *testing.T) {
	info := dockertypes.ContainerJSON{
		ContainerJSONBase: &dockertypes.ContainerJSONBase{
			ID:      "c1",
			Name:    "/web",
			Created: "2026-01-02T03:04:05Z",
		},
		Config: &dockercontainer.Config{
			Labels: map[string]string{"ddnssd.enable": "true"},
		},
		NetworkSettings: &dockertypes.NetworkSettings{
			Networks: map[string]*dockernetwork.EndpointSettings{
				"bridge": {IPAddress: "10.0.0.5", GlobalIPv6Address: "fd00::5"},
			},
		},
	}
	cli := &fakeDockerClient{inspect: map[string]dockertypes.ContainerJSON{"c1": info}}
	w := NewDockerWatcher(cli, zerolog.Nop())

	meta, err := w.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "web", meta.Name)
	require.Equal(t, "10.0.0.5", meta.IPv4)
	require.Equal(t, "fd00::5", meta.IPv6)
	require.Equal(t, "true", meta.Labels["ddnssd.enable"])
}

func TestListReturnsIDsOfRunningContainers(t *testing.T) {
	cli := &fakeDockerClient{listOut: []dockertypes.Container{{ID: "a"}, {ID: "b"}}}
	w := NewDockerWatcher(cli, zerolog.Nop())

	ids, err := w.List(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestSubscribeTranslatesLifecycleEvents(t *testing.T) {
	cli := &fakeDockerClient{
		eventsCh: make(chan events.Message, 8),
		errCh:    make(chan error, 1),
	}
	w := NewDockerWatcher(cli, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, err := w.Subscribe(ctx)
	require.NoError(t, err)

	cli.eventsCh <- events.Message{Action: "start", Actor: events.Actor{ID: "c1"}}
	cli.eventsCh <- events.Message{Action: "die", Actor: events.Actor{ID: "c1", Attributes: map[string]string{"exitCode": "137"}}}
	cli.eventsCh <- events.Message{Action: "health_status: healthy", Actor: events.Actor{ID: "c1"}}

	// EnvelopeID is a fresh random correlation id on every message, so
	// it is checked for presence and then left out of the comparison.
	started := recv(t, out)
	require.NotEmpty(t, started.EnvelopeID)
	started.EnvelopeID = ""
	require.Equal(t, engine.Message{Tag: engine.Started, ID: "c1"}, started)

	died := recv(t, out)
	require.NotEmpty(t, died.EnvelopeID)
	died.EnvelopeID = ""
	require.Equal(t, engine.Message{Tag: engine.Died, ID: "c1", ExitCode: 137}, died)
}

func recv(t *testing.T, ch <-chan engine.Message) engine.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return engine.Message{}
	}
}
