// Package runtime adapts the Docker Engine API to the engine.Runtime
// and engine.Watcher interfaces: DockerWatcher turns the container
// lifecycle event stream into engine.Message values, and the same type
// answers point lookups and full enumerations the engine needs to
// rebuild its container map.
package runtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/auto-dns/ddns-sd/internal/container"
	"github.com/auto-dns/ddns-sd/internal/engine"
	dockertypes "github.com/docker/docker/api/types"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/errdefs"
	"github.com/rs/zerolog"
)

// dockerClient is the narrow surface DockerWatcher needs from
// *client.Client, making it substitutable in tests.
type dockerClient interface {
	ContainerInspect(ctx context.Context, id string) (dockertypes.ContainerJSON, error)
	ContainerList(ctx context.Context, options dockercontainer.ListOptions) ([]dockertypes.Container, error)
	Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error)
}

// DockerWatcher implements engine.Runtime and engine.Watcher over a
// Docker Engine API client.
type DockerWatcher struct {
	cli    dockerClient
	logger zerolog.Logger
}

func NewDockerWatcher(cli dockerClient, logger zerolog.Logger) *DockerWatcher {
	return &DockerWatcher{cli: cli, logger: logger}
}

// Get fetches a single container's metadata, mapping a Docker 404 to
// engine.ErrNotFound so callers can drop stale IDs without treating it
// as a hard failure.
func (w *DockerWatcher) Get(ctx context.Context, id string) (container.Metadata, error) {
	info, err := w.cli.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return container.Metadata{}, fmt.Errorf("runtime: inspect %s: %w", id, engine.ErrNotFound)
		}
		return container.Metadata{}, fmt.Errorf("runtime: inspect %s: %w", id, err)
	}
	return fromContainerJSON(info), nil
}

// List returns the IDs of every currently running container.
func (w *DockerWatcher) List(ctx context.Context) ([]string, error) {
	summaries, err := w.cli.ContainerList(ctx, dockercontainer.ListOptions{All: false})
	if err != nil {
		return nil, fmt.Errorf("runtime: list containers: %w", err)
	}
	ids := make([]string, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

// Subscribe streams start/stop/die/destroy events as engine.Message
// values. It never emits an initial enumeration itself: the engine
// prepopulates its container map via List/Get before this channel's
// events are dispatched.
func (w *DockerWatcher) Subscribe(ctx context.Context) (<-chan engine.Message, error) {
	out := make(chan engine.Message, 100)

	filterArgs := filters.NewArgs()
	filterArgs.Add("type", "container")
	filterArgs.Add("event", "start")
	filterArgs.Add("event", "stop")
	filterArgs.Add("event", "die")
	filterArgs.Add("event", "destroy")

	eventCh, errCh := w.cli.Events(ctx, events.ListOptions{
		Filters: filterArgs,
		Since:   time.Now().Format(time.RFC3339Nano),
	})

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errCh:
				if ok && err != nil {
					w.logger.Error().Err(err).Msg("runtime: error from docker events stream")
				}
			case msg, ok := <-eventCh:
				if !ok {
					w.logger.Info().Msg("runtime: docker events channel closed")
					return
				}
				m, ok := toMessage(msg)
				if !ok {
					continue
				}
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func toMessage(msg events.Message) (engine.Message, bool) {
	switch msg.Action {
	case "start":
		return engine.NewStarted(msg.Actor.ID), true
	case "stop":
		return engine.NewStopped(msg.Actor.ID), true
	case "die":
		return engine.NewDied(msg.Actor.ID, exitCodeOf(msg)), true
	case "destroy":
		return engine.NewRemoved(msg.Actor.ID), true
	default:
		return engine.Message{}, false
	}
}

func exitCodeOf(msg events.Message) int {
	code, err := strconv.Atoi(msg.Actor.Attributes["exitCode"])
	if err != nil {
		return 0
	}
	return code
}

func fromContainerJSON(info dockertypes.ContainerJSON) container.Metadata {
	name := strings.TrimPrefix(info.Name, "/")
	created, err := time.Parse(time.RFC3339Nano, info.Created)
	if err != nil {
		created = time.Time{}
	}

	var ipv4, ipv6 string
	if info.NetworkSettings != nil {
		for _, net := range info.NetworkSettings.Networks {
			if ipv4 == "" && net.IPAddress != "" {
				ipv4 = net.IPAddress
			}
			if ipv6 == "" && net.GlobalIPv6Address != "" {
				ipv6 = net.GlobalIPv6Address
			}
		}
	}

	var labels map[string]string
	if info.Config != nil {
		labels = info.Config.Labels
	}

	return container.Metadata{
		ID:      info.ID,
		Name:    name,
		Created: created,
		IPv4:    ipv4,
		IPv6:    ipv6,
		Labels:  labels,
	}
}
