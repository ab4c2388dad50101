// Package engine implements the single-threaded event loop ("System")
// that owns the container map and drives the configured backends. Its
// select-loop generalizes a sync engine's fixed start/stop/die switch
// and ticker-only reconciliation trigger into a tagged Message dispatch
// with on-demand reconcile_all/suppress_all/terminate control messages.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/auto-dns/ddns-sd/internal/backend"
	"github.com/auto-dns/ddns-sd/internal/container"
	"github.com/auto-dns/ddns-sd/internal/dnsrecord"
	"github.com/auto-dns/ddns-sd/internal/metrics"
	"github.com/auto-dns/ddns-sd/internal/reconciler"
	"github.com/rs/zerolog"
)

// Runtime is the narrow container-runtime query surface the engine
// needs: get metadata for one container, and list every currently live
// container ID. Implemented by internal/runtime.
type Runtime interface {
	Get(ctx context.Context, id string) (container.Metadata, error)
	List(ctx context.Context) ([]string, error)
}

// Watcher delivers the lifecycle event stream that feeds the queue.
// Implemented by internal/runtime.
type Watcher interface {
	Subscribe(ctx context.Context) (<-chan Message, error)
}

// Locker serializes a reconciliation pass across every daemon instance
// sharing a backend. Implemented by internal/lock.EtcdLock; nil means
// no cross-instance coordination is configured.
type Locker interface {
	Run(ctx context.Context, key string, fn func() error) error
}

// Engine is the single-consumer dispatcher that owns the container map.
// Only Run's goroutine mutates containers; Enqueue is safe to call
// concurrently from the watcher.
type Engine struct {
	logger   zerolog.Logger
	runtime  Runtime
	watcher  Watcher
	backends []backend.Backend
	caps     container.Capabilities
	host     *dnsrecord.DNSRecord

	containers *container.Map
	queue      chan Message
	locker     Locker
}

// SetLocker installs an optional cross-instance reconciliation lock.
func (e *Engine) SetLocker(l Locker) { e.locker = l }

// New constructs an Engine. queueSize bounds the event queue.
func New(logger zerolog.Logger, rt Runtime, watcher Watcher, backends []backend.Backend, caps container.Capabilities, host *dnsrecord.DNSRecord, queueSize int) *Engine {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Engine{
		logger:     logger,
		runtime:    rt,
		watcher:    watcher,
		backends:   backends,
		caps:       caps,
		host:       host,
		containers: container.NewMap(),
		queue:      make(chan Message, queueSize),
	}
}

// Enqueue appends msg to the event queue, blocking if it is full,
// until ctx is cancelled.
func (e *Engine) Enqueue(ctx context.Context, msg Message) error {
	select {
	case e.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run subscribes to the watcher, prepopulates the container map from a
// full runtime enumeration, drains any events that raced ahead of that
// enumeration, then dispatches messages until Terminate or ctx is
// cancelled. Follows a subscribe → prepopulate → bounded drain →
// goroutine sequencing, adapted so prepopulation reuses the same
// rebuild routine reconcile_all uses, rather than a separate one-off
// listing call.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().Msg("engine: starting")

	eventCh, err := e.watcher.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("engine: subscribe to runtime events: %w", err)
	}

	e.logger.Info().Msg("engine: prepopulating container map from runtime")
	if err := e.rebuildFromRuntime(ctx); err != nil {
		e.logger.Error().Err(err).Msg("engine: prepopulation failed, continuing with an empty map")
	}

	e.logger.Info().Msg("engine: draining events that raced ahead of prepopulation")
	drainTimeout := time.After(500 * time.Millisecond)
drain:
	for {
		select {
		case msg, ok := <-eventCh:
			if !ok {
				break drain
			}
			if err := e.dispatch(ctx, msg); err != nil {
				return err
			}
		case <-drainTimeout:
			break drain
		}
	}

	go e.forward(ctx, eventCh)

	if err := e.Enqueue(ctx, NewReconcileAll()); err != nil {
		return err
	}

	for {
		select {
		case msg := <-e.queue:
			terminate, err := e.dispatchTerminating(ctx, msg)
			if err != nil {
				return err
			}
			if terminate {
				e.logger.Info().Msg("engine: terminating")
				return nil
			}
			continue
		default:
		}

		for _, b := range e.backends {
			b.Rest(ctx)
		}

		select {
		case msg := <-e.queue:
			terminate, err := e.dispatchTerminating(ctx, msg)
			if err != nil {
				return err
			}
			if terminate {
				e.logger.Info().Msg("engine: terminating")
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// forward relays watcher events into the internal queue so that all
// dispatch happens from Run's single goroutine.
func (e *Engine) forward(ctx context.Context, eventCh <-chan Message) {
	for {
		select {
		case msg, ok := <-eventCh:
			if !ok {
				return
			}
			if err := e.Enqueue(ctx, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) dispatchTerminating(ctx context.Context, msg Message) (terminate bool, err error) {
	if msg.Tag == Terminate {
		return true, nil
	}
	return false, e.dispatch(ctx, msg)
}

func (e *Engine) dispatch(ctx context.Context, msg Message) error {
	metrics.EventsTotal.WithLabelValues(string(msg.Tag)).Inc()
	e.logger.Debug().Str("envelope_id", msg.EnvelopeID).Str("tag", string(msg.Tag)).Str("id", msg.ID).Msg("engine: dispatching message")
	switch msg.Tag {
	case Started:
		return e.handleStarted(ctx, msg.ID)
	case Stopped:
		e.handleStopped(msg.ID)
	case Died:
		return e.handleDied(ctx, msg.ID, msg.ExitCode)
	case Removed:
		return e.handleRemoved(ctx, msg.ID)
	case ReconcileAll:
		return e.handleReconcileAll(ctx)
	case SuppressAll:
		return e.handleSuppressAll(ctx)
	case Terminate:
		// handled by dispatchTerminating before reaching here.
	default:
		e.logger.Error().Str("tag", string(msg.Tag)).Msg("engine: bug: unknown message tag, please report")
	}
	return nil
}

func (e *Engine) handleStarted(ctx context.Context, id string) error {
	meta, err := e.runtime.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.logger.Warn().Str("id", id).Msg("engine: started event for unknown container, dropping")
			return nil
		}
		e.logger.Warn().Err(err).Str("id", id).Msg("engine: failed to fetch metadata for started container, dropping")
		return nil
	}

	if existing, ok := e.containers.Get(id); ok && existing.Crashed {
		e.logger.Info().Str("id", id).Msg("engine: restart after crash, suppressing stale generation")
		if err := e.forEachBackend(func(b backend.Backend) error {
			return existing.SuppressRecords(func(rr dnsrecord.DNSRecord) error {
				err := b.SuppressRecord(ctx, rr)
				metrics.BackendOperationsTotal.WithLabelValues(b.Name(), "suppress", metrics.Result(err)).Inc()
				return err
			})
		}, "suppress stale generation on restart"); err != nil {
			return err
		}
	}

	c := container.New(meta, e.caps)
	e.containers.Set(c)
	metrics.TrackedContainers.Set(float64(e.containers.Len()))
	return e.forEachBackend(func(b backend.Backend) error {
		return c.PublishRecords(func(rr dnsrecord.DNSRecord) error {
			err := b.PublishRecord(ctx, rr)
			metrics.BackendOperationsTotal.WithLabelValues(b.Name(), "publish", metrics.Result(err)).Inc()
			return err
		})
	}, "publish records for started container")
}

func (e *Engine) handleStopped(id string) {
	c, ok := e.containers.Get(id)
	if !ok {
		e.logger.Warn().Str("id", id).Msg("engine: stopped event for untracked container, dropping")
		return
	}
	c.Stopped = true
}

func (e *Engine) handleDied(ctx context.Context, id string, exitCode int) error {
	c, ok := e.containers.Get(id)
	if !ok {
		e.logger.Warn().Str("id", id).Msg("engine: died event for untracked container, dropping")
		return nil
	}
	if exitCode == 0 || c.Stopped {
		err := e.forEachBackend(func(b backend.Backend) error {
			return c.SuppressRecords(func(rr dnsrecord.DNSRecord) error {
				err := b.SuppressRecord(ctx, rr)
				metrics.BackendOperationsTotal.WithLabelValues(b.Name(), "suppress", metrics.Result(err)).Inc()
				return err
			})
		}, "suppress records for cleanly-died container")
		e.containers.Delete(id)
		metrics.TrackedContainers.Set(float64(e.containers.Len()))
		return err
	}
	c.Crashed = true
	return nil
}

func (e *Engine) handleRemoved(ctx context.Context, id string) error {
	c, ok := e.containers.Get(id)
	if !ok {
		e.logger.Warn().Str("id", id).Msg("engine: removed event for untracked container, dropping")
		return nil
	}
	err := e.forEachBackend(func(b backend.Backend) error {
		return c.SuppressRecords(func(rr dnsrecord.DNSRecord) error {
			err := b.SuppressRecord(ctx, rr)
			metrics.BackendOperationsTotal.WithLabelValues(b.Name(), "suppress", metrics.Result(err)).Inc()
			return err
		})
	}, "suppress records for removed container")
	e.containers.Delete(id)
	metrics.TrackedContainers.Set(float64(e.containers.Len()))
	return err
}

func (e *Engine) handleReconcileAll(ctx context.Context) error {
	run := func() error {
		if err := e.rebuildFromRuntime(ctx); err != nil {
			e.logger.Error().Err(err).Msg("engine: reconcile_all: rebuild from runtime failed")
		}
		for _, b := range e.backends {
			if err := reconciler.Reconcile(ctx, b, e.containers.All(), e.host, e.caps.HostFQDN, e.logger); err != nil {
				metrics.ReconcileErrorsTotal.WithLabelValues(b.Name()).Inc()
				if errors.Is(err, backend.ErrFatal) {
					return fmt.Errorf("engine: reconcile_all: %w", err)
				}
				e.logger.Error().Err(err).Str("backend", b.Name()).Msg("engine: reconcile pass aborted, will retry next cycle")
			}
		}
		return nil
	}

	if e.locker == nil {
		return run()
	}
	if err := e.locker.Run(ctx, "reconcile_all", run); err != nil {
		return fmt.Errorf("engine: reconcile_all: %w", err)
	}
	return nil
}

func (e *Engine) handleSuppressAll(ctx context.Context) error {
	var fatal error
	for _, b := range e.backends {
		for _, c := range e.containers.All() {
			err := c.SuppressRecords(func(rr dnsrecord.DNSRecord) error {
				err := b.SuppressRecord(ctx, rr)
				metrics.BackendOperationsTotal.WithLabelValues(b.Name(), "suppress", metrics.Result(err)).Inc()
				return err
			})
			if err != nil {
				if errors.Is(err, backend.ErrFatal) {
					e.logger.Error().Err(err).Str("backend", b.Name()).Str("id", c.ID).Msg("engine: suppress_all: fatal backend error")
					if fatal == nil {
						fatal = fmt.Errorf("engine: suppress_all: %w", err)
					}
					continue
				}
				e.logger.Warn().Err(err).Str("backend", b.Name()).Str("id", c.ID).Msg("engine: suppress_all: failed to suppress container records")
			}
		}
		if err := b.SuppressSharedRecords(ctx, e.caps.BaseDomain); err != nil {
			if errors.Is(err, backend.ErrFatal) {
				e.logger.Error().Err(err).Str("backend", b.Name()).Msg("engine: suppress_all: fatal backend error")
				if fatal == nil {
					fatal = fmt.Errorf("engine: suppress_all: %w", err)
				}
				continue
			}
			e.logger.Warn().Err(err).Str("backend", b.Name()).Msg("engine: suppress_all: failed to suppress shared records")
		}
	}
	e.containers = container.NewMap()
	metrics.TrackedContainers.Set(0)
	return fatal
}

// rebuildFromRuntime fully enumerates live containers and refreshes
// their metadata. Containers currently marked Crashed are carried
// forward rather than dropped: a crashed container has already exited,
// so it never appears in a live-container listing, but its records
// must stay published until the next started event for the same ID
// replaces them.
func (e *Engine) rebuildFromRuntime(ctx context.Context) error {
	ids, err := e.runtime.List(ctx)
	if err != nil {
		return fmt.Errorf("list live containers: %w", err)
	}

	fresh := container.NewMap()
	for _, c := range e.containers.All() {
		if c.Crashed {
			fresh.Set(c)
		}
	}
	for _, id := range ids {
		meta, err := e.runtime.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // vanished between listing and fetching; drop silently
			}
			e.logger.Warn().Err(err).Str("id", id).Msg("engine: failed to fetch metadata during rebuild, dropping")
			continue
		}
		fresh.Set(container.New(meta, e.caps))
	}
	e.containers = fresh
	metrics.TrackedContainers.Set(float64(e.containers.Len()))
	return nil
}

// forEachBackend runs fn against every backend, logging a per-backend
// failure as a warning and continuing. A FATAL error is logged at
// error level and, after every backend has been given a chance to run,
// returned so callers propagate it up to Run and exit non-zero rather
// than looping forever against an unreachable backend.
func (e *Engine) forEachBackend(fn func(backend.Backend) error, action string) error {
	var fatal error
	for _, b := range e.backends {
		if err := fn(b); err != nil {
			if errors.Is(err, backend.ErrFatal) {
				e.logger.Error().Err(err).Str("backend", b.Name()).Msg("engine: " + action)
				if fatal == nil {
					fatal = fmt.Errorf("engine: %s: %w", action, err)
				}
				continue
			}
			e.logger.Warn().Err(err).Str("backend", b.Name()).Msg("engine: " + action)
		}
	}
	return fatal
}
