package runtime

import (
	"context"
	"errors"
	"sync"

	"github.com/justapithecus/fedrun/log"
	"github.com/justapithecus/fedrun/metrics"
	"github.com/justapithecus/fedrun/types"
)

// Observer receives load events. Errors are logged and counted, never
// returned to the importing caller.
type Observer interface {
	Observe(ctx context.Context, event *types.LoadEvent) error
	Close() error
}

// eventBuffer bounds events queued for observers before emit blocks.
const eventBuffer = 256

// dispatcher delivers events to observers on one goroutine, in emit order.
type dispatcher struct {
	mu        sync.RWMutex
	closed    bool
	events    chan *types.LoadEvent
	done      chan struct{}
	observers []Observer
	logger    *log.Logger
	metrics   *metrics.Collector
}

func newDispatcher(observers []Observer, logger *log.Logger, m *metrics.Collector) *dispatcher {
	d := &dispatcher{
		events:    make(chan *types.LoadEvent, eventBuffer),
		done:      make(chan struct{}),
		observers: observers,
		logger:    logger,
		metrics:   m,
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	ctx := context.Background()
	for ev := range d.events {
		for _, o := range d.observers {
			if err := o.Observe(ctx, ev); err != nil {
				d.metrics.IncObserverFailure()
				d.logger.Warn("observer failed", map[string]any{
					"event_type": string(ev.Type),
					"chunk":      string(ev.ChunkID),
					"error":      err.Error(),
				})
			}
		}
	}
}

// emit queues ev. Events emitted after close are dropped.
func (d *dispatcher) emit(ev *types.LoadEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	d.events <- ev
}

// close drains queued events and closes every observer.
func (d *dispatcher) close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()

	<-d.done

	var errs []error
	for _, o := range d.observers {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ObserverFunc adapts a function to Observer. Close is a no-op.
type ObserverFunc func(ctx context.Context, event *types.LoadEvent) error

// Observe calls f(ctx, event).
func (f ObserverFunc) Observe(ctx context.Context, event *types.LoadEvent) error {
	return f(ctx, event)
}

// Close implements Observer.
func (f ObserverFunc) Close() error { return nil }
