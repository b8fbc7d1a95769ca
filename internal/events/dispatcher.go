package events

import (
	"context"
	"errors"

	"options_ledger/internal/core"
	"options_ledger/pkg/concurrency"
	"options_ledger/pkg/telemetry"
)

// Sink receives every dispatched event
type Sink func(evt core.Event)

// Dispatcher implements core.IEventPublisher. Publish never blocks the caller; events
// are handed to a bounded worker pool and dropped, with a metric, when it is full.
type Dispatcher struct {
	pool   *concurrency.WorkerPool
	sinks  []Sink
	logger core.ILogger
}

// NewDispatcher creates a dispatcher delivering to hub (may be nil) and any extra sinks
func NewDispatcher(hub *Hub, workers, buffer int, logger core.ILogger, sinks ...Sink) *Dispatcher {
	d := &Dispatcher{
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "events",
			MaxWorkers:  workers,
			MaxCapacity: buffer,
			NonBlocking: true,
		}, logger),
		logger: logger.WithField("component", "event_dispatcher"),
	}
	if hub != nil {
		d.sinks = append(d.sinks, func(evt core.Event) {
			if !hub.Broadcast(Message{Type: evt.Type, Data: evt}) {
				telemetry.GetGlobalMetrics().RecordEventDropped(context.Background(), evt.Type)
			}
		})
	}
	d.sinks = append(d.sinks, sinks...)
	return d
}

// Publish queues evt for delivery
func (d *Dispatcher) Publish(evt core.Event) {
	err := d.pool.Submit(func() {
		for _, sink := range d.sinks {
			sink(evt)
		}
	})
	if err != nil {
		telemetry.GetGlobalMetrics().RecordEventDropped(context.Background(), evt.Type)
		if errors.Is(err, concurrency.ErrPoolFull) {
			d.logger.Warn("Event dropped, dispatcher saturated", "type", evt.Type, "event_id", evt.ID)
		} else {
			d.logger.Debug("Event dropped after shutdown", "type", evt.Type, "event_id", evt.ID)
		}
	}
}

// Stop drains queued events
func (d *Dispatcher) Stop() {
	d.pool.Stop()
}

// LogSink records every event at debug level
func LogSink(logger core.ILogger) Sink {
	log := logger.WithField("component", "event_log")
	return func(evt core.Event) {
		log.Debug("Event", "type", evt.Type, "event_id", evt.ID, "data", evt.Data)
	}
}
