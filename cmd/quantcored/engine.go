package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"quantcore/internal/metrics"
	"quantcore/internal/shm"
	"quantcore/internal/types"
)

// signalEngine is the local decision backend: it answers decision requests
// from the most recent signal frame on the shared-memory channel. The
// channel consumer is attached only while the scheduler is in the active
// phase; outside it the engine is idle and local attempts fail over.
//
// It implements both the failover backend interface and the watchdog's
// probed backend.
type signalEngine struct {
	dir     string
	name    string
	logger  *slog.Logger
	metrics *metrics.Collector

	mu       sync.Mutex
	consumer *shm.Consumer
}

func newSignalEngine(dir, name string, logger *slog.Logger, collector *metrics.Collector) *signalEngine {
	return &signalEngine{
		dir:     dir,
		name:    name,
		logger:  logger,
		metrics: collector,
	}
}

// Attach connects to the signal channel. Called on active-phase entry, by
// which time the feed producer has created the region.
func (e *signalEngine) Attach() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consumer != nil {
		return nil
	}
	consumer, err := shm.NewConsumer(e.dir, e.name, e.metrics)
	if err != nil {
		return fmt.Errorf("attaching signal channel: %w", err)
	}
	e.consumer = consumer
	e.logger.Info("signal channel attached", "channel", e.name)
	return nil
}

// Detach disconnects from the signal channel. Called on active-phase exit.
func (e *signalEngine) Detach() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consumer == nil {
		return nil
	}
	err := e.consumer.Close()
	e.consumer = nil
	e.logger.Info("signal channel detached", "channel", e.name)
	return err
}

// Name reports which route this backend serves.
func (e *signalEngine) Name() types.Route {
	return types.RouteLocal
}

// Attempt answers a decision request from the latest signal frame. A
// detached engine or an empty channel is a local failure; the failover
// service falls back to the cloud backend.
func (e *signalEngine) Attempt(_ context.Context, req *types.DecisionRequest) (*types.DecisionResult, error) {
	e.mu.Lock()
	consumer := e.consumer
	e.mu.Unlock()
	if consumer == nil {
		return nil, types.NewAppError(types.ErrCodeBackendUnhealthy, "signal channel not attached", nil)
	}

	frame, err := consumer.Read()
	if err != nil {
		return nil, fmt.Errorf("reading signal frame: %w", err)
	}

	return &types.DecisionResult{
		Key:     req.Key,
		Payload: frame.Payload,
	}, nil
}

// Probe reports engine responsiveness. An idle (detached) engine is
// healthy; an attached engine must be able to read the channel.
func (e *signalEngine) Probe(context.Context) error {
	e.mu.Lock()
	consumer := e.consumer
	e.mu.Unlock()
	if consumer == nil {
		return nil
	}
	// An attached channel with no frames yet is healthy; the producer just
	// has not written.
	if _, err := consumer.Read(); err != nil && !errors.Is(err, shm.ErrNoFrame) {
		return fmt.Errorf("probing signal channel: %w", err)
	}
	return nil
}

// Recover reattaches the channel consumer from scratch.
func (e *signalEngine) Recover(context.Context) error {
	if err := e.Detach(); err != nil {
		e.logger.Warn("detach during recovery failed", "error", err)
	}
	return e.Attach()
}
