// Package kvmesh wires the replication core, the default storage, and the
// optional datagram channel into a single runnable node. Callers that want a
// different Storage
// implementation should build core.Reactor/core.DatagramReplicator directly
// instead of going through Engine.
package kvmesh

import (
	"context"
	"fmt"
	"sync"

	"github.com/kvmesh/kvmesh/pkg/kvmesh/core"
	"github.com/kvmesh/kvmesh/pkg/kvmesh/definition"
	"github.com/kvmesh/kvmesh/pkg/kvmesh/storage"
	"github.com/kvmesh/kvmesh/pkg/kvmesh/types"
)

// Engine is a single replicating node: its own SlotMap replica, a Reactor
// driving the reliable mesh, and an optional DatagramReplicator for the
// best-effort broadcast channel (spec §4.6). It is the public entry point
// for embedding callers; cmd/kvmeshd is a thin wrapper around it.
type Engine struct {
	cfg     types.Config
	storage *storage.SlotMap
	log     types.Logger
	metrics core.MetricsSink

	reactor  *core.Reactor
	datagram *core.DatagramReplicator

	stopCh chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// Option customizes an Engine before it starts.
type Option func(*Engine)

// WithLogger overrides the default stderr logger.
func WithLogger(log types.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics overrides the default no-op metrics sink.
func WithMetrics(metrics core.MetricsSink) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// New builds an Engine from cfg. It does not start listening, dialing, or
// broadcasting until Run is called.
func New(cfg types.Config, opts ...Option) (*Engine, error) {
	if !cfg.Identifier.Valid() {
		return nil, fmt.Errorf("kvmesh: invalid identifier %d", cfg.Identifier)
	}

	e := &Engine{
		cfg:     cfg,
		log:     definition.NewDefaultLogger(),
		metrics: core.NoopMetrics{},
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.storage = storage.NewSlotMap(cfg.Identifier)
	e.reactor = core.NewReactor(cfg, e.storage, e.log, e.metrics)

	datagram, err := core.NewDatagramReplicator(cfg, e.storage, e.log, e.metrics)
	if err != nil {
		return nil, err
	}
	e.datagram = datagram

	return e, nil
}

// Run starts the reactor and, if configured, the datagram channel, and
// blocks until ctx is cancelled or Close is called. It always returns nil;
// shutdown is never an error condition for this node.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if e.datagram != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.datagram.Run(ctx)
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.reactor.Run(); err != nil {
			e.log.Errorf("reactor exited: %v", err)
		}
	}()

	<-ctx.Done()
	e.reactor.Close()
	e.wg.Wait()
	return nil
}

// Close signals Run to stop. It does not block for Run to return; callers
// that need that should instead cancel the context passed to Run. Idempotent.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.stopCh)
	})
}

// Put applies a local write, replicating it to every connected peer.
func (e *Engine) Put(key, value []byte) (types.Entry, error) {
	return e.storage.Put(key, value)
}

// Delete applies a local tombstone.
func (e *Engine) Delete(key []byte) (types.Entry, error) {
	return e.storage.Remove(key)
}

// Snapshot returns every live key/value pair currently held locally.
func (e *Engine) Snapshot() map[string][]byte {
	return e.storage.Snapshot()
}
