package main

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"nhbmarket/config"
	"nhbmarket/core/events"
	"nhbmarket/core/state"
	"nhbmarket/native/market"
	"nhbmarket/native/mileage"
	"nhbmarket/storage"
)

// node wires the engine to its state. The engine is single-threaded, so every
// engine call, including reads from HTTP handlers, holds mu.
type node struct {
	cfg     *config.Config
	db      storage.Database
	state   *state.Manager
	mileage *mileage.Ledger
	engine  *market.Engine
	logger  *slog.Logger

	mu     sync.Mutex
	height atomic.Uint64
}

func newNode(cfg *config.Config, db storage.Database, logger *slog.Logger, metrics market.Metrics, emitter events.Emitter) (*node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	n := &node{cfg: cfg, db: db, state: state.NewManager(db), logger: logger}
	if err := n.state.EnsureStateVersion(); err != nil {
		return nil, err
	}

	owner := cfg.Market.Owner.Array()
	engineAddr := cfg.Market.EngineAddress.Array()
	n.mileage = mileage.NewLedger(n.state, owner)
	n.mileage.SetEmitter(emitter)
	if err := n.mileage.AddCaller(owner, engineAddr); err != nil {
		return nil, fmt.Errorf("whitelist engine: %w", err)
	}
	n.state.Commit(0)

	engine, err := market.NewEngine(engineAddr, cfg.Market.Params())
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	engine.SetState(n.state)
	engine.SetMileage(n.mileage)
	engine.SetEmitter(emitter)
	engine.SetPauses(cfg.Pauses.Set())
	engine.SetClock(market.ClockFunc(n.currentHeight))
	engine.SetLogger(logger)
	engine.SetMetrics(metrics)
	n.engine = engine
	return n, nil
}

func (n *node) setHeight(h uint64) {
	if h > n.height.Load() {
		n.height.Store(h)
	}
}

func (n *node) currentHeight() uint64 { return n.height.Load() }

// checkConsistency runs the index self-check under the engine lock.
func (n *node) checkConsistency() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.CheckConsistency()
}
