// Package market implements the marketplace trading engine: fixed-price
// sales, escrowed offers and English auctions over ERC721/ERC1155-style
// items, with a deterministic fee/royalty/mileage split on every settlement.
//
// The engine is a serialized state machine. Every public operation is atomic:
// it either applies all of its ledger, index and collaborator effects or
// none of them. Collaborator calls are made only after the engine's own
// records reach their post-condition, and reentrant calls are rejected.
// An Engine is not safe for concurrent use.
package market

import (
	"fmt"
	"log/slog"
	"time"

	"nhbmarket/core/events"
	"nhbmarket/core/types"
	nativecommon "nhbmarket/native/common"
)

// Clock supplies the current block height.
type Clock interface {
	Height() uint64
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() uint64

// Height implements Clock.
func (f ClockFunc) Height() uint64 { return f() }

// Metrics receives operation outcomes and settlement splits.
type Metrics interface {
	ObserveOperation(op, outcome string, elapsed time.Duration)
	RecordSettlement(kind string, split Split)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration) {}
func (noopMetrics) RecordSettlement(string, Split)                 {}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine wires the sale, offer and auction ledgers to the external
// collaborators and the process-wide market parameters.
type Engine struct {
	address [20]byte
	params  Params

	state   State
	mileage MileageStore
	emitter events.Emitter
	pauses  nativecommon.PauseView
	clock   Clock
	logger  *slog.Logger
	metrics Metrics

	paused bool
	banned map[[20]byte]bool
	l      *ledger

	entered bool
	pending []*types.Event
}

// NewEngine creates an engine holding escrow under address and configured
// with params. Collaborators are attached with the Set* methods.
func NewEngine(address [20]byte, params Params) (*Engine, error) {
	if address == ([20]byte{}) {
		return nil, fmt.Errorf("%w: engine address must be set", ErrInvalidAddress)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		address: address,
		params:  params,
		emitter: events.NoopEmitter{},
		clock:   ClockFunc(func() uint64 { return 0 }),
		logger:  slog.Default(),
		metrics: noopMetrics{},
		banned:  make(map[[20]byte]bool),
		l:       newLedger(),
	}, nil
}

// Address returns the custody account of the engine.
func (e *Engine) Address() [20]byte { return e.address }

// SetState configures the item registry, category registry and payment token.
func (e *Engine) SetState(state State) { e.state = state }

// SetMileage configures the loyalty balance store.
func (e *Engine) SetMileage(store MileageStore) { e.mileage = store }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires an external pause registry consulted before trading.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetClock overrides the block height source.
func (e *Engine) SetClock(clock Clock) {
	if clock == nil {
		e.clock = ClockFunc(func() uint64 { return 0 })
		return
	}
	e.clock = clock
}

// SetLogger configures the structured logger. Nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With(slog.String("module", moduleName))
}

// SetMetrics configures the metrics sink. Nil disables metrics.
func (e *Engine) SetMetrics(m Metrics) {
	if m == nil {
		e.metrics = noopMetrics{}
		return
	}
	e.metrics = m
}

func (e *Engine) height() uint64 { return e.clock.Height() }

// emit queues an event for the running operation. Queued events reach the
// emitter only once the operation commits.
func (e *Engine) emit(event *types.Event) {
	if event == nil {
		return
	}
	e.pending = append(e.pending, event)
}

func (e *Engine) flush() {
	queued := e.pending
	e.pending = nil
	for _, evt := range queued {
		e.emitter.Emit(marketEvent{evt: evt})
	}
}

type snapshot struct {
	journal Journal
	id      int
}

func (e *Engine) snapshots() []snapshot {
	var out []snapshot
	for _, candidate := range []any{e.state, e.mileage} {
		j, ok := candidate.(Journal)
		if !ok || (len(out) > 0 && out[0].journal == j) {
			continue
		}
		out = append(out, snapshot{journal: j, id: j.Snapshot()})
	}
	return out
}

// execute runs fn as one atomic operation. On failure every ledger mutation
// and every journaled collaborator write made by fn is rolled back and no
// event is emitted.
func (e *Engine) execute(op string, fn func() error) (err error) {
	start := time.Now()
	if e.entered {
		e.metrics.ObserveOperation(op, "rejected", time.Since(start))
		return ErrReentrant
	}
	e.entered = true
	mark := e.l.j.mark()
	snaps := e.snapshots()
	e.pending = nil
	defer func() {
		e.entered = false
		if r := recover(); r != nil {
			e.rollback(mark, snaps)
			panic(r)
		}
		outcome := "ok"
		if err != nil {
			e.rollback(mark, snaps)
			outcome = "rejected"
			e.logger.Debug("market operation rejected",
				slog.String("op", op),
				slog.String("kind", KindOf(err).String()),
				slog.Any("error", err))
		} else {
			e.l.j.reset()
			for i := len(snaps) - 1; i >= 0; i-- {
				snaps[i].journal.Commit(snaps[i].id)
			}
			e.flush()
		}
		e.metrics.ObserveOperation(op, outcome, time.Since(start))
	}()
	return fn()
}

func (e *Engine) rollback(mark int, snaps []snapshot) {
	e.l.j.revert(mark)
	for i := len(snaps) - 1; i >= 0; i-- {
		snaps[i].journal.RevertToSnapshot(snaps[i].id)
	}
	e.pending = nil
}

// CheckConsistency verifies that every live record appears in exactly the
// indices its type requires and that no index entry dangles.
func (e *Engine) CheckConsistency() error {
	return e.l.checkConsistency()
}
