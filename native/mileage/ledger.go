// Package mileage keeps loyalty ("mileage") balances on behalf of native
// modules. Only whitelisted callers such as the market engine may credit or
// debit a balance.
package mileage

import (
	"errors"
	"fmt"
	"math/big"

	"nhbmarket/core/events"
)

var (
	ErrUnauthorized        = errors.New("mileage: unauthorized")
	ErrInvalidAmount       = errors.New("mileage: amount must be positive")
	ErrInsufficientBalance = errors.New("mileage: insufficient balance")
)

// Store is the key/value backend holding balances and the caller whitelist.
// core/state.Manager implements it.
type Store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Ledger implements market.MileageStore over a Store.
//
// Ledger also buffers its events while a snapshot is open so that events of an
// operation that is later rolled back never reach the emitter. Writes are
// rolled back by the Store itself.
type Ledger struct {
	store   Store
	owner   [20]byte
	emitter events.Emitter

	depth   int
	pending []events.Event
}

// NewLedger creates a ledger administered by owner.
func NewLedger(store Store, owner [20]byte) *Ledger {
	return &Ledger{store: store, owner: owner, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used by the ledger. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func balanceKey(account [20]byte) []byte {
	return append([]byte("mileage/balance/"), account[:]...)
}

func callerKey(caller [20]byte) []byte {
	return append([]byte("mileage/caller/"), caller[:]...)
}

// AddCaller whitelists caller. Only the owner may change the whitelist.
func (l *Ledger) AddCaller(admin, caller [20]byte) error {
	if admin != l.owner {
		return ErrUnauthorized
	}
	if err := l.store.KVPut(callerKey(caller), true); err != nil {
		return err
	}
	l.emit(events.MileageCallerUpdated{Caller: caller, Allowed: true})
	return nil
}

// RemoveCaller revokes caller.
func (l *Ledger) RemoveCaller(admin, caller [20]byte) error {
	if admin != l.owner {
		return ErrUnauthorized
	}
	if err := l.store.KVDelete(callerKey(caller)); err != nil {
		return err
	}
	l.emit(events.MileageCallerUpdated{Caller: caller, Allowed: false})
	return nil
}

// IsCaller reports whether caller is whitelisted.
func (l *Ledger) IsCaller(caller [20]byte) (bool, error) {
	var allowed bool
	if _, err := l.store.KVGet(callerKey(caller), &allowed); err != nil {
		return false, err
	}
	return allowed, nil
}

// Balance returns the mileage balance of account.
func (l *Ledger) Balance(account [20]byte) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := l.store.KVGet(balanceKey(account), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

func (l *Ledger) authorize(caller [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	allowed, err := l.IsCaller(caller)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: caller %x", ErrUnauthorized, caller)
	}
	return nil
}

func (l *Ledger) setBalance(account [20]byte, balance *big.Int) error {
	if balance.Sign() == 0 {
		return l.store.KVDelete(balanceKey(account))
	}
	return l.store.KVPut(balanceKey(account), balance)
}

// Credit adds amount to account.
func (l *Ledger) Credit(caller, account [20]byte, amount *big.Int) error {
	if err := l.authorize(caller, amount); err != nil {
		return err
	}
	balance, err := l.Balance(account)
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	if err := l.setBalance(account, balance); err != nil {
		return err
	}
	l.emit(events.MileageMoved{Credit: true, Caller: caller, Account: account, Amount: new(big.Int).Set(amount), Balance: new(big.Int).Set(balance)})
	return nil
}

// Debit removes amount from account.
func (l *Ledger) Debit(caller, account [20]byte, amount *big.Int) error {
	if err := l.authorize(caller, amount); err != nil {
		return err
	}
	balance, err := l.Balance(account)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %x has %s, needs %s", ErrInsufficientBalance, account, balance, amount)
	}
	balance.Sub(balance, amount)
	if err := l.setBalance(account, balance); err != nil {
		return err
	}
	l.emit(events.MileageMoved{Credit: false, Caller: caller, Account: account, Amount: new(big.Int).Set(amount), Balance: new(big.Int).Set(balance)})
	return nil
}

func (l *Ledger) emit(evt events.Event) {
	if l.depth > 0 {
		l.pending = append(l.pending, evt)
		return
	}
	l.emitter.Emit(evt)
}

// Snapshot opens an event buffer and returns its position.
func (l *Ledger) Snapshot() int {
	l.depth++
	return len(l.pending)
}

// RevertToSnapshot drops events buffered after id.
func (l *Ledger) RevertToSnapshot(id int) {
	if id >= 0 && id <= len(l.pending) {
		l.pending = l.pending[:id]
	}
	l.close()
}

// Commit keeps the events buffered after id and emits everything once the
// outermost snapshot is released.
func (l *Ledger) Commit(int) { l.close() }

func (l *Ledger) close() {
	if l.depth > 0 {
		l.depth--
	}
	if l.depth == 0 {
		queued := l.pending
		l.pending = nil
		for _, evt := range queued {
			l.emitter.Emit(evt)
		}
	}
}
