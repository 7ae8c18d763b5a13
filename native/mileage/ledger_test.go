package mileage

import (
	"errors"
	"math/big"
	"testing"

	"nhbmarket/core/events"
	"nhbmarket/core/state"
	"nhbmarket/storage"
)

func testAddr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

var (
	owner   = testAddr(0x01)
	engine  = testAddr(0xEE)
	account = testAddr(0x0A)
)

func newTestLedger(t *testing.T) (*Ledger, *events.Recorder) {
	t.Helper()
	ledger := NewLedger(state.NewManager(storage.NewMemDB()), owner)
	recorder := &events.Recorder{}
	ledger.SetEmitter(recorder)
	if err := ledger.AddCaller(owner, engine); err != nil {
		t.Fatalf("add caller: %v", err)
	}
	return ledger, recorder
}

func TestCallerWhitelist(t *testing.T) {
	ledger, recorder := newTestLedger(t)
	if err := ledger.AddCaller(account, account); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := ledger.Credit(account, account, big.NewInt(5)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized credit, got %v", err)
	}
	allowed, err := ledger.IsCaller(engine)
	if err != nil || !allowed {
		t.Fatalf("engine should be whitelisted: %v", err)
	}
	if err := ledger.RemoveCaller(owner, engine); err != nil {
		t.Fatalf("remove caller: %v", err)
	}
	if err := ledger.Credit(engine, account, big.NewInt(5)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("removed caller must be rejected, got %v", err)
	}
	if got := recorder.Count(events.TypeMileageCallerUpdated); got != 2 {
		t.Fatalf("expected two whitelist events, got %d", got)
	}
}

func TestCreditAndDebit(t *testing.T) {
	ledger, recorder := newTestLedger(t)
	if err := ledger.Credit(engine, account, big.NewInt(40)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Debit(engine, account, big.NewInt(15)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	balance, err := ledger.Balance(account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Int64() != 25 {
		t.Fatalf("expected 25, got %s", balance)
	}
	if err := ledger.Debit(engine, account, big.NewInt(26)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if err := ledger.Credit(engine, account, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}

	evts := recorder.Events()
	last, ok := evts[len(evts)-1].(events.MileageMoved)
	if !ok || last.Credit || last.Balance.Int64() != 25 || last.Amount.Int64() != 15 {
		t.Fatalf("unexpected last event %+v", evts[len(evts)-1])
	}
	payload := last.Event()
	if payload.Type != events.TypeMileageDebited || payload.Attributes["balance"] != "25" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDebitToZeroClearsBalance(t *testing.T) {
	ledger, _ := newTestLedger(t)
	if err := ledger.Credit(engine, account, big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Debit(engine, account, big.NewInt(10)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	balance, err := ledger.Balance(account)
	if err != nil || balance.Sign() != 0 {
		t.Fatalf("expected zero balance, got %v (%v)", balance, err)
	}
}

func TestSnapshotBuffersEvents(t *testing.T) {
	ledger, recorder := newTestLedger(t)
	base := len(recorder.Events())

	outer := ledger.Snapshot()
	if err := ledger.Credit(engine, account, big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	inner := ledger.Snapshot()
	if err := ledger.Credit(engine, account, big.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if len(recorder.Events()) != base {
		t.Fatalf("events must be buffered while a snapshot is open")
	}
	ledger.RevertToSnapshot(inner)
	if len(recorder.Events()) != base {
		t.Fatalf("inner revert must not flush")
	}
	ledger.Commit(outer)
	if got := len(recorder.Events()) - base; got != 1 {
		t.Fatalf("expected only the committed credit event, got %d", got)
	}
}
