package market

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"nhbmarket/core/events"
)

var (
	engineAddr  = newTestAddress(0xEE)
	ownerAddr   = newTestAddress(0x01)
	feeAddr     = newTestAddress(0x02)
	poolAddr    = newTestAddress(0x03)
	royaltyAddr = newTestAddress(0x04)
	alice       = newTestAddress(0x0A)
	bob         = newTestAddress(0x0B)
	carol       = newTestAddress(0x0C)
	dave        = newTestAddress(0x0D)

	nftItem   = newTestAddress(0x71)
	multiItem = newTestAddress(0x11)

	errBoom = errors.New("boom")
)

const (
	nftCategory   uint64 = 7
	multiCategory uint64 = 9
)

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func tokenID(id uint64) TokenID { return NewItemKey([20]byte{}, id).TokenID }

type mockState struct {
	tokens    map[[20]byte]*big.Int
	items     map[ItemKey]map[[20]byte]uint64
	approvals map[[3][20]byte]bool
	infos     map[[20]byte]ItemInfo
	royalties map[[20]byte]RoyaltyQuote

	failTo     [20]byte
	failErr    error
	onTransfer func()
}

func newMockState() *mockState {
	return &mockState{
		tokens:    make(map[[20]byte]*big.Int),
		items:     make(map[ItemKey]map[[20]byte]uint64),
		approvals: make(map[[3][20]byte]bool),
		infos:     make(map[[20]byte]ItemInfo),
		royalties: make(map[[20]byte]RoyaltyQuote),
	}
}

func (m *mockState) ItemBalance(item, owner [20]byte, id TokenID) (uint64, error) {
	return m.items[ItemKey{Item: item, TokenID: id}][owner], nil
}

func (m *mockState) IsApprovedForAll(item, owner, operator [20]byte) (bool, error) {
	return m.approvals[[3][20]byte{item, owner, operator}], nil
}

func (m *mockState) TransferItem(operator, item, from, to [20]byte, id TokenID, amount uint64) error {
	if operator != from && !m.approvals[[3][20]byte{item, from, operator}] {
		return fmt.Errorf("operator %x not approved", operator)
	}
	key := ItemKey{Item: item, TokenID: id}
	holders := m.items[key]
	if holders[from] < amount {
		return fmt.Errorf("holder %x has %d of %d", from, holders[from], amount)
	}
	if holders == nil {
		holders = make(map[[20]byte]uint64)
		m.items[key] = holders
	}
	holders[from] -= amount
	holders[to] += amount
	return nil
}

func (m *mockState) ItemInfo(item [20]byte) (ItemInfo, error) { return m.infos[item], nil }

func (m *mockState) Royalty(item [20]byte, _ TokenID) (RoyaltyQuote, error) {
	return m.royalties[item], nil
}

func (m *mockState) TokenBalance(account [20]byte) (*big.Int, error) {
	return cloneBigInt(m.tokens[account]), nil
}

func (m *mockState) Transfer(from, to [20]byte, amount *big.Int) error {
	if m.failErr != nil && to == m.failTo {
		return m.failErr
	}
	if m.onTransfer != nil {
		m.onTransfer()
	}
	balance := cloneBigInt(m.tokens[from])
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance: %x has %s, needs %s", from, balance, amount)
	}
	m.tokens[from] = balance.Sub(balance, amount)
	m.tokens[to] = new(big.Int).Add(cloneBigInt(m.tokens[to]), amount)
	return nil
}

func (m *mockState) TransferFrom(_, from, to [20]byte, amount *big.Int) error {
	return m.Transfer(from, to, amount)
}

type mockMileage struct {
	balances map[[20]byte]*big.Int
}

func newMockMileage() *mockMileage {
	return &mockMileage{balances: make(map[[20]byte]*big.Int)}
}

func (m *mockMileage) Balance(account [20]byte) (*big.Int, error) {
	return cloneBigInt(m.balances[account]), nil
}

func (m *mockMileage) Credit(caller, account [20]byte, amount *big.Int) error {
	if caller != engineAddr {
		return fmt.Errorf("caller %x not whitelisted", caller)
	}
	m.balances[account] = new(big.Int).Add(cloneBigInt(m.balances[account]), amount)
	return nil
}

func (m *mockMileage) Debit(caller, account [20]byte, amount *big.Int) error {
	if caller != engineAddr {
		return fmt.Errorf("caller %x not whitelisted", caller)
	}
	balance := cloneBigInt(m.balances[account])
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient mileage")
	}
	m.balances[account] = balance.Sub(balance, amount)
	return nil
}

type fixture struct {
	t       *testing.T
	engine  *Engine
	state   *mockState
	mileage *mockMileage
	events  *events.Recorder
	height  uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	params := DefaultParams(ownerAddr)
	params.FeeReceiver = feeAddr
	params.MileagePool = poolAddr
	engine, err := NewEngine(engineAddr, params)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	f := &fixture{
		t:       t,
		engine:  engine,
		state:   newMockState(),
		mileage: newMockMileage(),
		events:  &events.Recorder{},
	}
	f.state.infos[nftItem] = ItemInfo{Whitelisted: true, Category: nftCategory, Standard: StandardERC721}
	f.state.infos[multiItem] = ItemInfo{Whitelisted: true, Category: multiCategory, Standard: StandardERC1155, MileageMode: true}
	f.state.royalties[nftItem] = RoyaltyQuote{Receiver: royaltyAddr, Rate: RoyaltyRate{CategoryBps: 500}}
	f.state.royalties[multiItem] = RoyaltyQuote{Receiver: royaltyAddr, Rate: RoyaltyRate{CategoryBps: 500}}
	f.state.tokens[poolAddr] = big.NewInt(1_000_000)
	engine.SetState(f.state)
	engine.SetMileage(f.mileage)
	engine.SetEmitter(f.events)
	engine.SetClock(ClockFunc(func() uint64 { return f.height }))
	return f
}

func (f *fixture) fund(account [20]byte, amount int64) {
	f.state.tokens[account] = new(big.Int).Add(cloneBigInt(f.state.tokens[account]), big.NewInt(amount))
}

func (f *fixture) giveMileage(account [20]byte, amount int64) {
	f.mileage.balances[account] = big.NewInt(amount)
}

func (f *fixture) mintItem(item, owner [20]byte, id, amount uint64) {
	key := ItemKey{Item: item, TokenID: tokenID(id)}
	if f.state.items[key] == nil {
		f.state.items[key] = make(map[[20]byte]uint64)
	}
	f.state.items[key][owner] += amount
	f.state.approvals[[3][20]byte{item, owner, engineAddr}] = true
}

func (f *fixture) tokens(account [20]byte) int64 { return cloneBigInt(f.state.tokens[account]).Int64() }

func (f *fixture) miles(account [20]byte) int64 {
	return cloneBigInt(f.mileage.balances[account]).Int64()
}

func (f *fixture) itemsOf(item, owner [20]byte, id uint64) uint64 {
	return f.state.items[ItemKey{Item: item, TokenID: tokenID(id)}][owner]
}

func (f *fixture) consistent() {
	f.t.Helper()
	if err := f.engine.CheckConsistency(); err != nil {
		f.t.Fatalf("inconsistent ledger: %v", err)
	}
}

func (f *fixture) sell(seller [20]byte, item [20]byte, id, amount uint64, price int64, partial bool) VerificationID {
	f.t.Helper()
	category := f.state.infos[item].Category
	vid, err := f.engine.Sell(seller, category, item, tokenID(id), amount, big.NewInt(price), partial)
	if err != nil {
		f.t.Fatalf("sell: %v", err)
	}
	return vid
}

func (f *fixture) buy(buyer [20]byte, vid VerificationID, amount uint64, price, pledge int64) error {
	return f.engine.Buy(buyer, []VerificationID{vid}, []uint64{amount}, []*big.Int{big.NewInt(price)}, []*big.Int{big.NewInt(pledge)})
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func TestNewEngineValidates(t *testing.T) {
	if _, err := NewEngine([20]byte{}, DefaultParams(ownerAddr)); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
	params := DefaultParams(ownerAddr)
	params.FeeBps = MaxFeeBps + 1
	if _, err := NewEngine(engineAddr, params); !errors.Is(err, ErrFeeTooHigh) {
		t.Fatalf("expected fee cap error, got %v", err)
	}
	params = DefaultParams(ownerAddr)
	params.PremiumMileageBps = params.MileageBps + 1
	if _, err := NewEngine(engineAddr, params); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected invalid rate, got %v", err)
	}
}

func TestOperationsRequireState(t *testing.T) {
	engine, err := NewEngine(engineAddr, DefaultParams(ownerAddr))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	_, err = engine.Sell(alice, nftCategory, nftItem, tokenID(1), 1, big.NewInt(10), false)
	expectErr(t, err, ErrNotConfigured)
}

func TestReentrantCallRejected(t *testing.T) {
	f := newFixture(t)
	f.mintItem(nftItem, alice, 1, 1)
	f.mintItem(nftItem, alice, 2, 1)
	f.fund(bob, 1_000)
	vid := f.sell(alice, nftItem, 1, 1, 100, false)
	other := f.sell(alice, nftItem, 2, 1, 100, false)

	var inner error
	calls := 0
	f.state.onTransfer = func() {
		calls++
		if calls == 1 {
			inner = f.engine.CancelSale(alice, []VerificationID{other})
		}
	}
	if err := f.buy(bob, vid, 1, 100, 0); err != nil {
		t.Fatalf("buy: %v", err)
	}
	expectErr(t, inner, ErrReentrant)
	if _, ok := f.engine.Sale(other); !ok {
		t.Fatalf("reentrant cancel must not remove the sale")
	}
	f.consistent()
}

func TestEventsEmittedOnlyOnCommit(t *testing.T) {
	f := newFixture(t)
	f.mintItem(nftItem, alice, 1, 1)
	vid := f.sell(alice, nftItem, 1, 1, 100, false)
	if got := f.events.Count(EventTypeSaleCreated); got != 1 {
		t.Fatalf("expected one created event, got %d", got)
	}
	f.fund(bob, 100)
	f.state.failTo = alice
	f.state.failErr = errBoom
	if err := f.buy(bob, vid, 1, 100, 0); !errors.Is(err, errBoom) {
		t.Fatalf("expected collaborator failure, got %v", err)
	}
	if got := f.events.Count(EventTypeSalePurchased); got != 0 {
		t.Fatalf("rejected buy emitted %d events", got)
	}
	last := f.events.Events()[len(f.events.Events())-1]
	payload, ok := last.(events.Payload)
	if !ok {
		t.Fatalf("expected payload event, got %T", last)
	}
	evt := payload.Event()
	if evt.Attributes["vid"] != vid.Hex() || evt.Attributes["nonce"] != "0" {
		t.Fatalf("unexpected created attributes: %+v", evt.Attributes)
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{ErrUnauthorized, KindAuthorization},
		{fmt.Errorf("wrapped: %w", ErrNotWhitelisted), KindAuthorization},
		{ErrSaleNotFound, KindState},
		{ErrReentrant, KindState},
		{ErrPriceMismatch, KindValidation},
		{fmt.Errorf("line 2: %w", ErrBatchLength), KindValidation},
		{collaborator("pay fee", errBoom), KindArithmetic},
		{errBoom, KindUnknown},
		{nil, KindUnknown},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.kind {
			t.Fatalf("KindOf(%v) = %s, want %s", tc.err, got, tc.kind)
		}
	}
	wrapped := collaborator("pay fee", errBoom)
	if !errors.Is(wrapped, errBoom) {
		t.Fatalf("collaborator error must preserve the original")
	}
	if collaborator("again", wrapped) != wrapped {
		t.Fatalf("collaborator errors must not be double wrapped")
	}
}

func TestAdminOwnerGated(t *testing.T) {
	f := newFixture(t)
	expectErr(t, f.engine.SetFee(alice, 100), ErrUnauthorized)
	expectErr(t, f.engine.SetFee(ownerAddr, MaxFeeBps+1), ErrFeeTooHigh)
	if err := f.engine.SetFee(ownerAddr, 500); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	expectErr(t, f.engine.SetAuctionExtensionInterval(ownerAddr, 0), ErrInvalidInterval)
	expectErr(t, f.engine.SetMileageRates(ownerAddr, 100, 200), ErrInvalidRate)
	if err := f.engine.SetMileageRates(ownerAddr, 200, 100); err != nil {
		t.Fatalf("set mileage rates: %v", err)
	}
	if err := f.engine.SetFeeReceiver(ownerAddr, carol); err != nil {
		t.Fatalf("set fee receiver: %v", err)
	}
	params := f.engine.Params()
	if params.FeeBps != 500 || params.MileageBps != 200 || params.PremiumMileageBps != 100 || params.FeeReceiver != carol {
		t.Fatalf("unexpected params: %+v", params)
	}
	if err := f.engine.TransferOwnership(ownerAddr, dave); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	expectErr(t, f.engine.Pause(ownerAddr), ErrUnauthorized)
	if err := f.engine.Pause(dave); err != nil {
		t.Fatalf("pause: %v", err)
	}
	f.mintItem(nftItem, alice, 1, 1)
	_, err := f.engine.Sell(alice, nftCategory, nftItem, tokenID(1), 1, big.NewInt(10), false)
	expectErr(t, err, ErrPaused)
	if err := f.engine.Resume(dave); err != nil {
		t.Fatalf("resume: %v", err)
	}
	f.sell(alice, nftItem, 1, 1, 10, false)
	if got := f.events.Count(EventTypeOwnershipTransferred); got != 1 {
		t.Fatalf("expected ownership event, got %d", got)
	}
}

func TestBanBlocksTradingButNotCancel(t *testing.T) {
	f := newFixture(t)
	f.mintItem(nftItem, alice, 1, 1)
	f.fund(bob, 1_000)
	vid := f.sell(alice, nftItem, 1, 1, 100, false)
	if err := f.engine.BanUser(ownerAddr, alice); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if !f.engine.IsBanned(alice) {
		t.Fatalf("alice should be banned")
	}
	err := f.buy(bob, vid, 1, 100, 0)
	expectErr(t, err, ErrBanned)
	if KindOf(err) != KindAuthorization {
		t.Fatalf("ban must be an authorization error, got %s", KindOf(err))
	}
	if err := f.engine.CancelSale(alice, []VerificationID{vid}); err != nil {
		t.Fatalf("banned seller must be able to cancel: %v", err)
	}
	if err := f.engine.UnbanUser(ownerAddr, alice); err != nil {
		t.Fatalf("unban: %v", err)
	}
	f.sell(alice, nftItem, 1, 1, 100, false)
	f.consistent()
}

func TestExternalPauseRegistry(t *testing.T) {
	f := newFixture(t)
	f.mintItem(nftItem, alice, 1, 1)
	f.engine.SetPauses(pauseAll{})
	_, err := f.engine.Sell(alice, nftCategory, nftItem, tokenID(1), 1, big.NewInt(10), false)
	expectErr(t, err, ErrPaused)
}

type pauseAll struct{}

func (pauseAll) IsPaused(string) bool { return true }
