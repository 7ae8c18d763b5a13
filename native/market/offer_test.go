package market

import (
	"math/big"
	"testing"

	"nhbmarket/core/events"
)

func (f *fixture) offer(offeror [20]byte, item [20]byte, id, amount uint64, price int64, partial bool, pledge int64) VerificationID {
	f.t.Helper()
	category := f.state.infos[item].Category
	vid, err := f.engine.MakeOffer(offeror, category, item, tokenID(id), amount, big.NewInt(price), partial, big.NewInt(pledge))
	if err != nil {
		f.t.Fatalf("make offer: %v", err)
	}
	return vid
}

// lastAttributes returns the attributes of the most recent event of the given
// type.
func (f *fixture) lastAttributes(eventType string) map[string]string {
	f.t.Helper()
	recorded := f.events.Events()
	for i := len(recorded) - 1; i >= 0; i-- {
		if recorded[i].EventType() != eventType {
			continue
		}
		payload, ok := recorded[i].(events.Payload)
		if !ok {
			f.t.Fatalf("event %s carries no payload", eventType)
		}
		return payload.Event().Attributes
	}
	f.t.Fatalf("no %s event recorded", eventType)
	return nil
}

func TestMakeOfferEscrows(t *testing.T) {
	f := newFixture(t)
	f.mintItem(nftItem, alice, 1, 1)
	f.fund(bob, 1_000)

	vid := f.offer(bob, nftItem, 1, 1, 100, false, 0)
	if f.tokens(bob) != 900 || f.tokens(engineAddr) != 100 {
		t.Fatalf("offer must escrow the price, bob=%d engine=%d", f.tokens(bob), f.tokens(engineAddr))
	}
	offer, ok := f.engine.Offer(vid)
	if !ok || offer.Escrowed().Int64() != 100 {
		t.Fatalf("unexpected offer %+v", offer)
	}
	if f.engine.OfferCountByToken(nftItem, tokenID(1)) != 1 || f.engine.OfferCountByOfferor(bob) != 1 {
		t.Fatalf("offer must be indexed by token and offeror")
	}
	if f.lastAttributes(EventTypeOfferCreated)["escrowed"] != "100" {
		t.Fatalf("created event must report the escrow")
	}

	if !f.engine.CanOffer(bob, nftItem, tokenID(1)) {
		t.Fatalf("open offers must not prevent another offer")
	}
	again := f.offer(bob, nftItem, 1, 1, 100, false, 0)
	if again == vid {
		t.Fatalf("repeated offers must get distinct verification ids")
	}
	if f.engine.CanOffer(alice, nftItem, tokenID(1)) {
		t.Fatalf("owner must not be able to offer")
	}
	_, err := f.engine.MakeOffer(alice, nftCategory, nftItem, tokenID(1), 1, big.NewInt(100), false, big.NewInt(0))
	expectErr(t, err, ErrAlreadyOwner)
	f.consistent()
}

func TestMakeOfferValidation(t *testing.T) {
	f := newFixture(t)
	f.mintItem(nftItem, alice, 1, 1)
	f.fund(bob, 50)

	_, err := f.engine.MakeOffer(bob, nftCategory, nftItem, tokenID(1), 1, big.NewInt(100), false, big.NewInt(101))
	expectErr(t, err, ErrPledgeTooLarge)

	_, err = f.engine.MakeOffer(bob, nftCategory, nftItem, tokenID(1), 1, big.NewInt(100), false, big.NewInt(10))
	expectErr(t, err, ErrInsufficientMileage)

	_, err = f.engine.MakeOffer(bob, multiCategory, nftItem, tokenID(1), 1, big.NewInt(100), false, big.NewInt(0))
	expectErr(t, err, ErrCategoryMismatch)

	_, err = f.engine.MakeOffer(bob, nftCategory, nftItem, tokenID(1), 1, big.NewInt(100), false, big.NewInt(0))
	if err == nil || KindOf(err) != KindArithmetic {
		t.Fatalf("underfunded offer must fail in the payment token, got %v", err)
	}
	if f.engine.Stats().Offers != 0 || f.engine.Nonce(bob) != 0 {
		t.Fatalf("failed offer must leave no record")
	}
	f.consistent()
}

func TestOfferSurvivesItemTransfer(t *testing.T) {
	f := newFixture(t)
	f.mintItem(nftItem, alice, 1, 1)
	f.fund(bob, 1_000)
	vid := f.offer(bob, nftItem, 1, 1, 100, false, 0)

	f.state.items[ItemKey{Item: nftItem, TokenID: tokenID(1)}] = map[[20]byte]uint64{carol: 1}
	f.state.approvals[[3][20]byte{nftItem, carol, engineAddr}] = true

	expectErr(t, f.engine.AcceptOffer(alice, vid, 1), ErrNotItemOwner)
	expectErr(t, f.engine.AcceptOffer(bob, vid, 1), ErrSelfTrade)
	if err := f.engine.AcceptOffer(carol, vid, 1); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if f.itemsOf(nftItem, bob, 1) != 1 || f.itemsOf(nftItem, carol, 1) != 0 {
		t.Fatalf("item must move to the offeror")
	}
	if f.tokens(carol) != 93 || f.tokens(feeAddr) != 2 || f.tokens(royaltyAddr) != 5 || f.tokens(engineAddr) != 0 {
		t.Fatalf("unexpected payouts carol=%d fee=%d royalty=%d engine=%d",
			f.tokens(carol), f.tokens(feeAddr), f.tokens(royaltyAddr), f.tokens(engineAddr))
	}
	if _, ok := f.engine.Offer(vid); ok {
		t.Fatalf("filled offer must be purged")
	}
	attrs := f.lastAttributes(EventTypeOfferAccepted)
	if attrs["seller"] != hexAddr(carol) || attrs["fulfilled"] != "true" || attrs["sellerAmount"] != "93" {
		t.Fatalf("unexpected accepted attributes %+v", attrs)
	}
	f.consistent()
}

func TestAcceptOfferRequiresApproval(t *testing.T) {
	f := newFixture(t)
	f.mintItem(nftItem, alice, 1, 1)
	f.fund(bob, 1_000)
	vid := f.offer(bob, nftItem, 1, 1, 100, false, 0)
	delete(f.state.approvals, [3][20]byte{nftItem, alice, engineAddr})

	expectErr(t, f.engine.AcceptOffer(alice, vid, 1), ErrNotApproved)
	if _, ok := f.engine.Offer(vid); !ok {
		t.Fatalf("rejected accept must keep the offer")
	}
}

func TestCancelOfferRefunds(t *testing.T) {
	f := newFixture(t)
	f.mintItem(nftItem, alice, 1, 1)
	f.fund(bob, 1_000)
	f.giveMileage(bob, 50)
	vid := f.offer(bob, nftItem, 1, 1, 100, false, 20)
	if f.tokens(bob) != 920 || f.miles(bob) != 30 || f.tokens(poolAddr) != 999_980 || f.tokens(engineAddr) != 100 {
		t.Fatalf("unexpected escrow bob=%d miles=%d pool=%d engine=%d",
			f.tokens(bob), f.miles(bob), f.tokens(poolAddr), f.tokens(engineAddr))
	}

	expectErr(t, f.engine.CancelOffer(carol, vid), ErrUnauthorized)
	if err := f.engine.CancelOffer(bob, vid); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.tokens(bob) != 1_000 || f.miles(bob) != 50 || f.tokens(poolAddr) != 1_000_000 || f.tokens(engineAddr) != 0 {
		t.Fatalf("cancel must refund in full bob=%d miles=%d pool=%d engine=%d",
			f.tokens(bob), f.miles(bob), f.tokens(poolAddr), f.tokens(engineAddr))
	}
	if f.engine.OfferCountByOfferor(bob) != 0 || f.engine.OfferCountByToken(nftItem, tokenID(1)) != 0 {
		t.Fatalf("cancelled offer left index entries")
	}
	expectErr(t, f.engine.CancelOffer(bob, vid), ErrOfferNotFound)
	f.consistent()
}

func TestCancelOfferByOwner(t *testing.T) {
	f := newFixture(t)
	f.mintItem(nftItem, alice, 1, 1)
	f.fund(bob, 1_000)
	f.fund(carol, 1_000)
	first := f.offer(bob, nftItem, 1, 1, 100, false, 0)
	second := f.offer(carol, nftItem, 1, 1, 200, false, 0)

	expectErr(t, f.engine.CancelOfferByOwner(alice, []VerificationID{first}), ErrUnauthorized)
	if err := f.engine.CancelOfferByOwner(ownerAddr, []VerificationID{first, second}); err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	if f.tokens(bob) != 1_000 || f.tokens(carol) != 1_000 || f.engine.Stats().Offers != 0 {
		t.Fatalf("owner cancel must refund every offeror")
	}
	if f.lastAttributes(EventTypeOfferCancelled)["byOwner"] != "true" {
		t.Fatalf("owner cancellation must be flagged")
	}
	f.consistent()
}

func TestPartialAcceptConsumesPledgeProRata(t *testing.T) {
	f := newFixture(t)
	f.mintItem(multiItem, alice, 1, 3)
	f.fund(bob, 1_000)
	f.giveMileage(bob, 10)
	vid := f.offer(bob, multiItem, 1, 3, 100, true, 10)
	if f.tokens(bob) != 710 || f.miles(bob) != 0 || f.tokens(engineAddr) != 300 {
		t.Fatalf("unexpected escrow bob=%d miles=%d engine=%d", f.tokens(bob), f.miles(bob), f.tokens(engineAddr))
	}

	if err := f.engine.AcceptOffer(alice, vid, 1); err != nil {
		t.Fatalf("accept 1: %v", err)
	}
	offer, ok := f.engine.Offer(vid)
	if !ok || offer.Amount != 2 || offer.MileagePledge.Int64() != 7 {
		t.Fatalf("unexpected remaining offer %+v", offer)
	}
	attrs := f.lastAttributes(EventTypeOfferAccepted)
	if attrs["pledgeUsed"] != "3" || attrs["fee"] != "2" || attrs["royalty"] != "4" || attrs["mileage"] != "1" || attrs["sellerAmount"] != "93" {
		t.Fatalf("unexpected first fill %+v", attrs)
	}

	if err := f.engine.AcceptOffer(alice, vid, 2); err != nil {
		t.Fatalf("accept 2: %v", err)
	}
	attrs = f.lastAttributes(EventTypeOfferAccepted)
	if attrs["pledgeUsed"] != "7" || attrs["fee"] != "5" || attrs["royalty"] != "8" || attrs["mileage"] != "2" || attrs["sellerAmount"] != "185" {
		t.Fatalf("unexpected final fill %+v", attrs)
	}
	if _, ok := f.engine.Offer(vid); ok {
		t.Fatalf("depleted offer must be purged")
	}
	if f.tokens(engineAddr) != 0 || f.tokens(alice) != 278 || f.miles(bob) != 3 || f.tokens(poolAddr) != 999_993 {
		t.Fatalf("unexpected balances engine=%d alice=%d miles=%d pool=%d",
			f.tokens(engineAddr), f.tokens(alice), f.miles(bob), f.tokens(poolAddr))
	}
	if f.itemsOf(multiItem, bob, 1) != 3 {
		t.Fatalf("offeror must hold every unit")
	}
	f.consistent()
}

func TestAcceptOfferRules(t *testing.T) {
	f := newFixture(t)
	f.mintItem(multiItem, alice, 1, 3)
	f.fund(bob, 1_000)
	vid := f.offer(bob, multiItem, 1, 3, 100, false, 0)

	expectErr(t, f.engine.AcceptOffer(alice, vid, 0), ErrInvalidAmount)
	expectErr(t, f.engine.AcceptOffer(alice, vid, 4), ErrAmountExceeds)
	expectErr(t, f.engine.AcceptOffer(alice, vid, 2), ErrPartialNotAllowed)
	expectErr(t, f.engine.AcceptOffer(alice, VerificationID{7}, 3), ErrOfferNotFound)
	if err := f.engine.BanUser(ownerAddr, bob); err != nil {
		t.Fatalf("ban: %v", err)
	}
	expectErr(t, f.engine.AcceptOffer(alice, vid, 3), ErrBanned)
	if err := f.engine.CancelOffer(bob, vid); err != nil {
		t.Fatalf("banned offeror must be able to cancel: %v", err)
	}
	f.consistent()
}

func TestConsumedPledge(t *testing.T) {
	cases := []struct {
		pledge            int64
		amount, remaining uint64
		want              int64
	}{
		{10, 1, 3, 3},
		{7, 2, 2, 7},
		{0, 1, 3, 0},
		{9, 3, 3, 9},
		{5, 1, 10, 0},
	}
	for _, tc := range cases {
		got := consumedPledge(big.NewInt(tc.pledge), tc.amount, tc.remaining)
		if got.Int64() != tc.want {
			t.Fatalf("consumedPledge(%d, %d, %d) = %s, want %d", tc.pledge, tc.amount, tc.remaining, got, tc.want)
		}
	}
}

func TestAcceptOfferKeepsListedUnits(t *testing.T) {
	f := newFixture(t)
	f.mintItem(multiItem, alice, 1, 3)
	f.fund(bob, 1_000)
	f.fund(carol, 1_000)
	sale := f.sell(alice, multiItem, 1, 2, 100, true)
	vid := f.offer(bob, multiItem, 1, 2, 100, true, 0)

	expectErr(t, f.engine.AcceptOffer(alice, vid, 2), ErrInsufficientItems)
	if err := f.engine.AcceptOffer(alice, vid, 1); err != nil {
		t.Fatalf("accept unlisted unit: %v", err)
	}
	if err := f.buy(carol, sale, 2, 100, 0); err != nil {
		t.Fatalf("listed units must stay fillable: %v", err)
	}
	if f.itemsOf(multiItem, carol, 1) != 2 || f.itemsOf(multiItem, bob, 1) != 1 || f.itemsOf(multiItem, alice, 1) != 0 {
		t.Fatalf("unexpected holdings carol=%d bob=%d alice=%d",
			f.itemsOf(multiItem, carol, 1), f.itemsOf(multiItem, bob, 1), f.itemsOf(multiItem, alice, 1))
	}
	f.consistent()
}
