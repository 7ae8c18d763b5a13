package market

import (
	"fmt"
	"math/big"
)

// MakeOffer escrows amount*unitPrice for item/tokenID: the price net of pledge
// in payment token and the pledge from the caller's mileage balance. Offers
// are not bound to the current owner and outlive item transfers.
func (e *Engine) MakeOffer(caller [20]byte, category uint64, item [20]byte, tokenID TokenID, amount uint64, unitPrice *big.Int, partial bool, pledge *big.Int) (VerificationID, error) {
	var vid VerificationID
	err := e.execute("make_offer", func() error {
		info, err := e.gate(item, caller)
		if err != nil {
			return err
		}
		if err := checkQuantity(info, amount); err != nil {
			return err
		}
		if err := checkPrice(unitPrice); err != nil {
			return err
		}
		if info.Category != category {
			return fmt.Errorf("%w: offered %d, registry %d", ErrCategoryMismatch, category, info.Category)
		}
		owned, err := e.state.ItemBalance(item, caller, tokenID)
		if err != nil {
			return collaborator("item balance", err)
		}
		if owned > 0 {
			return ErrAlreadyOwner
		}
		price := mulAmount(unitPrice, amount)
		pledge = cloneBigInt(pledge)
		if pledge.Sign() < 0 {
			return fmt.Errorf("%w: negative mileage pledge", ErrInvalidAmount)
		}
		if pledge.Cmp(price) > 0 {
			return ErrPledgeTooLarge
		}
		if err := e.checkPledge(caller, pledge); err != nil {
			return err
		}
		nonce := e.l.nonce(caller)
		vid, err = OfferVID(caller, category, item, tokenID, amount, unitPrice, partial, pledge, nonce)
		if err != nil {
			return err
		}
		if _, exists := e.l.offers[vid]; exists {
			return fmt.Errorf("%w: offer %s", ErrDuplicateRecord, vid)
		}
		offer := &Offer{
			VID:           vid,
			Offeror:       caller,
			Category:      category,
			Item:          item,
			TokenID:       tokenID,
			Amount:        amount,
			UnitPrice:     cloneBigInt(unitPrice),
			PartialBuying: partial,
			MileagePledge: pledge,
			Nonce:         nonce,
		}
		e.l.insertOffer(offer)
		e.l.bumpNonce(caller)
		if err := e.collect(caller, price, pledge); err != nil {
			return err
		}
		e.emit(NewOfferCreatedEvent(offer))
		return nil
	})
	if err != nil {
		return VerificationID{}, err
	}
	return vid, nil
}

// CanOffer reports whether caller may currently make an offer on
// item/tokenID. It does not consider offers the caller already has open.
func (e *Engine) CanOffer(caller [20]byte, item [20]byte, tokenID TokenID) bool {
	if _, err := e.gate(item, caller); err != nil {
		return false
	}
	owned, err := e.state.ItemBalance(item, caller, tokenID)
	return err == nil && owned == 0
}

// CancelOffer withdraws the caller's offer and refunds the remaining escrow
// and mileage pledge.
func (e *Engine) CancelOffer(caller [20]byte, vid VerificationID) error {
	return e.execute("cancel_offer", func() error {
		return e.cancelOffers(caller, []VerificationID{vid}, false)
	})
}

// CancelOfferByOwner force-cancels offers for moderation, refunding each
// offeror in full.
func (e *Engine) CancelOfferByOwner(caller [20]byte, vids []VerificationID) error {
	return e.execute("cancel_offer_by_owner", func() error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		return e.cancelOffers(caller, vids, true)
	})
}

func (e *Engine) cancelOffers(caller [20]byte, vids []VerificationID, byOwner bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if len(vids) == 0 {
		return fmt.Errorf("%w: no offers given", ErrBatchLength)
	}
	cancelled := make([]*Offer, 0, len(vids))
	for _, vid := range vids {
		offer, ok := e.l.offers[vid]
		if !ok {
			return fmt.Errorf("%w: %s", ErrOfferNotFound, vid)
		}
		if !byOwner && offer.Offeror != caller {
			return fmt.Errorf("%w: not the offeror of %s", ErrUnauthorized, vid)
		}
		e.l.removeOffer(offer)
		cancelled = append(cancelled, offer)
	}
	for _, offer := range cancelled {
		if err := e.refund(offer.Offeror, mulAmount(offer.UnitPrice, offer.Amount), offer.MileagePledge); err != nil {
			return err
		}
		e.emit(NewOfferCancelledEvent(offer, byOwner))
	}
	return nil
}

// AcceptOffer sells amount units to the offeror. The caller must own the
// units at accept time, and units backing the caller's live sales cannot be
// delivered. On a partial accept the pledge is consumed pro rata;
// the final fill consumes whatever pledge remains.
func (e *Engine) AcceptOffer(caller [20]byte, vid VerificationID, amount uint64) error {
	return e.execute("accept_offer", func() error {
		if err := e.ready(); err != nil {
			return err
		}
		offer, ok := e.l.offers[vid]
		if !ok {
			return fmt.Errorf("%w: %s", ErrOfferNotFound, vid)
		}
		info, err := e.gate(offer.Item, caller, offer.Offeror)
		if err != nil {
			return err
		}
		if offer.Offeror == caller {
			return ErrSelfTrade
		}
		if amount == 0 {
			return ErrInvalidAmount
		}
		if amount > offer.Amount {
			return fmt.Errorf("%w: %d remaining", ErrAmountExceeds, offer.Amount)
		}
		if !offer.PartialBuying && amount != offer.Amount {
			return ErrPartialNotAllowed
		}
		owned, err := e.state.ItemBalance(offer.Item, caller, offer.TokenID)
		if err != nil {
			return collaborator("item balance", err)
		}
		if owned < amount {
			return fmt.Errorf("%w: holds %d of %d", ErrNotItemOwner, owned, amount)
		}
		free, err := e.unlisted(caller, offer.Key())
		if err != nil {
			return err
		}
		if free < amount {
			return fmt.Errorf("%w: %d unlisted, %d requested", ErrInsufficientItems, free, amount)
		}
		if err := e.checkApproval(offer.Item, caller); err != nil {
			return err
		}
		price := mulAmount(offer.UnitPrice, amount)
		pledgeUsed := consumedPledge(offer.MileagePledge, amount, offer.Amount)
		s, err := e.quote(info, offer.Item, offer.TokenID, price)
		if err != nil {
			return err
		}

		updated := offer.Clone()
		updated.Amount -= amount
		updated.MileagePledge.Sub(updated.MileagePledge, pledgeUsed)
		if updated.Amount == 0 {
			e.l.removeOffer(offer)
		} else {
			e.l.updateOffer(updated)
		}

		if err := e.moveItem(offer.Item, caller, offer.Offeror, offer.TokenID, amount); err != nil {
			return err
		}
		if err := e.pay("offer", s, caller, offer.Offeror); err != nil {
			return err
		}
		e.emit(NewOfferAcceptedEvent(updated, caller, amount, pledgeUsed, s.split))
		return nil
	})
}

// consumedPledge returns the share of pledge attributable to filling amount
// out of remaining units.
func consumedPledge(pledge *big.Int, amount, remaining uint64) *big.Int {
	if isZero(pledge) {
		return big.NewInt(0)
	}
	if amount >= remaining {
		return cloneBigInt(pledge)
	}
	used := new(big.Int).Mul(pledge, new(big.Int).SetUint64(amount))
	return used.Quo(used, new(big.Int).SetUint64(remaining))
}
