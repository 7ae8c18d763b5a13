package market

import (
	"fmt"
	"math/big"
)

// CreateAuction moves amount units of item/tokenID into engine custody and
// opens an English auction ending at endBlock. Units already listed for sale
// cannot be auctioned.
func (e *Engine) CreateAuction(caller [20]byte, item [20]byte, tokenID TokenID, amount uint64, startPrice *big.Int, endBlock uint64) error {
	return e.execute("create_auction", func() error {
		info, err := e.gate(item, caller)
		if err != nil {
			return err
		}
		if err := checkQuantity(info, amount); err != nil {
			return err
		}
		if err := checkPrice(startPrice); err != nil {
			return err
		}
		height := e.height()
		if endBlock <= height {
			return fmt.Errorf("%w: %d <= %d", ErrInvalidEndBlock, endBlock, height)
		}
		key := ItemKey{Item: item, TokenID: tokenID}
		if _, ok := e.l.auctions[key]; ok {
			return fmt.Errorf("%w: %s", ErrAuctionExists, key)
		}
		free, err := e.unlisted(caller, key)
		if err != nil {
			return err
		}
		if free < amount {
			return fmt.Errorf("%w: %d unlisted, %d requested", ErrInsufficientItems, free, amount)
		}
		if err := e.checkApproval(item, caller); err != nil {
			return err
		}
		auction := &Auction{
			Seller:     caller,
			Item:       item,
			TokenID:    tokenID,
			Amount:     amount,
			StartPrice: cloneBigInt(startPrice),
			EndBlock:   endBlock,
			CreatedAt:  height,
		}
		e.l.insertAuction(auction)
		if err := e.moveItem(item, caller, e.address, tokenID, amount); err != nil {
			return err
		}
		e.emit(NewAuctionCreatedEvent(auction))
		return nil
	})
}

// Bid places a bid strictly above the current highest bid, or above the start
// price for the first bid. The previous highest bid is refunded in full within
// the same operation. A bid landing within the extension interval of the end
// pushes the end back by one interval.
func (e *Engine) Bid(caller [20]byte, item [20]byte, tokenID TokenID, price, pledge *big.Int) error {
	return e.execute("bid", func() error {
		if _, err := e.gate(item, caller); err != nil {
			return err
		}
		key := ItemKey{Item: item, TokenID: tokenID}
		auction, ok := e.l.auctions[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAuctionNotFound, key)
		}
		if err := e.checkAccounts(auction.Seller); err != nil {
			return err
		}
		height := e.height()
		if height >= auction.EndBlock {
			return ErrAuctionEnded
		}
		if auction.Seller == caller {
			return ErrSelfTrade
		}
		if err := checkPrice(price); err != nil {
			return err
		}
		pledge = cloneBigInt(pledge)
		if pledge.Sign() < 0 {
			return fmt.Errorf("%w: negative mileage pledge", ErrInvalidAmount)
		}
		if pledge.Cmp(price) > 0 {
			return ErrPledgeTooLarge
		}
		prev, hasPrev := e.l.activeBid(key)
		floor := auction.StartPrice
		if hasPrev {
			floor = prev.Price
		}
		if price.Cmp(floor) <= 0 {
			return fmt.Errorf("%w: must exceed %s", ErrBidTooLow, floor)
		}
		if !isZero(pledge) {
			if e.mileage == nil {
				return fmt.Errorf("%w: mileage store not configured", ErrInsufficientMileage)
			}
			available, err := e.mileage.Balance(caller)
			if err != nil {
				return collaborator("mileage balance", err)
			}
			available = cloneBigInt(available)
			if hasPrev && prev.Bidder == caller {
				available.Add(available, prev.MileagePledge)
			}
			if available.Cmp(pledge) < 0 {
				return fmt.Errorf("%w: have %s, need %s", ErrInsufficientMileage, available, pledge)
			}
		}

		bids := make([]Bid, 0, len(e.l.biddings[key])+1)
		for _, b := range e.l.biddings[key] {
			if hasPrev && !b.Refunded && b.Bidder == prev.Bidder {
				if prev.Bidder == caller {
					continue
				}
				b.Refunded = true
			}
			bids = append(bids, b)
		}
		bid := Bid{Bidder: caller, Price: cloneBigInt(price), MileagePledge: pledge, Block: height}
		bids = append(bids, bid)
		e.l.setBiddings(key, bids)

		updated := auction.Clone()
		extended := false
		if updated.EndBlock-height < e.params.ExtensionInterval {
			updated.EndBlock += e.params.ExtensionInterval
			e.l.updateAuction(updated)
			extended = true
		}

		if hasPrev {
			if err := e.refund(prev.Bidder, prev.Price, prev.MileagePledge); err != nil {
				return err
			}
			e.emit(NewAuctionRefundedEvent(updated, prev))
		}
		if err := e.collect(caller, price, pledge); err != nil {
			return err
		}
		e.emit(NewAuctionBidEvent(updated, bid))
		if extended {
			e.emit(NewAuctionExtendedEvent(updated, auction.EndBlock))
		}
		return nil
	})
}

// Claim settles an ended auction: the highest bid is split among fee,
// royalty, mileage and seller and the item goes to the highest bidder. Anyone
// may claim once the auction has ended.
func (e *Engine) Claim(caller [20]byte, item [20]byte, tokenID TokenID) error {
	return e.execute("claim", func() error {
		if err := e.ready(); err != nil {
			return err
		}
		key := ItemKey{Item: item, TokenID: tokenID}
		auction, ok := e.l.auctions[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAuctionNotFound, key)
		}
		if e.height() < auction.EndBlock {
			return ErrAuctionNotEnded
		}
		winner, ok := e.l.activeBid(key)
		if !ok {
			return ErrNoBids
		}
		info, err := e.itemInfo(item)
		if err != nil {
			return err
		}
		s, err := e.quote(info, item, tokenID, winner.Price)
		if err != nil {
			return err
		}
		e.l.removeAuction(auction)
		if err := e.moveItem(item, e.address, winner.Bidder, tokenID, auction.Amount); err != nil {
			return err
		}
		if err := e.pay("auction", s, auction.Seller, winner.Bidder); err != nil {
			return err
		}
		e.emit(NewAuctionClaimedEvent(auction, winner.Bidder, caller, s.split))
		return nil
	})
}

// CancelAuction returns the item to the seller. Only auctions without bids
// can be cancelled, whether or not they have ended.
func (e *Engine) CancelAuction(caller [20]byte, item [20]byte, tokenID TokenID) error {
	return e.execute("cancel_auction", func() error {
		return e.cancelAuctions(caller, []ItemKey{{Item: item, TokenID: tokenID}}, false)
	})
}

// CancelAuctionByOwner force-cancels bid-less auctions for moderation.
func (e *Engine) CancelAuctionByOwner(caller [20]byte, keys []ItemKey) error {
	return e.execute("cancel_auction_by_owner", func() error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		return e.cancelAuctions(caller, keys, true)
	})
}

func (e *Engine) cancelAuctions(caller [20]byte, keys []ItemKey, byOwner bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: no auctions given", ErrBatchLength)
	}
	cancelled := make([]*Auction, 0, len(keys))
	for _, key := range keys {
		auction, ok := e.l.auctions[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAuctionNotFound, key)
		}
		if !byOwner && auction.Seller != caller {
			return fmt.Errorf("%w: not the seller of %s", ErrUnauthorized, key)
		}
		if len(e.l.biddings[key]) > 0 {
			return ErrAuctionHasBids
		}
		e.l.removeAuction(auction)
		cancelled = append(cancelled, auction)
	}
	for _, auction := range cancelled {
		if err := e.moveItem(auction.Item, e.address, auction.Seller, auction.TokenID, auction.Amount); err != nil {
			return err
		}
		e.emit(NewAuctionCancelledEvent(auction, byOwner))
	}
	return nil
}

// AuctionPhase reports the observable state of the auction on item/tokenID.
func (e *Engine) AuctionPhase(item [20]byte, tokenID TokenID) Phase {
	key := ItemKey{Item: item, TokenID: tokenID}
	auction, ok := e.l.auctions[key]
	switch {
	case !ok:
		return PhaseNone
	case e.height() >= auction.EndBlock:
		return PhaseEnded
	case len(e.l.biddings[key]) > 0:
		return PhaseActive
	default:
		return PhaseOpen
	}
}
