package market

import (
	"fmt"

	"nhbmarket/native/index"
)

// journal records undo steps for every ledger mutation of the running
// operation so a failed operation leaves no trace.
type journal struct {
	undo []func()
}

func (j *journal) record(fn func()) { j.undo = append(j.undo, fn) }

func (j *journal) mark() int { return len(j.undo) }

func (j *journal) revert(mark int) {
	for i := len(j.undo) - 1; i >= mark; i-- {
		j.undo[i]()
		j.undo[i] = nil
	}
	j.undo = j.undo[:mark]
}

func (j *journal) reset() { j.undo = j.undo[:0] }

type sellerTokenKey struct {
	Seller [20]byte
	Key    ItemKey
}

// ledger holds the three record stores and their secondary indices.
type ledger struct {
	j journal

	sales    map[VerificationID]*Sale
	offers   map[VerificationID]*Offer
	auctions map[ItemKey]*Auction
	biddings map[ItemKey][]Bid
	nonces   map[[20]byte]uint64

	salesByToken    *index.Groups[ItemKey, VerificationID]
	onSaleTokens    *index.Groups[[20]byte, TokenID]
	salesByCategory *index.Groups[uint64, VerificationID]
	salesBySeller   *index.Groups[[20]byte, VerificationID]
	onSaleAmount    map[sellerTokenKey]uint64

	offersByToken   *index.Groups[ItemKey, VerificationID]
	offersByOfferor *index.Groups[[20]byte, VerificationID]

	auctionsBySeller *index.Groups[[20]byte, ItemKey]
	biddingsByBidder *index.Groups[[20]byte, ItemKey]
}

func newLedger() *ledger {
	return &ledger{
		sales:            make(map[VerificationID]*Sale),
		offers:           make(map[VerificationID]*Offer),
		auctions:         make(map[ItemKey]*Auction),
		biddings:         make(map[ItemKey][]Bid),
		nonces:           make(map[[20]byte]uint64),
		salesByToken:     index.NewGroups[ItemKey, VerificationID](),
		onSaleTokens:     index.NewGroups[[20]byte, TokenID](),
		salesByCategory:  index.NewGroups[uint64, VerificationID](),
		salesBySeller:    index.NewGroups[[20]byte, VerificationID](),
		onSaleAmount:     make(map[sellerTokenKey]uint64),
		offersByToken:    index.NewGroups[ItemKey, VerificationID](),
		offersByOfferor:  index.NewGroups[[20]byte, VerificationID](),
		auctionsBySeller: index.NewGroups[[20]byte, ItemKey](),
		biddingsByBidder: index.NewGroups[[20]byte, ItemKey](),
	}
}

func addIndexed[G comparable, K comparable](j *journal, g *index.Groups[G, K], group G, key K) {
	if g.Add(group, key) {
		j.record(func() { g.Remove(group, key) })
	}
}

func removeIndexed[G comparable, K comparable](j *journal, g *index.Groups[G, K], group G, key K) {
	if slot, ok := g.Remove(group, key); ok {
		j.record(func() { g.Insert(group, key, slot) })
	}
}

func setMapValue[K comparable, V any](j *journal, m map[K]V, key K, value V) {
	prev, had := m[key]
	m[key] = value
	j.record(func() {
		if had {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
}

func deleteMapValue[K comparable, V any](j *journal, m map[K]V, key K) {
	prev, had := m[key]
	if !had {
		return
	}
	delete(m, key)
	j.record(func() { m[key] = prev })
}

func (l *ledger) nonce(account [20]byte) uint64 { return l.nonces[account] }

func (l *ledger) bumpNonce(account [20]byte) {
	setMapValue(&l.j, l.nonces, account, l.nonces[account]+1)
}

func (l *ledger) adjustOnSale(seller [20]byte, key ItemKey, add uint64, sub uint64) {
	k := sellerTokenKey{Seller: seller, Key: key}
	next := l.onSaleAmount[k] + add - sub
	if next == 0 {
		deleteMapValue(&l.j, l.onSaleAmount, k)
		return
	}
	setMapValue(&l.j, l.onSaleAmount, k, next)
}

// --- sales ---

func (l *ledger) insertSale(s *Sale) {
	key := s.Key()
	setMapValue(&l.j, l.sales, s.VID, s.Clone())
	addIndexed(&l.j, l.salesByToken, key, s.VID)
	addIndexed(&l.j, l.onSaleTokens, s.Item, s.TokenID)
	addIndexed(&l.j, l.salesByCategory, s.Category, s.VID)
	addIndexed(&l.j, l.salesBySeller, s.Seller, s.VID)
	l.adjustOnSale(s.Seller, key, s.Amount, 0)
}

func (l *ledger) updateSale(s *Sale) {
	setMapValue(&l.j, l.sales, s.VID, s.Clone())
}

// fillSale removes amount units from the sale and purges it once depleted.
// It returns the updated record.
func (l *ledger) fillSale(s *Sale, amount uint64) *Sale {
	updated := s.Clone()
	updated.Amount -= amount
	if updated.Amount == 0 {
		l.removeSale(s)
		return updated
	}
	l.updateSale(updated)
	l.adjustOnSale(s.Seller, s.Key(), 0, amount)
	return updated
}

func (l *ledger) removeSale(s *Sale) {
	key := s.Key()
	deleteMapValue(&l.j, l.sales, s.VID)
	removeIndexed(&l.j, l.salesByToken, key, s.VID)
	if l.salesByToken.Len(key) == 0 {
		removeIndexed(&l.j, l.onSaleTokens, s.Item, s.TokenID)
	}
	removeIndexed(&l.j, l.salesByCategory, s.Category, s.VID)
	removeIndexed(&l.j, l.salesBySeller, s.Seller, s.VID)
	l.adjustOnSale(s.Seller, key, 0, s.Amount)
}

// --- offers ---

func (l *ledger) insertOffer(o *Offer) {
	setMapValue(&l.j, l.offers, o.VID, o.Clone())
	addIndexed(&l.j, l.offersByToken, o.Key(), o.VID)
	addIndexed(&l.j, l.offersByOfferor, o.Offeror, o.VID)
}

func (l *ledger) updateOffer(o *Offer) {
	setMapValue(&l.j, l.offers, o.VID, o.Clone())
}

func (l *ledger) removeOffer(o *Offer) {
	deleteMapValue(&l.j, l.offers, o.VID)
	removeIndexed(&l.j, l.offersByToken, o.Key(), o.VID)
	removeIndexed(&l.j, l.offersByOfferor, o.Offeror, o.VID)
}

// --- auctions ---

func (l *ledger) insertAuction(a *Auction) {
	setMapValue(&l.j, l.auctions, a.Key(), a.Clone())
	addIndexed(&l.j, l.auctionsBySeller, a.Seller, a.Key())
}

func (l *ledger) updateAuction(a *Auction) {
	setMapValue(&l.j, l.auctions, a.Key(), a.Clone())
}

// removeAuction purges the auction, its bidding history and every bidder
// index entry pointing at it.
func (l *ledger) removeAuction(a *Auction) {
	key := a.Key()
	for _, bid := range l.biddings[key] {
		removeIndexed(&l.j, l.biddingsByBidder, bid.Bidder, key)
	}
	deleteMapValue(&l.j, l.biddings, key)
	deleteMapValue(&l.j, l.auctions, key)
	removeIndexed(&l.j, l.auctionsBySeller, a.Seller, key)
}

func (l *ledger) setBiddings(key ItemKey, bids []Bid) {
	copied := make([]Bid, len(bids))
	for i, b := range bids {
		copied[i] = b.Clone()
	}
	setMapValue(&l.j, l.biddings, key, copied)
	for _, b := range copied {
		addIndexed(&l.j, l.biddingsByBidder, b.Bidder, key)
	}
}

// activeBid returns the escrow-holding entry of an auction, if any.
func (l *ledger) activeBid(key ItemKey) (Bid, bool) {
	bids := l.biddings[key]
	for i := len(bids) - 1; i >= 0; i-- {
		if !bids[i].Refunded {
			return bids[i].Clone(), true
		}
	}
	return Bid{}, false
}

// checkConsistency verifies that every live record appears in exactly the
// indices its type requires and that every index entry resolves to a live
// record of the matching group.
func (l *ledger) checkConsistency() error {
	tokenEntries, categoryEntries, sellerEntries := 0, 0, 0
	amounts := make(map[sellerTokenKey]uint64)
	for vid, s := range l.sales {
		if s.VID != vid {
			return fmt.Errorf("sale %s stored under %s", s.VID, vid)
		}
		if s.Amount == 0 {
			return fmt.Errorf("sale %s has no remaining amount", vid)
		}
		key := s.Key()
		if !l.salesByToken.Has(key, vid) {
			return fmt.Errorf("sale %s missing from token index", vid)
		}
		if !l.onSaleTokens.Has(s.Item, s.TokenID) {
			return fmt.Errorf("sale %s token missing from on-sale index", vid)
		}
		if !l.salesByCategory.Has(s.Category, vid) {
			return fmt.Errorf("sale %s missing from category index", vid)
		}
		if !l.salesBySeller.Has(s.Seller, vid) {
			return fmt.Errorf("sale %s missing from seller index", vid)
		}
		amounts[sellerTokenKey{Seller: s.Seller, Key: key}] += s.Amount
	}
	var err error
	l.salesByToken.Each(func(key ItemKey, vid VerificationID) {
		tokenEntries++
		if s, ok := l.sales[vid]; err == nil && (!ok || s.Key() != key) {
			err = fmt.Errorf("token index entry %s/%s dangling", key, vid)
		}
	})
	l.salesByCategory.Each(func(category uint64, vid VerificationID) {
		categoryEntries++
		if s, ok := l.sales[vid]; err == nil && (!ok || s.Category != category) {
			err = fmt.Errorf("category index entry %d/%s dangling", category, vid)
		}
	})
	l.salesBySeller.Each(func(seller [20]byte, vid VerificationID) {
		sellerEntries++
		if s, ok := l.sales[vid]; err == nil && (!ok || s.Seller != seller) {
			err = fmt.Errorf("seller index entry %x/%s dangling", seller, vid)
		}
	})
	l.onSaleTokens.Each(func(item [20]byte, tokenID TokenID) {
		if err == nil && l.salesByToken.Len(ItemKey{Item: item, TokenID: tokenID}) == 0 {
			err = fmt.Errorf("on-sale entry %x/%s has no sales", item, tokenID.Dec())
		}
	})
	if err != nil {
		return err
	}
	if tokenEntries != len(l.sales) || categoryEntries != len(l.sales) || sellerEntries != len(l.sales) {
		return fmt.Errorf("sale index sizes %d/%d/%d do not match %d sales", tokenEntries, categoryEntries, sellerEntries, len(l.sales))
	}
	if len(amounts) != len(l.onSaleAmount) {
		return fmt.Errorf("on-sale counters %d do not match %d seller tokens", len(l.onSaleAmount), len(amounts))
	}
	for k, v := range amounts {
		if l.onSaleAmount[k] != v {
			return fmt.Errorf("on-sale counter for %x/%s is %d, want %d", k.Seller, k.Key, l.onSaleAmount[k], v)
		}
	}

	offerTokenEntries, offerorEntries := 0, 0
	for vid, o := range l.offers {
		if o.VID != vid || o.Amount == 0 {
			return fmt.Errorf("offer %s malformed", vid)
		}
		if !l.offersByToken.Has(o.Key(), vid) || !l.offersByOfferor.Has(o.Offeror, vid) {
			return fmt.Errorf("offer %s missing from an index", vid)
		}
	}
	l.offersByToken.Each(func(key ItemKey, vid VerificationID) {
		offerTokenEntries++
		if o, ok := l.offers[vid]; err == nil && (!ok || o.Key() != key) {
			err = fmt.Errorf("offer token index entry %s/%s dangling", key, vid)
		}
	})
	l.offersByOfferor.Each(func(offeror [20]byte, vid VerificationID) {
		offerorEntries++
		if o, ok := l.offers[vid]; err == nil && (!ok || o.Offeror != offeror) {
			err = fmt.Errorf("offeror index entry %x/%s dangling", offeror, vid)
		}
	})
	if err != nil {
		return err
	}
	if offerTokenEntries != len(l.offers) || offerorEntries != len(l.offers) {
		return fmt.Errorf("offer index sizes %d/%d do not match %d offers", offerTokenEntries, offerorEntries, len(l.offers))
	}

	sellerAuctions := 0
	for key, a := range l.auctions {
		if a.Key() != key {
			return fmt.Errorf("auction %s stored under %s", a.Key(), key)
		}
		if !l.auctionsBySeller.Has(a.Seller, key) {
			return fmt.Errorf("auction %s missing from seller index", key)
		}
	}
	l.auctionsBySeller.Each(func(seller [20]byte, key ItemKey) {
		sellerAuctions++
		if a, ok := l.auctions[key]; err == nil && (!ok || a.Seller != seller) {
			err = fmt.Errorf("auction seller entry %x/%s dangling", seller, key)
		}
	})
	if err != nil {
		return err
	}
	if sellerAuctions != len(l.auctions) {
		return fmt.Errorf("auction index size %d does not match %d auctions", sellerAuctions, len(l.auctions))
	}
	bidderEntries := 0
	for key, bids := range l.biddings {
		if _, ok := l.auctions[key]; !ok {
			return fmt.Errorf("bidding history for %s without auction", key)
		}
		bidders := make(map[[20]byte]struct{})
		active := 0
		for _, b := range bids {
			bidders[b.Bidder] = struct{}{}
			if !b.Refunded {
				active++
			}
			if !l.biddingsByBidder.Has(b.Bidder, key) {
				return fmt.Errorf("bidder %x missing from bidding index of %s", b.Bidder, key)
			}
		}
		if active > 1 {
			return fmt.Errorf("auction %s has %d active bids", key, active)
		}
		bidderEntries += len(bidders)
	}
	total := 0
	l.biddingsByBidder.Each(func([20]byte, ItemKey) { total++ })
	if total != bidderEntries {
		return fmt.Errorf("bidding index size %d does not match %d bidders", total, bidderEntries)
	}
	return nil
}
