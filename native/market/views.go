package market

// Params returns the current market configuration.
func (e *Engine) Params() Params { return e.params }

// Paused reports whether trading is halted by the engine owner.
func (e *Engine) Paused() bool { return e.paused }

// IsBanned reports whether account is on the engine ban list.
func (e *Engine) IsBanned(account [20]byte) bool { return e.banned[account] }

// Nonce returns the next nonce of account.
func (e *Engine) Nonce(account [20]byte) uint64 { return e.l.nonce(account) }

// Sale returns a copy of the live sale identified by vid.
func (e *Engine) Sale(vid VerificationID) (*Sale, bool) {
	s, ok := e.l.sales[vid]
	return s.Clone(), ok
}

// Offer returns a copy of the live offer identified by vid.
func (e *Engine) Offer(vid VerificationID) (*Offer, bool) {
	o, ok := e.l.offers[vid]
	return o.Clone(), ok
}

// Auction returns a copy of the live auction on item/tokenID.
func (e *Engine) Auction(item [20]byte, tokenID TokenID) (*Auction, bool) {
	a, ok := e.l.auctions[ItemKey{Item: item, TokenID: tokenID}]
	return a.Clone(), ok
}

// Biddings returns the bidding history of the auction on item/tokenID in
// arrival order.
func (e *Engine) Biddings(item [20]byte, tokenID TokenID) []Bid {
	bids := e.l.biddings[ItemKey{Item: item, TokenID: tokenID}]
	out := make([]Bid, len(bids))
	for i, b := range bids {
		out[i] = b.Clone()
	}
	return out
}

// HighestBid returns the escrow-holding bid of the auction on item/tokenID.
func (e *Engine) HighestBid(item [20]byte, tokenID TokenID) (Bid, bool) {
	return e.l.activeBid(ItemKey{Item: item, TokenID: tokenID})
}

// SaleCountByToken returns the number of live sales of item/tokenID.
func (e *Engine) SaleCountByToken(item [20]byte, tokenID TokenID) int {
	return e.l.salesByToken.Len(ItemKey{Item: item, TokenID: tokenID})
}

// SaleByTokenAt returns the i-th live sale of item/tokenID.
func (e *Engine) SaleByTokenAt(item [20]byte, tokenID TokenID, i int) (VerificationID, bool) {
	return e.l.salesByToken.At(ItemKey{Item: item, TokenID: tokenID}, i)
}

// OnSaleTokenCount returns how many token IDs of item have a live sale.
func (e *Engine) OnSaleTokenCount(item [20]byte) int { return e.l.onSaleTokens.Len(item) }

// OnSaleTokenAt returns the i-th token ID of item with a live sale.
func (e *Engine) OnSaleTokenAt(item [20]byte, i int) (TokenID, bool) {
	return e.l.onSaleTokens.At(item, i)
}

// SaleCountByCategory returns the number of live sales in category.
func (e *Engine) SaleCountByCategory(category uint64) int {
	return e.l.salesByCategory.Len(category)
}

// SaleByCategoryAt returns the i-th live sale in category.
func (e *Engine) SaleByCategoryAt(category uint64, i int) (VerificationID, bool) {
	return e.l.salesByCategory.At(category, i)
}

// SaleCountBySeller returns the number of live sales opened by seller.
func (e *Engine) SaleCountBySeller(seller [20]byte) int { return e.l.salesBySeller.Len(seller) }

// SaleBySellerAt returns the i-th live sale opened by seller.
func (e *Engine) SaleBySellerAt(seller [20]byte, i int) (VerificationID, bool) {
	return e.l.salesBySeller.At(seller, i)
}

// OnSaleAmount returns how many units of item/tokenID seller has listed
// across all live sales.
func (e *Engine) OnSaleAmount(seller, item [20]byte, tokenID TokenID) uint64 {
	return e.l.onSaleAmount[sellerTokenKey{Seller: seller, Key: ItemKey{Item: item, TokenID: tokenID}}]
}

// OfferCountByToken returns the number of live offers on item/tokenID.
func (e *Engine) OfferCountByToken(item [20]byte, tokenID TokenID) int {
	return e.l.offersByToken.Len(ItemKey{Item: item, TokenID: tokenID})
}

// OfferByTokenAt returns the i-th live offer on item/tokenID.
func (e *Engine) OfferByTokenAt(item [20]byte, tokenID TokenID, i int) (VerificationID, bool) {
	return e.l.offersByToken.At(ItemKey{Item: item, TokenID: tokenID}, i)
}

// OfferCountByOfferor returns the number of live offers made by offeror.
func (e *Engine) OfferCountByOfferor(offeror [20]byte) int {
	return e.l.offersByOfferor.Len(offeror)
}

// OfferByOfferorAt returns the i-th live offer made by offeror.
func (e *Engine) OfferByOfferorAt(offeror [20]byte, i int) (VerificationID, bool) {
	return e.l.offersByOfferor.At(offeror, i)
}

// AuctionCountBySeller returns the number of live auctions opened by seller.
func (e *Engine) AuctionCountBySeller(seller [20]byte) int {
	return e.l.auctionsBySeller.Len(seller)
}

// AuctionBySellerAt returns the key of the i-th live auction opened by seller.
func (e *Engine) AuctionBySellerAt(seller [20]byte, i int) (ItemKey, bool) {
	return e.l.auctionsBySeller.At(seller, i)
}

// BiddingCountByBidder returns the number of auctions bidder has bid on.
func (e *Engine) BiddingCountByBidder(bidder [20]byte) int {
	return e.l.biddingsByBidder.Len(bidder)
}

// BiddingByBidderAt returns the key of the i-th auction bidder has bid on.
func (e *Engine) BiddingByBidderAt(bidder [20]byte, i int) (ItemKey, bool) {
	return e.l.biddingsByBidder.At(bidder, i)
}

// Stats summarises the live ledgers.
type Stats struct {
	Sales    int
	Offers   int
	Auctions int
}

// Stats returns the number of live records per ledger.
func (e *Engine) Stats() Stats {
	return Stats{Sales: len(e.l.sales), Offers: len(e.l.offers), Auctions: len(e.l.auctions)}
}
