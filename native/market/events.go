package market

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"nhbmarket/core/types"
)

const (
	EventTypeSaleCreated      = "market.sale.created"
	EventTypeSalePriceChanged = "market.sale.price_changed"
	EventTypeSaleCancelled    = "market.sale.cancelled"
	EventTypeSalePurchased    = "market.sale.purchased"

	EventTypeOfferCreated   = "market.offer.created"
	EventTypeOfferCancelled = "market.offer.cancelled"
	EventTypeOfferAccepted  = "market.offer.accepted"

	EventTypeAuctionCreated   = "market.auction.created"
	EventTypeAuctionBid       = "market.auction.bid"
	EventTypeAuctionExtended  = "market.auction.extended"
	EventTypeAuctionRefunded  = "market.auction.refunded"
	EventTypeAuctionClaimed   = "market.auction.claimed"
	EventTypeAuctionCancelled = "market.auction.cancelled"

	EventTypeFeeUpdated               = "market.admin.fee_updated"
	EventTypeFeeReceiverUpdated       = "market.admin.fee_receiver_updated"
	EventTypeExtensionIntervalUpdated = "market.admin.extension_interval_updated"
	EventTypeMileageRatesUpdated      = "market.admin.mileage_rates_updated"
	EventTypeMileagePoolUpdated       = "market.admin.mileage_pool_updated"
	EventTypeUserBanned               = "market.admin.user_banned"
	EventTypeUserUnbanned             = "market.admin.user_unbanned"
	EventTypePaused                   = "market.admin.paused"
	EventTypeResumed                  = "market.admin.resumed"
	EventTypeOwnershipTransferred     = "market.admin.ownership_transferred"
)

func hexAddr(a [20]byte) string { return hex.EncodeToString(a[:]) }

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func decimal(v *big.Int) string { return cloneBigInt(v).String() }

func saleAttributes(s *Sale) map[string]string {
	return map[string]string{
		"vid":           s.VID.Hex(),
		"seller":        hexAddr(s.Seller),
		"category":      u64(s.Category),
		"item":          hexAddr(s.Item),
		"tokenId":       s.TokenID.Dec(),
		"amount":        u64(s.Amount),
		"unitPrice":     decimal(s.UnitPrice),
		"partialBuying": strconv.FormatBool(s.PartialBuying),
		"nonce":         u64(s.Nonce),
	}
}

func offerAttributes(o *Offer) map[string]string {
	return map[string]string{
		"vid":           o.VID.Hex(),
		"offeror":       hexAddr(o.Offeror),
		"category":      u64(o.Category),
		"item":          hexAddr(o.Item),
		"tokenId":       o.TokenID.Dec(),
		"amount":        u64(o.Amount),
		"unitPrice":     decimal(o.UnitPrice),
		"partialBuying": strconv.FormatBool(o.PartialBuying),
		"mileagePledge": decimal(o.MileagePledge),
		"nonce":         u64(o.Nonce),
	}
}

func auctionAttributes(a *Auction) map[string]string {
	return map[string]string{
		"seller":     hexAddr(a.Seller),
		"item":       hexAddr(a.Item),
		"tokenId":    a.TokenID.Dec(),
		"amount":     u64(a.Amount),
		"startPrice": decimal(a.StartPrice),
		"endBlock":   u64(a.EndBlock),
	}
}

func withSplit(attrs map[string]string, s Split) map[string]string {
	attrs["price"] = decimal(s.Price)
	attrs["fee"] = decimal(s.Fee)
	attrs["royalty"] = decimal(s.Royalty)
	attrs["mileage"] = decimal(s.Mileage)
	attrs["sellerAmount"] = decimal(s.Seller)
	return attrs
}

// NewSaleCreatedEvent carries every term of the listing, so the VID can be
// recomputed from the event alone.
func NewSaleCreatedEvent(s *Sale) *types.Event {
	return &types.Event{Type: EventTypeSaleCreated, Attributes: saleAttributes(s)}
}

// NewSalePriceChangedEvent reports a repricing of a live sale.
func NewSalePriceChangedEvent(s *Sale, previous *big.Int) *types.Event {
	attrs := saleAttributes(s)
	attrs["previousUnitPrice"] = decimal(previous)
	return &types.Event{Type: EventTypeSalePriceChanged, Attributes: attrs}
}

// NewSaleCancelledEvent reports a removed sale. byOwner marks moderation.
func NewSaleCancelledEvent(s *Sale, byOwner bool) *types.Event {
	attrs := saleAttributes(s)
	attrs["byOwner"] = strconv.FormatBool(byOwner)
	return &types.Event{Type: EventTypeSaleCancelled, Attributes: attrs}
}

// NewSalePurchasedEvent reports one filled line of a buy. s is the sale after
// the fill; its amount is what remains listed.
func NewSalePurchasedEvent(s *Sale, buyer [20]byte, filled uint64, pledge *big.Int, split Split) *types.Event {
	attrs := withSplit(saleAttributes(s), split)
	attrs["buyer"] = hexAddr(buyer)
	attrs["filled"] = u64(filled)
	attrs["remaining"] = u64(s.Amount)
	attrs["fulfilled"] = strconv.FormatBool(s.Amount == 0)
	attrs["pledge"] = decimal(pledge)
	delete(attrs, "amount")
	return &types.Event{Type: EventTypeSalePurchased, Attributes: attrs}
}

// NewOfferCreatedEvent carries every term of the offer including the pledge.
func NewOfferCreatedEvent(o *Offer) *types.Event {
	attrs := offerAttributes(o)
	attrs["escrowed"] = decimal(o.Escrowed())
	return &types.Event{Type: EventTypeOfferCreated, Attributes: attrs}
}

// NewOfferCancelledEvent reports a withdrawn offer and its refund.
func NewOfferCancelledEvent(o *Offer, byOwner bool) *types.Event {
	attrs := offerAttributes(o)
	attrs["refunded"] = decimal(o.Escrowed())
	attrs["byOwner"] = strconv.FormatBool(byOwner)
	return &types.Event{Type: EventTypeOfferCancelled, Attributes: attrs}
}

// NewOfferAcceptedEvent reports an accepted offer. o is the offer after the
// fill.
func NewOfferAcceptedEvent(o *Offer, seller [20]byte, filled uint64, pledgeUsed *big.Int, split Split) *types.Event {
	attrs := withSplit(offerAttributes(o), split)
	attrs["seller"] = hexAddr(seller)
	attrs["filled"] = u64(filled)
	attrs["remaining"] = u64(o.Amount)
	attrs["fulfilled"] = strconv.FormatBool(o.Amount == 0)
	attrs["pledgeUsed"] = decimal(pledgeUsed)
	delete(attrs, "amount")
	return &types.Event{Type: EventTypeOfferAccepted, Attributes: attrs}
}

// NewAuctionCreatedEvent reports an item moved into auction custody.
func NewAuctionCreatedEvent(a *Auction) *types.Event {
	return &types.Event{Type: EventTypeAuctionCreated, Attributes: auctionAttributes(a)}
}

// NewAuctionBidEvent reports an accepted bid.
func NewAuctionBidEvent(a *Auction, bid Bid) *types.Event {
	attrs := auctionAttributes(a)
	attrs["bidder"] = hexAddr(bid.Bidder)
	attrs["price"] = decimal(bid.Price)
	attrs["pledge"] = decimal(bid.MileagePledge)
	attrs["block"] = u64(bid.Block)
	return &types.Event{Type: EventTypeAuctionBid, Attributes: attrs}
}

// NewAuctionExtendedEvent reports an anti-snipe extension.
func NewAuctionExtendedEvent(a *Auction, previousEnd uint64) *types.Event {
	attrs := auctionAttributes(a)
	attrs["previousEndBlock"] = u64(previousEnd)
	return &types.Event{Type: EventTypeAuctionExtended, Attributes: attrs}
}

// NewAuctionRefundedEvent reports the refund of an outbid entry.
func NewAuctionRefundedEvent(a *Auction, bid Bid) *types.Event {
	attrs := auctionAttributes(a)
	attrs["bidder"] = hexAddr(bid.Bidder)
	attrs["price"] = decimal(bid.Price)
	attrs["pledge"] = decimal(bid.MileagePledge)
	return &types.Event{Type: EventTypeAuctionRefunded, Attributes: attrs}
}

// NewAuctionClaimedEvent reports the settlement of an ended auction.
func NewAuctionClaimedEvent(a *Auction, winner, caller [20]byte, split Split) *types.Event {
	attrs := withSplit(auctionAttributes(a), split)
	attrs["winner"] = hexAddr(winner)
	attrs["claimedBy"] = hexAddr(caller)
	return &types.Event{Type: EventTypeAuctionClaimed, Attributes: attrs}
}

// NewAuctionCancelledEvent reports a bid-less auction returned to its seller.
func NewAuctionCancelledEvent(a *Auction, byOwner bool) *types.Event {
	attrs := auctionAttributes(a)
	attrs["byOwner"] = strconv.FormatBool(byOwner)
	return &types.Event{Type: EventTypeAuctionCancelled, Attributes: attrs}
}

func newAdminEvent(eventType string, caller [20]byte, attrs map[string]string) *types.Event {
	if attrs == nil {
		attrs = make(map[string]string)
	}
	attrs["caller"] = hexAddr(caller)
	return &types.Event{Type: eventType, Attributes: attrs}
}
