package market

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// TokenID identifies a token inside an item contract.
type TokenID = uint256.Int

// ItemKey addresses one token of one item contract.
type ItemKey struct {
	Item    [20]byte
	TokenID TokenID
}

// NewItemKey builds the composite key for item/tokenID.
func NewItemKey(item [20]byte, tokenID uint64) ItemKey {
	return ItemKey{Item: item, TokenID: *uint256.NewInt(tokenID)}
}

func (k ItemKey) String() string {
	return hex.EncodeToString(k.Item[:]) + "/" + k.TokenID.Dec()
}

// VerificationID is the content-derived identifier of a sale or offer.
type VerificationID [32]byte

// Hex returns the 0x-less hex encoding used in events and views.
func (v VerificationID) Hex() string { return hex.EncodeToString(v[:]) }

func (v VerificationID) String() string { return v.Hex() }

// ParseVerificationID decodes the hex form produced by Hex.
func ParseVerificationID(s string) (VerificationID, error) {
	var vid VerificationID
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return vid, fmt.Errorf("market: decode verification id: %w", err)
	}
	if len(raw) != len(vid) {
		return vid, fmt.Errorf("market: verification id must be %d bytes", len(vid))
	}
	copy(vid[:], raw)
	return vid, nil
}

// Standard distinguishes single-owner items from semi-fungible ones.
type Standard uint8

const (
	StandardERC721 Standard = iota + 1
	StandardERC1155
)

func (s Standard) String() string {
	switch s {
	case StandardERC721:
		return "erc721"
	case StandardERC1155:
		return "erc1155"
	default:
		return "unknown"
	}
}

// Sale is a fixed-price listing. The item stays with the seller until a buy
// pulls the purchased units.
type Sale struct {
	VID           VerificationID
	Seller        [20]byte
	Category      uint64
	Item          [20]byte
	TokenID       TokenID
	Amount        uint64
	UnitPrice     *big.Int
	PartialBuying bool
	Nonce         uint64
}

// Key returns the item key of the listed token.
func (s *Sale) Key() ItemKey { return ItemKey{Item: s.Item, TokenID: s.TokenID} }

// Clone returns a deep copy of the sale.
func (s *Sale) Clone() *Sale {
	if s == nil {
		return nil
	}
	clone := *s
	clone.UnitPrice = cloneBigInt(s.UnitPrice)
	return &clone
}

// Offer is an escrowed bid on a token that may or may not be listed. Amount and
// MileagePledge track what is left after partial accepts.
type Offer struct {
	VID           VerificationID
	Offeror       [20]byte
	Category      uint64
	Item          [20]byte
	TokenID       TokenID
	Amount        uint64
	UnitPrice     *big.Int
	PartialBuying bool
	MileagePledge *big.Int
	Nonce         uint64
}

// Key returns the item key targeted by the offer.
func (o *Offer) Key() ItemKey { return ItemKey{Item: o.Item, TokenID: o.TokenID} }

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.UnitPrice = cloneBigInt(o.UnitPrice)
	clone.MileagePledge = cloneBigInt(o.MileagePledge)
	return &clone
}

// Escrowed returns the payment-token value held for the remaining amount,
// which is the remaining price minus the remaining mileage pledge.
func (o *Offer) Escrowed() *big.Int {
	total := mulAmount(o.UnitPrice, o.Amount)
	return total.Sub(total, cloneBigInt(o.MileagePledge))
}

// Auction is a time-boxed English auction. The item is held by the engine
// until the auction is claimed or cancelled.
type Auction struct {
	Seller     [20]byte
	Item       [20]byte
	TokenID    TokenID
	Amount     uint64
	StartPrice *big.Int
	EndBlock   uint64
	CreatedAt  uint64
}

// Key returns the auctioned item key.
func (a *Auction) Key() ItemKey { return ItemKey{Item: a.Item, TokenID: a.TokenID} }

// Clone returns a deep copy of the auction.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	clone.StartPrice = cloneBigInt(a.StartPrice)
	return &clone
}

// Bid is one entry of an auction's bidding history. Only the latest
// non-refunded entry holds escrow.
type Bid struct {
	Bidder        [20]byte
	Price         *big.Int
	MileagePledge *big.Int
	Block         uint64
	Refunded      bool
}

// Clone returns a deep copy of the bid.
func (b Bid) Clone() Bid {
	b.Price = cloneBigInt(b.Price)
	b.MileagePledge = cloneBigInt(b.MileagePledge)
	return b
}

// Phase is the observable state of an auction.
type Phase uint8

const (
	PhaseNone Phase = iota
	PhaseOpen
	PhaseActive
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseActive:
		return "active"
	case PhaseEnded:
		return "ended"
	default:
		return "none"
	}
}

// ItemInfo is the registry view of an item contract.
type ItemInfo struct {
	Whitelisted bool
	Banned      bool
	Category    uint64
	Standard    Standard
	MileageMode bool
	Premium     bool
}

// RoyaltyRate carries the category royalty and the optional per-token
// exceptional override.
type RoyaltyRate struct {
	CategoryBps uint32
	Exceptional uint32
}

// RoyaltyQuote is the registry answer to "who receives royalty for this token
// and at which rate".
type RoyaltyQuote struct {
	Receiver [20]byte
	Rate     RoyaltyRate
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func mulAmount(unitPrice *big.Int, amount uint64) *big.Int {
	return new(big.Int).Mul(cloneBigInt(unitPrice), new(big.Int).SetUint64(amount))
}

func isZero(v *big.Int) bool { return v == nil || v.Sign() == 0 }
