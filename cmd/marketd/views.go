package main

import (
	"math/big"

	"nhbmarket/crypto"
	"nhbmarket/native/market"
)

type saleView struct {
	VID           string `json:"vid"`
	Seller        string `json:"seller"`
	Category      uint64 `json:"category"`
	Item          string `json:"item"`
	TokenID       string `json:"tokenId"`
	Amount        uint64 `json:"amount"`
	UnitPrice     string `json:"unitPrice"`
	PartialBuying bool   `json:"partialBuying"`
	Nonce         uint64 `json:"nonce"`
}

type offerView struct {
	VID           string `json:"vid"`
	Offeror       string `json:"offeror"`
	Category      uint64 `json:"category"`
	Item          string `json:"item"`
	TokenID       string `json:"tokenId"`
	Amount        uint64 `json:"amount"`
	UnitPrice     string `json:"unitPrice"`
	PartialBuying bool   `json:"partialBuying"`
	MileagePledge string `json:"mileagePledge"`
	Escrowed      string `json:"escrowed"`
	Nonce         uint64 `json:"nonce"`
}

type bidView struct {
	Bidder        string `json:"bidder"`
	Price         string `json:"price"`
	MileagePledge string `json:"mileagePledge"`
	Block         uint64 `json:"block"`
	Refunded      bool   `json:"refunded"`
}

type auctionView struct {
	Seller     string    `json:"seller"`
	Item       string    `json:"item"`
	TokenID    string    `json:"tokenId"`
	Amount     uint64    `json:"amount"`
	StartPrice string    `json:"startPrice"`
	EndBlock   uint64    `json:"endBlock"`
	CreatedAt  uint64    `json:"createdAt"`
	Phase      string    `json:"phase"`
	Biddings   []bidView `json:"biddings"`
}

type accountView struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Mileage string `json:"mileage"`
	Nonce   uint64 `json:"nonce"`
	Banned  bool   `json:"banned"`
	Sales   int    `json:"sales"`
	Offers  int    `json:"offers"`
}

func accountString(a [20]byte) string {
	return crypto.MustNewAddress(crypto.MarketPrefix, a[:]).String()
}

func itemString(a [20]byte) string {
	return crypto.MustNewAddress(crypto.ItemPrefix, a[:]).String()
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newSaleView(s *market.Sale) saleView {
	return saleView{
		VID:           s.VID.Hex(),
		Seller:        accountString(s.Seller),
		Category:      s.Category,
		Item:          itemString(s.Item),
		TokenID:       s.TokenID.Dec(),
		Amount:        s.Amount,
		UnitPrice:     amountString(s.UnitPrice),
		PartialBuying: s.PartialBuying,
		Nonce:         s.Nonce,
	}
}

func newOfferView(o *market.Offer) offerView {
	return offerView{
		VID:           o.VID.Hex(),
		Offeror:       accountString(o.Offeror),
		Category:      o.Category,
		Item:          itemString(o.Item),
		TokenID:       o.TokenID.Dec(),
		Amount:        o.Amount,
		UnitPrice:     amountString(o.UnitPrice),
		PartialBuying: o.PartialBuying,
		MileagePledge: amountString(o.MileagePledge),
		Escrowed:      amountString(o.Escrowed()),
		Nonce:         o.Nonce,
	}
}

func newAuctionView(a *market.Auction, phase market.Phase, bids []market.Bid) auctionView {
	view := auctionView{
		Seller:     accountString(a.Seller),
		Item:       itemString(a.Item),
		TokenID:    a.TokenID.Dec(),
		Amount:     a.Amount,
		StartPrice: amountString(a.StartPrice),
		EndBlock:   a.EndBlock,
		CreatedAt:  a.CreatedAt,
		Phase:      phase.String(),
		Biddings:   make([]bidView, 0, len(bids)),
	}
	for _, b := range bids {
		view.Biddings = append(view.Biddings, bidView{
			Bidder:        accountString(b.Bidder),
			Price:         amountString(b.Price),
			MileagePledge: amountString(b.MileagePledge),
			Block:         b.Block,
			Refunded:      b.Refunded,
		})
	}
	return view
}
