package market

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	saleDomain  = []byte("nhbmarket/sale")
	offerDomain = []byte("nhbmarket/offer")
)

type saleTerms struct {
	Seller        [20]byte
	Category      uint64
	Item          [20]byte
	TokenID       [32]byte
	Amount        uint64
	UnitPrice     *big.Int
	PartialBuying bool
	Nonce         uint64
}

type offerTerms struct {
	Offeror       [20]byte
	Category      uint64
	Item          [20]byte
	TokenID       [32]byte
	Amount        uint64
	UnitPrice     *big.Int
	PartialBuying bool
	MileagePledge *big.Int
	Nonce         uint64
}

// SaleVID derives the verification ID of a sale from its immutable terms and
// the seller's nonce at listing time.
func SaleVID(seller [20]byte, category uint64, item [20]byte, tokenID TokenID, amount uint64, unitPrice *big.Int, partial bool, nonce uint64) (VerificationID, error) {
	terms := saleTerms{
		Seller:        seller,
		Category:      category,
		Item:          item,
		TokenID:       tokenID.Bytes32(),
		Amount:        amount,
		UnitPrice:     cloneBigInt(unitPrice),
		PartialBuying: partial,
		Nonce:         nonce,
	}
	encoded, err := rlp.EncodeToBytes(&terms)
	if err != nil {
		return VerificationID{}, fmt.Errorf("market: encode sale terms: %w", err)
	}
	return VerificationID(ethcrypto.Keccak256Hash(saleDomain, encoded)), nil
}

// OfferVID derives the verification ID of an offer. The mileage pledge is part
// of the terms.
func OfferVID(offeror [20]byte, category uint64, item [20]byte, tokenID TokenID, amount uint64, unitPrice *big.Int, partial bool, pledge *big.Int, nonce uint64) (VerificationID, error) {
	terms := offerTerms{
		Offeror:       offeror,
		Category:      category,
		Item:          item,
		TokenID:       tokenID.Bytes32(),
		Amount:        amount,
		UnitPrice:     cloneBigInt(unitPrice),
		PartialBuying: partial,
		MileagePledge: cloneBigInt(pledge),
		Nonce:         nonce,
	}
	encoded, err := rlp.EncodeToBytes(&terms)
	if err != nil {
		return VerificationID{}, fmt.Errorf("market: encode offer terms: %w", err)
	}
	return VerificationID(ethcrypto.Keccak256Hash(offerDomain, encoded)), nil
}
