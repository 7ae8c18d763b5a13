package market

import (
	"fmt"
	"math/big"
)

// SplitInput carries everything the split calculator needs. It holds no
// references to engine state so the calculation is a pure function.
type SplitInput struct {
	Price       *big.Int
	FeeBps      uint32
	Royalty     RoyaltyRate
	MileageMode bool
	Premium     bool
	MileageBps  uint32
	PremiumBps  uint32
}

// Split is the distribution of one settled price.
type Split struct {
	Price   *big.Int
	Fee     *big.Int
	Royalty *big.Int
	Mileage *big.Int
	Seller  *big.Int
}

// Clone returns a deep copy of the split.
func (s Split) Clone() Split {
	return Split{
		Price:   cloneBigInt(s.Price),
		Fee:     cloneBigInt(s.Fee),
		Royalty: cloneBigInt(s.Royalty),
		Mileage: cloneBigInt(s.Mileage),
		Seller:  cloneBigInt(s.Seller),
	}
}

// Total returns fee + royalty + mileage + seller.
func (s Split) Total() *big.Int {
	total := cloneBigInt(s.Fee)
	total.Add(total, cloneBigInt(s.Royalty))
	total.Add(total, cloneBigInt(s.Mileage))
	return total.Add(total, cloneBigInt(s.Seller))
}

func bps(price *big.Int, rate uint32) *big.Int {
	out := new(big.Int).Mul(price, new(big.Int).SetUint64(uint64(rate)))
	return out.Quo(out, big.NewInt(BpsDenominator))
}

// ComputeSplit distributes price between the platform fee, the royalty
// receiver, the mileage pool and the seller. Every share is floored; rounding
// dust stays with the seller so the four shares always sum to price.
func ComputeSplit(in SplitInput) (Split, error) {
	if in.Price == nil || in.Price.Sign() <= 0 {
		return Split{}, ErrInvalidPrice
	}
	if in.FeeBps > BpsDenominator {
		return Split{}, fmt.Errorf("%w: fee bps %d", ErrInvalidRate, in.FeeBps)
	}
	if in.Royalty.CategoryBps > BpsDenominator {
		return Split{}, fmt.Errorf("%w: royalty bps %d", ErrInvalidRate, in.Royalty.CategoryBps)
	}
	if err := validateMileageRates(in.MileageBps, in.PremiumBps); err != nil {
		return Split{}, err
	}
	price := new(big.Int).Set(in.Price)

	fee := bps(price, in.FeeBps)
	var royalty *big.Int
	switch ex := in.Royalty.Exceptional; {
	case ex == 0:
		royalty = bps(price, in.Royalty.CategoryBps)
	case ex == ExceptionalRoyaltyZero:
		royalty = big.NewInt(0)
	case ex == ExceptionalRoyaltyFull:
		royalty = new(big.Int).Set(price)
		fee = big.NewInt(0)
	case ex <= BpsDenominator:
		royalty = bps(price, ex)
	default:
		return Split{}, fmt.Errorf("%w: exceptional royalty %d", ErrInvalidRate, ex)
	}
	if new(big.Int).Add(fee, royalty).Cmp(price) > 0 {
		return Split{}, fmt.Errorf("%w: fee and royalty exceed price", ErrInvalidRate)
	}

	mileage := big.NewInt(0)
	switch {
	case !in.MileageMode:
	case !in.Premium:
		mileage = bps(price, in.MileageBps)
		if mileage.Cmp(royalty) > 0 {
			mileage = royalty
			royalty = big.NewInt(0)
		} else {
			royalty = new(big.Int).Sub(royalty, mileage)
		}
	default:
		fromFee := bps(price, in.PremiumBps)
		fromRoyalty := new(big.Int).Sub(bps(price, in.MileageBps), fromFee)
		if fromRoyalty.Sign() < 0 {
			fromRoyalty = big.NewInt(0)
		}
		if fromFee.Cmp(fee) > 0 {
			fromRoyalty.Add(fromRoyalty, new(big.Int).Sub(fromFee, fee))
			fromFee = new(big.Int).Set(fee)
		}
		if fromRoyalty.Cmp(royalty) > 0 {
			fromRoyalty = new(big.Int).Set(royalty)
		}
		fee = new(big.Int).Sub(fee, fromFee)
		royalty = new(big.Int).Sub(royalty, fromRoyalty)
		mileage = new(big.Int).Add(fromFee, fromRoyalty)
	}

	seller := new(big.Int).Sub(price, fee)
	seller.Sub(seller, royalty)
	seller.Sub(seller, mileage)
	split := Split{Price: price, Fee: fee, Royalty: royalty, Mileage: mileage, Seller: seller}
	if seller.Sign() < 0 || split.Total().Cmp(price) != 0 {
		return Split{}, fmt.Errorf("%w: split does not conserve price %s", ErrInvalidRate, price)
	}
	return split, nil
}
