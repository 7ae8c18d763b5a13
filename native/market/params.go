package market

import (
	"fmt"
	"math"
)

const (
	moduleName = "market"

	// BpsDenominator is the scaling factor for every basis point rate.
	BpsDenominator = 10_000
	// MaxFeeBps caps the platform fee so the remainder stays reserved for the
	// seller and royalty receivers.
	MaxFeeBps uint32 = 2_500
	// DefaultFeeBps is the platform fee applied by DefaultParams (2.5%).
	DefaultFeeBps uint32 = 250
	// DefaultExtensionInterval is the anti-snipe window, in blocks.
	DefaultExtensionInterval uint64 = 300
	// DefaultMileageBps is the nominal mileage rebate (1%).
	DefaultMileageBps uint32 = 100
	// DefaultPremiumMileageBps is the share of the rebate funded from the fee
	// for premium categories (0.5%).
	DefaultPremiumMileageBps uint32 = 50

	// ExceptionalRoyaltyZero overrides the category royalty with no royalty.
	ExceptionalRoyaltyZero uint32 = BpsDenominator + 1
	// ExceptionalRoyaltyFull overrides the category royalty with the full
	// price, which also suppresses the platform fee.
	ExceptionalRoyaltyFull uint32 = math.MaxUint32
)

// Params is the process-wide market configuration. It is owned by the engine
// and only mutated through the owner-gated administrative operations.
type Params struct {
	Owner             [20]byte
	FeeBps            uint32
	FeeReceiver       [20]byte
	ExtensionInterval uint64
	MileageBps        uint32
	PremiumMileageBps uint32
	MileagePool       [20]byte
}

// DefaultParams returns the module defaults for the supplied owner. Fee
// receiver and mileage pool default to the owner.
func DefaultParams(owner [20]byte) Params {
	return Params{
		Owner:             owner,
		FeeBps:            DefaultFeeBps,
		FeeReceiver:       owner,
		ExtensionInterval: DefaultExtensionInterval,
		MileageBps:        DefaultMileageBps,
		PremiumMileageBps: DefaultPremiumMileageBps,
		MileagePool:       owner,
	}
}

// Validate reports whether the configuration can be applied.
func (p Params) Validate() error {
	if p.Owner == ([20]byte{}) {
		return fmt.Errorf("%w: owner must be set", ErrInvalidParams)
	}
	if p.FeeBps > MaxFeeBps {
		return fmt.Errorf("%w: %d > %d", ErrFeeTooHigh, p.FeeBps, MaxFeeBps)
	}
	if p.FeeBps > 0 && p.FeeReceiver == ([20]byte{}) {
		return fmt.Errorf("%w: fee receiver must be set", ErrInvalidParams)
	}
	if p.ExtensionInterval == 0 {
		return ErrInvalidInterval
	}
	if err := validateMileageRates(p.MileageBps, p.PremiumMileageBps); err != nil {
		return err
	}
	if p.MileageBps > 0 && p.MileagePool == ([20]byte{}) {
		return fmt.Errorf("%w: mileage pool must be set", ErrInvalidParams)
	}
	return nil
}

func validateMileageRates(mileageBps, premiumBps uint32) error {
	if mileageBps > BpsDenominator {
		return fmt.Errorf("%w: mileage bps %d", ErrInvalidRate, mileageBps)
	}
	if premiumBps > mileageBps {
		return fmt.Errorf("%w: premium bps %d exceeds mileage bps %d", ErrInvalidRate, premiumBps, mileageBps)
	}
	return nil
}
