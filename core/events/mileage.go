package events

import (
	"encoding/hex"
	"math/big"

	"nhbmarket/core/types"
)

const (
	// TypeMileageCredited is emitted when a whitelisted caller credits an
	// account's mileage balance.
	TypeMileageCredited = "mileage.credited"
	// TypeMileageDebited is emitted when a whitelisted caller spends mileage
	// on behalf of an account.
	TypeMileageDebited = "mileage.debited"
	// TypeMileageCallerUpdated is emitted when the caller whitelist changes.
	TypeMileageCallerUpdated = "mileage.caller.updated"
)

// MileageMoved captures one credit or debit of a mileage balance.
type MileageMoved struct {
	Credit  bool
	Caller  [20]byte
	Account [20]byte
	Amount  *big.Int
	Balance *big.Int
}

// EventType implements the Event interface.
func (e MileageMoved) EventType() string {
	if e.Credit {
		return TypeMileageCredited
	}
	return TypeMileageDebited
}

// Event converts the movement into the generic attribute payload.
func (e MileageMoved) Event() *types.Event {
	amount := big.NewInt(0)
	if e.Amount != nil {
		amount = new(big.Int).Set(e.Amount)
	}
	balance := big.NewInt(0)
	if e.Balance != nil {
		balance = new(big.Int).Set(e.Balance)
	}
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"caller":  hex.EncodeToString(e.Caller[:]),
			"account": hex.EncodeToString(e.Account[:]),
			"amount":  amount.String(),
			"balance": balance.String(),
		},
	}
}

// MileageCallerUpdated records a whitelist change.
type MileageCallerUpdated struct {
	Caller  [20]byte
	Allowed bool
}

// EventType implements the Event interface.
func (MileageCallerUpdated) EventType() string { return TypeMileageCallerUpdated }

// Event converts the update into the generic attribute payload.
func (e MileageCallerUpdated) Event() *types.Event {
	allowed := "false"
	if e.Allowed {
		allowed = "true"
	}
	return &types.Event{
		Type: TypeMileageCallerUpdated,
		Attributes: map[string]string{
			"caller":  hex.EncodeToString(e.Caller[:]),
			"allowed": allowed,
		},
	}
}
