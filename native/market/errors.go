package market

import (
	"errors"
	"fmt"
)

// Kind classifies every rejection returned by the engine.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindState
	KindValidation
	KindArithmetic
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindValidation:
		return "validation"
	case KindArithmetic:
		return "arithmetic"
	default:
		return "unknown"
	}
}

type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func newError(kind Kind, msg string) error { return &kindError{kind: kind, msg: msg} }

var (
	ErrUnauthorized   = newError(KindAuthorization, "market: unauthorized")
	ErrBanned         = newError(KindAuthorization, "market: banned")
	ErrNotWhitelisted = newError(KindAuthorization, "market: item not whitelisted")
	ErrNotItemOwner   = newError(KindAuthorization, "market: caller does not own the item")
	ErrNotApproved    = newError(KindAuthorization, "market: engine not approved for item")

	ErrSaleNotFound    = newError(KindState, "market: sale not found")
	ErrOfferNotFound   = newError(KindState, "market: offer not found")
	ErrAuctionNotFound = newError(KindState, "market: auction not found")
	ErrAuctionExists   = newError(KindState, "market: auction already exists")
	ErrItemInAuction   = newError(KindState, "market: item is under auction")
	ErrAuctionEnded    = newError(KindState, "market: auction ended")
	ErrAuctionNotEnded = newError(KindState, "market: auction not ended")
	ErrAuctionHasBids  = newError(KindState, "market: auction has bids")
	ErrNoBids          = newError(KindState, "market: auction has no bids")
	ErrDuplicateRecord = newError(KindState, "market: record already exists")
	ErrReentrant       = newError(KindState, "market: reentrant call")
	ErrPaused          = newError(KindState, "market: module paused")
	ErrNotConfigured   = newError(KindState, "market: collaborators not configured")

	ErrInvalidPrice        = newError(KindValidation, "market: price must be positive")
	ErrInvalidAmount       = newError(KindValidation, "market: invalid amount")
	ErrAmountExceeds       = newError(KindValidation, "market: amount exceeds available")
	ErrPartialNotAllowed   = newError(KindValidation, "market: partial fill not allowed")
	ErrPriceMismatch       = newError(KindValidation, "market: price does not match listing")
	ErrSamePrice           = newError(KindValidation, "market: price unchanged")
	ErrSelfTrade           = newError(KindValidation, "market: self trade")
	ErrBatchLength         = newError(KindValidation, "market: batch arrays length mismatch")
	ErrCategoryMismatch    = newError(KindValidation, "market: category mismatch")
	ErrAlreadyOwner        = newError(KindValidation, "market: caller already owns the item")
	ErrInsufficientItems   = newError(KindValidation, "market: insufficient item balance")
	ErrPledgeTooLarge      = newError(KindValidation, "market: mileage pledge exceeds price")
	ErrInsufficientMileage = newError(KindValidation, "market: insufficient mileage balance")
	ErrBidTooLow           = newError(KindValidation, "market: bid too low")
	ErrInvalidEndBlock     = newError(KindValidation, "market: end block must be in the future")
	ErrFeeTooHigh          = newError(KindValidation, "market: fee bps above cap")
	ErrInvalidRate         = newError(KindValidation, "market: invalid rate")
	ErrInvalidInterval     = newError(KindValidation, "market: extension interval must be positive")
	ErrInvalidParams       = newError(KindValidation, "market: invalid params")
	ErrInvalidAddress      = newError(KindValidation, "market: invalid address")
)

// CollaboratorError wraps a failure reported by an external collaborator
// (payment token, item registry, mileage store). The original error is kept
// unchanged and reachable through errors.Is/As.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("market: %s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

func collaborator(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *CollaboratorError
	if errors.As(err, &existing) {
		return err
	}
	return &CollaboratorError{Op: op, Err: err}
}

// KindOf returns the classification of err. Collaborator failures are
// arithmetic errors regardless of what they wrap.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return KindArithmetic
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}
