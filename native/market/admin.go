package market

import (
	"fmt"
	"strconv"
)

// admin runs an owner-gated configuration change. Changes apply to
// subsequent operations only; settled trades are never recomputed.
func (e *Engine) admin(op string, caller [20]byte, fn func() error) error {
	return e.execute(op, func() error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		return fn()
	})
}

// SetFee updates the platform fee in basis points, capped at MaxFeeBps.
func (e *Engine) SetFee(caller [20]byte, feeBps uint32) error {
	return e.admin("set_fee", caller, func() error {
		if feeBps > MaxFeeBps {
			return fmt.Errorf("%w: %d > %d", ErrFeeTooHigh, feeBps, MaxFeeBps)
		}
		if feeBps > 0 && e.params.FeeReceiver == ([20]byte{}) {
			return fmt.Errorf("%w: fee receiver must be set", ErrInvalidParams)
		}
		previous := e.params.FeeBps
		e.params.FeeBps = feeBps
		e.emit(newAdminEvent(EventTypeFeeUpdated, caller, map[string]string{
			"previousFeeBps": strconv.FormatUint(uint64(previous), 10),
			"feeBps":         strconv.FormatUint(uint64(feeBps), 10),
		}))
		return nil
	})
}

// SetFeeReceiver updates the account receiving platform fees.
func (e *Engine) SetFeeReceiver(caller [20]byte, receiver [20]byte) error {
	return e.admin("set_fee_receiver", caller, func() error {
		if receiver == ([20]byte{}) {
			return fmt.Errorf("%w: fee receiver", ErrInvalidAddress)
		}
		e.params.FeeReceiver = receiver
		e.emit(newAdminEvent(EventTypeFeeReceiverUpdated, caller, map[string]string{
			"feeReceiver": hexAddr(receiver),
		}))
		return nil
	})
}

// SetAuctionExtensionInterval updates the anti-snipe window in blocks.
func (e *Engine) SetAuctionExtensionInterval(caller [20]byte, blocks uint64) error {
	return e.admin("set_extension_interval", caller, func() error {
		if blocks == 0 {
			return ErrInvalidInterval
		}
		e.params.ExtensionInterval = blocks
		e.emit(newAdminEvent(EventTypeExtensionIntervalUpdated, caller, map[string]string{
			"interval": u64(blocks),
		}))
		return nil
	})
}

// SetMileageRates updates the nominal rebate and the part of it funded from
// the fee for premium categories.
func (e *Engine) SetMileageRates(caller [20]byte, mileageBps, premiumBps uint32) error {
	return e.admin("set_mileage_rates", caller, func() error {
		if err := validateMileageRates(mileageBps, premiumBps); err != nil {
			return err
		}
		if mileageBps > 0 && e.params.MileagePool == ([20]byte{}) {
			return fmt.Errorf("%w: mileage pool must be set", ErrInvalidParams)
		}
		e.params.MileageBps = mileageBps
		e.params.PremiumMileageBps = premiumBps
		e.emit(newAdminEvent(EventTypeMileageRatesUpdated, caller, map[string]string{
			"mileageBps": strconv.FormatUint(uint64(mileageBps), 10),
			"premiumBps": strconv.FormatUint(uint64(premiumBps), 10),
		}))
		return nil
	})
}

// SetMileagePool updates the account that funds pledges and receives the
// mileage share of settlements.
func (e *Engine) SetMileagePool(caller [20]byte, pool [20]byte) error {
	return e.admin("set_mileage_pool", caller, func() error {
		if pool == ([20]byte{}) {
			return fmt.Errorf("%w: mileage pool", ErrInvalidAddress)
		}
		e.params.MileagePool = pool
		e.emit(newAdminEvent(EventTypeMileagePoolUpdated, caller, map[string]string{
			"mileagePool": hexAddr(pool),
		}))
		return nil
	})
}

// BanUser blocks account from trading. Its escrow can still be released
// through cancels and claims.
func (e *Engine) BanUser(caller [20]byte, account [20]byte) error {
	return e.admin("ban_user", caller, func() error {
		if account == e.params.Owner {
			return fmt.Errorf("%w: owner cannot be banned", ErrInvalidAddress)
		}
		if e.banned[account] {
			return nil
		}
		e.banned[account] = true
		e.l.j.record(func() { delete(e.banned, account) })
		e.emit(newAdminEvent(EventTypeUserBanned, caller, map[string]string{"account": hexAddr(account)}))
		return nil
	})
}

// UnbanUser lifts a ban.
func (e *Engine) UnbanUser(caller [20]byte, account [20]byte) error {
	return e.admin("unban_user", caller, func() error {
		if !e.banned[account] {
			return nil
		}
		delete(e.banned, account)
		e.l.j.record(func() { e.banned[account] = true })
		e.emit(newAdminEvent(EventTypeUserUnbanned, caller, map[string]string{"account": hexAddr(account)}))
		return nil
	})
}

// Pause halts trading entry points. Cancels and claims stay available.
func (e *Engine) Pause(caller [20]byte) error {
	return e.admin("pause", caller, func() error {
		if e.paused {
			return nil
		}
		e.paused = true
		e.emit(newAdminEvent(EventTypePaused, caller, nil))
		return nil
	})
}

// Resume re-enables trading after Pause.
func (e *Engine) Resume(caller [20]byte) error {
	return e.admin("resume", caller, func() error {
		if !e.paused {
			return nil
		}
		e.paused = false
		e.emit(newAdminEvent(EventTypeResumed, caller, nil))
		return nil
	})
}

// TransferOwnership hands the administrative role to owner.
func (e *Engine) TransferOwnership(caller [20]byte, owner [20]byte) error {
	return e.admin("transfer_ownership", caller, func() error {
		if owner == ([20]byte{}) {
			return fmt.Errorf("%w: owner", ErrInvalidAddress)
		}
		e.params.Owner = owner
		e.emit(newAdminEvent(EventTypeOwnershipTransferred, caller, map[string]string{
			"owner": hexAddr(owner),
		}))
		return nil
	})
}
