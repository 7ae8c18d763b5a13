package market

import (
	"fmt"
	"math/big"

	nativecommon "nhbmarket/native/common"
)

func (e *Engine) ready() error {
	if e.state == nil {
		return ErrNotConfigured
	}
	return nil
}

// checkOpen rejects trading while the engine or the external pause registry
// has the module paused.
func (e *Engine) checkOpen() error {
	if e.paused {
		return ErrPaused
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return fmt.Errorf("%w: %v", ErrPaused, err)
	}
	return nil
}

func (e *Engine) checkAccounts(accounts ...[20]byte) error {
	for _, account := range accounts {
		if e.banned[account] {
			return fmt.Errorf("%w: account %x", ErrBanned, account)
		}
	}
	return nil
}

// checkItem loads the registry view of item and rejects items that are not
// whitelisted or whose category or artist is banned.
func (e *Engine) checkItem(item [20]byte) (ItemInfo, error) {
	info, err := e.itemInfo(item)
	if err != nil {
		return ItemInfo{}, err
	}
	if !info.Whitelisted {
		return ItemInfo{}, fmt.Errorf("%w: %x", ErrNotWhitelisted, item)
	}
	if info.Banned {
		return ItemInfo{}, fmt.Errorf("%w: item %x", ErrBanned, item)
	}
	return info, nil
}

func (e *Engine) itemInfo(item [20]byte) (ItemInfo, error) {
	info, err := e.state.ItemInfo(item)
	if err != nil {
		return ItemInfo{}, collaborator("item info", err)
	}
	if info.Standard != StandardERC721 && info.Standard != StandardERC1155 {
		return ItemInfo{}, fmt.Errorf("%w: %x has no item standard", ErrNotWhitelisted, item)
	}
	return info, nil
}

// gate runs the full access check used by every trading entry point.
func (e *Engine) gate(item [20]byte, accounts ...[20]byte) (ItemInfo, error) {
	if err := e.ready(); err != nil {
		return ItemInfo{}, err
	}
	if err := e.checkOpen(); err != nil {
		return ItemInfo{}, err
	}
	if err := e.checkAccounts(accounts...); err != nil {
		return ItemInfo{}, err
	}
	return e.checkItem(item)
}

func (e *Engine) requireOwner(caller [20]byte) error {
	if caller != e.params.Owner {
		return fmt.Errorf("%w: owner only", ErrUnauthorized)
	}
	return nil
}

func checkQuantity(info ItemInfo, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if info.Standard == StandardERC721 && amount != 1 {
		return fmt.Errorf("%w: erc721 items trade one unit at a time", ErrInvalidAmount)
	}
	return nil
}

func checkPrice(price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	return nil
}
