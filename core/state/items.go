package state

import (
	"fmt"

	"nhbmarket/native/market"
)

// ItemConfig is the registry entry of an item contract.
type ItemConfig struct {
	Standard        uint8
	Category        uint64
	Whitelisted     bool
	Banned          bool
	MileageMode     bool
	Premium         bool
	RoyaltyReceiver [20]byte
	RoyaltyBps      uint32
}

// MaxRoyaltyBps keeps category royalty plus the maximum platform fee within
// the price.
const MaxRoyaltyBps = market.BpsDenominator - market.MaxFeeBps

func itemConfigKey(item [20]byte) []byte {
	return append([]byte("item/config/"), item[:]...)
}

func itemTokenKey(prefix string, item [20]byte, tokenID market.TokenID) []byte {
	id := tokenID.Bytes32()
	key := append([]byte(prefix), item[:]...)
	return append(key, id[:]...)
}

func itemBalanceKey(item [20]byte, tokenID market.TokenID, owner [20]byte) []byte {
	return append(itemTokenKey("item/balance/", item, tokenID), owner[:]...)
}

func operatorKey(item, owner, operator [20]byte) []byte {
	key := append([]byte("item/operator/"), item[:]...)
	key = append(key, owner[:]...)
	return append(key, operator[:]...)
}

func validateItemConfig(cfg ItemConfig) error {
	switch market.Standard(cfg.Standard) {
	case market.StandardERC721, market.StandardERC1155:
	default:
		return fmt.Errorf("%w: unknown standard %d", ErrInvalidItemDescription, cfg.Standard)
	}
	if cfg.RoyaltyBps > MaxRoyaltyBps {
		return fmt.Errorf("%w: %d bps above %d", ErrInvalidRoyalty, cfg.RoyaltyBps, MaxRoyaltyBps)
	}
	return nil
}

// RegisterItem adds an item contract to the category registry.
func (m *Manager) RegisterItem(item [20]byte, cfg ItemConfig) error {
	if err := validateItemConfig(cfg); err != nil {
		return err
	}
	ok, err := m.get(itemConfigKey(item), nil)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %x", ErrItemAlreadyRegistered, item)
	}
	return m.put(itemConfigKey(item), &cfg)
}

// UpdateItem replaces the registry entry of a registered item.
func (m *Manager) UpdateItem(item [20]byte, fn func(*ItemConfig)) error {
	cfg, err := m.itemConfig(item)
	if err != nil {
		return err
	}
	fn(&cfg)
	if err := validateItemConfig(cfg); err != nil {
		return err
	}
	return m.put(itemConfigKey(item), &cfg)
}

func (m *Manager) itemConfig(item [20]byte) (ItemConfig, error) {
	var cfg ItemConfig
	ok, err := m.get(itemConfigKey(item), &cfg)
	if err != nil {
		return ItemConfig{}, err
	}
	if !ok {
		return ItemConfig{}, fmt.Errorf("%w: %x", ErrItemNotRegistered, item)
	}
	return cfg, nil
}

// ItemInfo returns the registry view of item. Unregistered items report as
// not whitelisted.
func (m *Manager) ItemInfo(item [20]byte) (market.ItemInfo, error) {
	var cfg ItemConfig
	ok, err := m.get(itemConfigKey(item), &cfg)
	if err != nil || !ok {
		return market.ItemInfo{}, err
	}
	return market.ItemInfo{
		Whitelisted: cfg.Whitelisted,
		Banned:      cfg.Banned,
		Category:    cfg.Category,
		Standard:    market.Standard(cfg.Standard),
		MileageMode: cfg.MileageMode,
		Premium:     cfg.Premium,
	}, nil
}

// SetExceptionalRoyalty overrides the category royalty of one token. Zero
// clears the override; market.ExceptionalRoyaltyZero and
// market.ExceptionalRoyaltyFull select no royalty and full royalty.
func (m *Manager) SetExceptionalRoyalty(item [20]byte, tokenID market.TokenID, rate uint32) error {
	if _, err := m.itemConfig(item); err != nil {
		return err
	}
	switch {
	case rate == market.ExceptionalRoyaltyZero, rate == market.ExceptionalRoyaltyFull:
	case rate > MaxRoyaltyBps:
		return fmt.Errorf("%w: exceptional %d", ErrInvalidRoyalty, rate)
	}
	key := itemTokenKey("item/exceptional/", item, tokenID)
	if rate == 0 {
		return m.del(key)
	}
	return m.put(key, rate)
}

// Royalty returns the receiver and rate applying to item/tokenID.
func (m *Manager) Royalty(item [20]byte, tokenID market.TokenID) (market.RoyaltyQuote, error) {
	cfg, err := m.itemConfig(item)
	if err != nil {
		return market.RoyaltyQuote{}, err
	}
	var exceptional uint32
	if _, err := m.get(itemTokenKey("item/exceptional/", item, tokenID), &exceptional); err != nil {
		return market.RoyaltyQuote{}, err
	}
	return market.RoyaltyQuote{
		Receiver: cfg.RoyaltyReceiver,
		Rate:     market.RoyaltyRate{CategoryBps: cfg.RoyaltyBps, Exceptional: exceptional},
	}, nil
}

func (m *Manager) loadCount(key []byte) (uint64, error) {
	var v uint64
	if _, err := m.get(key, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (m *Manager) storeCount(key []byte, v uint64) error {
	if v == 0 {
		return m.del(key)
	}
	return m.put(key, v)
}

// ItemBalance returns how many units of item/tokenID owner holds.
func (m *Manager) ItemBalance(item, owner [20]byte, tokenID market.TokenID) (uint64, error) {
	return m.loadCount(itemBalanceKey(item, tokenID, owner))
}

// MintItem creates amount units of item/tokenID for to. ERC721 tokens have a
// supply of exactly one.
func (m *Manager) MintItem(item, to [20]byte, tokenID market.TokenID, amount uint64) error {
	cfg, err := m.itemConfig(item)
	if err != nil {
		return err
	}
	if amount == 0 {
		return fmt.Errorf("%w: zero mint", ErrInvalidItemDescription)
	}
	supplyKey := itemTokenKey("item/supply/", item, tokenID)
	supply, err := m.loadCount(supplyKey)
	if err != nil {
		return err
	}
	if market.Standard(cfg.Standard) == market.StandardERC721 && (supply > 0 || amount != 1) {
		return fmt.Errorf("%w: %x/%s", ErrSingleOwnerSupply, item, tokenID.Dec())
	}
	if err := m.storeCount(supplyKey, supply+amount); err != nil {
		return err
	}
	balance, err := m.ItemBalance(item, to, tokenID)
	if err != nil {
		return err
	}
	return m.storeCount(itemBalanceKey(item, tokenID, to), balance+amount)
}

// SetApprovalForAll grants or revokes operator rights over every token of
// item held by owner.
func (m *Manager) SetApprovalForAll(item, owner, operator [20]byte, approved bool) error {
	key := operatorKey(item, owner, operator)
	if !approved {
		return m.del(key)
	}
	return m.put(key, true)
}

// IsApprovedForAll reports whether operator may move owner's units of item.
func (m *Manager) IsApprovedForAll(item, owner, operator [20]byte) (bool, error) {
	var approved bool
	if _, err := m.get(operatorKey(item, owner, operator), &approved); err != nil {
		return false, err
	}
	return approved, nil
}

// TransferItem moves amount units from one holder to another. The operator
// must be the holder or approved by it.
func (m *Manager) TransferItem(operator, item, from, to [20]byte, tokenID market.TokenID, amount uint64) error {
	if _, err := m.itemConfig(item); err != nil {
		return err
	}
	if operator != from {
		approved, err := m.IsApprovedForAll(item, from, operator)
		if err != nil {
			return err
		}
		if !approved {
			return fmt.Errorf("%w: %x for %x", ErrNotOperator, operator, from)
		}
	}
	if amount == 0 || from == to {
		return nil
	}
	fromBalance, err := m.ItemBalance(item, from, tokenID)
	if err != nil {
		return err
	}
	if fromBalance < amount {
		return fmt.Errorf("%w: %x holds %d of %d", ErrInsufficientItems, from, fromBalance, amount)
	}
	toBalance, err := m.ItemBalance(item, to, tokenID)
	if err != nil {
		return err
	}
	if err := m.storeCount(itemBalanceKey(item, tokenID, from), fromBalance-amount); err != nil {
		return err
	}
	return m.storeCount(itemBalanceKey(item, tokenID, to), toBalance+amount)
}

var _ market.State = (*Manager)(nil)
var _ market.Journal = (*Manager)(nil)
