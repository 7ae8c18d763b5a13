package state

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrInvalidAmount          = errors.New("state: amount must not be negative")
	ErrInsufficientBalance    = errors.New("state: insufficient token balance")
	ErrInsufficientAllowance  = errors.New("state: insufficient allowance")
	ErrInsufficientItems      = errors.New("state: insufficient item balance")
	ErrNotOperator            = errors.New("state: operator not approved")
	ErrItemNotRegistered      = errors.New("state: item not registered")
	ErrItemAlreadyRegistered  = errors.New("state: item already registered")
	ErrSingleOwnerSupply      = errors.New("state: erc721 token already minted")
	ErrInvalidRoyalty         = errors.New("state: invalid royalty rate")
	ErrInvalidItemDescription = errors.New("state: invalid item description")
)

func tokenBalanceKey(account [20]byte) []byte {
	return append([]byte("token/balance/"), account[:]...)
}

func allowanceKey(owner, spender [20]byte) []byte {
	key := append([]byte("token/allowance/"), owner[:]...)
	return append(key, spender[:]...)
}

func (m *Manager) loadAmount(key []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := m.get(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (m *Manager) storeAmount(key []byte, value *big.Int) error {
	if value.Sign() == 0 {
		return m.del(key)
	}
	return m.put(key, value)
}

// TokenBalance returns the payment token balance of account.
func (m *Manager) TokenBalance(account [20]byte) (*big.Int, error) {
	return m.loadAmount(tokenBalanceKey(account))
}

// Mint credits amount of payment token to account. It is used by genesis
// scripts and tests.
func (m *Manager) Mint(account [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	balance, err := m.TokenBalance(account)
	if err != nil {
		return err
	}
	if err := m.storeAmount(tokenBalanceKey(account), balance.Add(balance, amount)); err != nil {
		return err
	}
	return m.addSupply(amount)
}

// Allowance returns how much spender may move on behalf of owner.
func (m *Manager) Allowance(owner, spender [20]byte) (*big.Int, error) {
	return m.loadAmount(allowanceKey(owner, spender))
}

// Approve sets the allowance of spender over owner's balance.
func (m *Manager) Approve(owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return m.storeAmount(allowanceKey(owner, spender), new(big.Int).Set(amount))
}

// Transfer moves amount of payment token from one account to another.
func (m *Manager) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromBalance, err := m.TokenBalance(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %x has %s, needs %s", ErrInsufficientBalance, from, fromBalance, amount)
	}
	toBalance, err := m.TokenBalance(to)
	if err != nil {
		return err
	}
	if err := m.storeAmount(tokenBalanceKey(from), fromBalance.Sub(fromBalance, amount)); err != nil {
		return err
	}
	return m.storeAmount(tokenBalanceKey(to), toBalance.Add(toBalance, amount))
}

// TransferFrom moves amount from one account to another, spending the
// allowance from granted to spender.
func (m *Manager) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if spender != from {
		allowance, err := m.Allowance(from, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %x allows %s, needs %s", ErrInsufficientAllowance, from, allowance, amount)
		}
		if err := m.storeAmount(allowanceKey(from, spender), allowance.Sub(allowance, amount)); err != nil {
			return err
		}
	}
	return m.Transfer(from, to, amount)
}
