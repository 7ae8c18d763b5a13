package market

import "math/big"

// ItemRegistry is the ERC721/ERC1155-style ownership registry. The engine
// pulls items as an approved operator and moves escrowed auction items out of
// its own custody.
type ItemRegistry interface {
	ItemBalance(item, owner [20]byte, tokenID TokenID) (uint64, error)
	IsApprovedForAll(item, owner, operator [20]byte) (bool, error)
	TransferItem(operator, item, from, to [20]byte, tokenID TokenID, amount uint64) error
}

// CategoryRegistry answers whitelist, ban, category and royalty questions for
// item contracts.
type CategoryRegistry interface {
	ItemInfo(item [20]byte) (ItemInfo, error)
	Royalty(item [20]byte, tokenID TokenID) (RoyaltyQuote, error)
}

// PaymentToken moves the settlement currency. TransferFrom spends an allowance
// granted to spender by from; Transfer moves funds the caller holds itself.
type PaymentToken interface {
	TokenBalance(account [20]byte) (*big.Int, error)
	Transfer(from, to [20]byte, amount *big.Int) error
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
}

// State bundles the collaborators the engine reads and writes.
type State interface {
	ItemRegistry
	CategoryRegistry
	PaymentToken
}

// MileageStore holds loyalty balances. Credit and Debit are restricted to
// whitelisted callers such as the engine.
type MileageStore interface {
	Balance(account [20]byte) (*big.Int, error)
	Credit(caller, account [20]byte, amount *big.Int) error
	Debit(caller, account [20]byte, amount *big.Int) error
}

// Journal is implemented by collaborator state that can roll its own writes
// back. When present the engine takes a snapshot before each operation,
// reverts it if the operation fails and commits it otherwise.
type Journal interface {
	Snapshot() int
	RevertToSnapshot(id int)
	Commit(id int)
}
