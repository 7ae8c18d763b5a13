package state

import "math/big"

var tokenSupplyKey = []byte("token/supply")

// TokenSupply returns the total payment token minted so far. Transfers never
// change it.
func (m *Manager) TokenSupply() (*big.Int, error) {
	return m.loadAmount(tokenSupplyKey)
}

func (m *Manager) addSupply(amount *big.Int) error {
	supply, err := m.TokenSupply()
	if err != nil {
		return err
	}
	return m.storeAmount(tokenSupplyKey, supply.Add(supply, amount))
}
