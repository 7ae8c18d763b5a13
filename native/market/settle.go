package market

import (
	"fmt"
	"log/slog"
	"math/big"
)

// settlement is a split resolved before any ledger mutation together with the
// royalty receiver it pays.
type settlement struct {
	split           Split
	royaltyReceiver [20]byte
}

// quote resolves the royalty and mileage context of item/tokenID and computes
// the split of price. It only reads collaborator state.
func (e *Engine) quote(info ItemInfo, item [20]byte, tokenID TokenID, price *big.Int) (settlement, error) {
	royalty, err := e.state.Royalty(item, tokenID)
	if err != nil {
		return settlement{}, collaborator("royalty", err)
	}
	rate := royalty.Rate
	if royalty.Receiver == ([20]byte{}) {
		rate = RoyaltyRate{Exceptional: ExceptionalRoyaltyZero}
	}
	split, err := ComputeSplit(SplitInput{
		Price:       price,
		FeeBps:      e.params.FeeBps,
		Royalty:     rate,
		MileageMode: info.MileageMode && e.mileage != nil,
		Premium:     info.Premium,
		MileageBps:  e.params.MileageBps,
		PremiumBps:  e.params.PremiumMileageBps,
	})
	if err != nil {
		return settlement{}, err
	}
	return settlement{split: split, royaltyReceiver: royalty.Receiver}, nil
}

// checkPledge verifies that account holds at least total mileage.
func (e *Engine) checkPledge(account [20]byte, total *big.Int) error {
	if isZero(total) {
		return nil
	}
	if total.Sign() < 0 {
		return fmt.Errorf("%w: negative mileage pledge", ErrInvalidAmount)
	}
	if e.mileage == nil {
		return fmt.Errorf("%w: mileage store not configured", ErrInsufficientMileage)
	}
	balance, err := e.mileage.Balance(account)
	if err != nil {
		return collaborator("mileage balance", err)
	}
	if balance == nil || balance.Cmp(total) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientMileage, cloneBigInt(balance), total)
	}
	return nil
}

// collect moves price into engine custody: price minus pledge from payer, and
// the pledge as payment token from the mileage pool after debiting the payer's
// mileage balance.
func (e *Engine) collect(payer [20]byte, price, pledge *big.Int) error {
	net := new(big.Int).Sub(cloneBigInt(price), cloneBigInt(pledge))
	if net.Sign() > 0 {
		if err := e.state.TransferFrom(e.address, payer, e.address, net); err != nil {
			return collaborator("collect payment", err)
		}
	}
	if isZero(pledge) {
		return nil
	}
	if err := e.mileage.Debit(e.address, payer, pledge); err != nil {
		return collaborator("debit mileage", err)
	}
	if err := e.state.TransferFrom(e.address, e.params.MileagePool, e.address, pledge); err != nil {
		return collaborator("collect pledge", err)
	}
	return nil
}

// refund reverses collect for an escrow the engine still holds.
func (e *Engine) refund(account [20]byte, price, pledge *big.Int) error {
	net := new(big.Int).Sub(cloneBigInt(price), cloneBigInt(pledge))
	if net.Sign() > 0 {
		if err := e.state.Transfer(e.address, account, net); err != nil {
			return collaborator("refund payment", err)
		}
	}
	if isZero(pledge) {
		return nil
	}
	if err := e.state.Transfer(e.address, e.params.MileagePool, pledge); err != nil {
		return collaborator("return pledge", err)
	}
	if err := e.mileage.Credit(e.address, account, pledge); err != nil {
		return collaborator("credit mileage", err)
	}
	return nil
}

// pay distributes an escrowed price held by the engine according to s and
// credits the mileage share to beneficiary.
func (e *Engine) pay(kind string, s settlement, seller, beneficiary [20]byte) error {
	split := s.split
	legs := []struct {
		op     string
		to     [20]byte
		amount *big.Int
	}{
		{"pay fee", e.params.FeeReceiver, split.Fee},
		{"pay royalty", s.royaltyReceiver, split.Royalty},
		{"pay seller", seller, split.Seller},
		{"fund mileage", e.params.MileagePool, split.Mileage},
	}
	for _, leg := range legs {
		if isZero(leg.amount) {
			continue
		}
		if err := e.state.Transfer(e.address, leg.to, leg.amount); err != nil {
			return collaborator(leg.op, err)
		}
	}
	if !isZero(split.Mileage) {
		if err := e.mileage.Credit(e.address, beneficiary, split.Mileage); err != nil {
			return collaborator("credit mileage", err)
		}
	}
	e.metrics.RecordSettlement(kind, split)
	e.logger.Info("market settlement",
		slog.String("kind", kind),
		slog.String("price", split.Price.String()),
		slog.String("fee", split.Fee.String()),
		slog.String("royalty", split.Royalty.String()),
		slog.String("mileage", split.Mileage.String()),
		slog.String("seller", split.Seller.String()))
	return nil
}

// moveItem transfers units of an item with the engine acting as operator.
func (e *Engine) moveItem(item, from, to [20]byte, tokenID TokenID, amount uint64) error {
	if err := e.state.TransferItem(e.address, item, from, to, tokenID, amount); err != nil {
		return collaborator("transfer item", err)
	}
	return nil
}

// unlisted returns how many units of key owner holds beyond those already
// listed for sale.
func (e *Engine) unlisted(owner [20]byte, key ItemKey) (uint64, error) {
	balance, err := e.state.ItemBalance(key.Item, owner, key.TokenID)
	if err != nil {
		return 0, collaborator("item balance", err)
	}
	listed := e.l.onSaleAmount[sellerTokenKey{Seller: owner, Key: key}]
	if listed >= balance {
		return 0, nil
	}
	return balance - listed, nil
}

func (e *Engine) checkApproval(item, owner [20]byte) error {
	approved, err := e.state.IsApprovedForAll(item, owner, e.address)
	if err != nil {
		return collaborator("approval", err)
	}
	if !approved {
		return fmt.Errorf("%w: %x", ErrNotApproved, item)
	}
	return nil
}
