package market

import (
	"fmt"
	"log/slog"
	"math/big"
)

// Sell lists amount units of item/tokenID at unitPrice. The item stays with
// the seller; the engine must be approved as operator so a later Buy can pull
// the purchased units.
func (e *Engine) Sell(caller [20]byte, category uint64, item [20]byte, tokenID TokenID, amount uint64, unitPrice *big.Int, partial bool) (VerificationID, error) {
	var vid VerificationID
	err := e.execute("sell", func() error {
		info, err := e.gate(item, caller)
		if err != nil {
			return err
		}
		if err := checkQuantity(info, amount); err != nil {
			return err
		}
		if err := checkPrice(unitPrice); err != nil {
			return err
		}
		if info.Category != category {
			return fmt.Errorf("%w: listed %d, registry %d", ErrCategoryMismatch, category, info.Category)
		}
		key := ItemKey{Item: item, TokenID: tokenID}
		if _, ok := e.l.auctions[key]; ok {
			return ErrItemInAuction
		}
		free, err := e.unlisted(caller, key)
		if err != nil {
			return err
		}
		if free < amount {
			return fmt.Errorf("%w: %d unlisted, %d requested", ErrInsufficientItems, free, amount)
		}
		if err := e.checkApproval(item, caller); err != nil {
			return err
		}
		nonce := e.l.nonce(caller)
		vid, err = SaleVID(caller, category, item, tokenID, amount, unitPrice, partial, nonce)
		if err != nil {
			return err
		}
		if _, exists := e.l.sales[vid]; exists {
			return fmt.Errorf("%w: sale %s", ErrDuplicateRecord, vid)
		}
		sale := &Sale{
			VID:           vid,
			Seller:        caller,
			Category:      category,
			Item:          item,
			TokenID:       tokenID,
			Amount:        amount,
			UnitPrice:     cloneBigInt(unitPrice),
			PartialBuying: partial,
			Nonce:         nonce,
		}
		e.l.insertSale(sale)
		e.l.bumpNonce(caller)
		e.emit(NewSaleCreatedEvent(sale))
		return nil
	})
	if err != nil {
		return VerificationID{}, err
	}
	return vid, nil
}

// ChangeSellPrice reprices a live sale. Only the seller may call it and the
// new price must differ from the current one.
func (e *Engine) ChangeSellPrice(caller [20]byte, vid VerificationID, unitPrice *big.Int) error {
	return e.execute("change_sell_price", func() error {
		if err := e.ready(); err != nil {
			return err
		}
		if err := e.checkOpen(); err != nil {
			return err
		}
		if err := e.checkAccounts(caller); err != nil {
			return err
		}
		sale, ok := e.l.sales[vid]
		if !ok {
			return fmt.Errorf("%w: %s", ErrSaleNotFound, vid)
		}
		if sale.Seller != caller {
			return fmt.Errorf("%w: not the seller", ErrUnauthorized)
		}
		if err := checkPrice(unitPrice); err != nil {
			return err
		}
		if sale.UnitPrice.Cmp(unitPrice) == 0 {
			return ErrSamePrice
		}
		updated := sale.Clone()
		updated.UnitPrice = cloneBigInt(unitPrice)
		e.l.updateSale(updated)
		e.emit(NewSalePriceChangedEvent(updated, sale.UnitPrice))
		return nil
	})
}

// CancelSale removes the caller's sales. Nothing was escrowed so no funds
// move.
func (e *Engine) CancelSale(caller [20]byte, vids []VerificationID) error {
	return e.execute("cancel_sale", func() error {
		return e.cancelSales(caller, vids, false)
	})
}

// CancelSaleByOwner force-cancels sales for moderation.
func (e *Engine) CancelSaleByOwner(caller [20]byte, vids []VerificationID) error {
	return e.execute("cancel_sale_by_owner", func() error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		return e.cancelSales(caller, vids, true)
	})
}

func (e *Engine) cancelSales(caller [20]byte, vids []VerificationID, byOwner bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if len(vids) == 0 {
		return fmt.Errorf("%w: no sales given", ErrBatchLength)
	}
	for _, vid := range vids {
		sale, ok := e.l.sales[vid]
		if !ok {
			return fmt.Errorf("%w: %s", ErrSaleNotFound, vid)
		}
		if !byOwner && sale.Seller != caller {
			return fmt.Errorf("%w: not the seller of %s", ErrUnauthorized, vid)
		}
		e.l.removeSale(sale)
		e.emit(NewSaleCancelledEvent(sale, byOwner))
	}
	return nil
}

type purchase struct {
	sale   *Sale
	amount uint64
	price  *big.Int
	pledge *big.Int
	settle settlement
}

// Buy fills one or more sales. The arrays are parallel: vids[i] is bought in
// amounts[i] units at unitPrices[i], which must equal the live unit price,
// with pledges[i] of mileage offsetting the payment. Any failing line rejects
// the whole batch.
func (e *Engine) Buy(caller [20]byte, vids []VerificationID, amounts []uint64, unitPrices []*big.Int, pledges []*big.Int) error {
	return e.execute("buy", func() error {
		n := len(vids)
		if n == 0 || len(amounts) != n || len(unitPrices) != n || len(pledges) != n {
			return fmt.Errorf("%w: %d vids, %d amounts, %d prices, %d pledges", ErrBatchLength, n, len(amounts), len(unitPrices), len(pledges))
		}
		if err := e.ready(); err != nil {
			return err
		}
		if err := e.checkOpen(); err != nil {
			return err
		}
		if err := e.checkAccounts(caller); err != nil {
			return err
		}
		plans := make([]purchase, 0, n)
		pledged := new(big.Int)
		for i, vid := range vids {
			p, err := e.planPurchase(caller, vid, amounts[i], unitPrices[i], pledges[i])
			if err != nil {
				return fmt.Errorf("line %d: %w", i, err)
			}
			pledged.Add(pledged, p.pledge)
			if err := e.checkPledge(caller, pledged); err != nil {
				return fmt.Errorf("line %d: %w", i, err)
			}
			p.sale = e.l.fillSale(p.sale, p.amount)
			plans = append(plans, p)
		}
		for _, p := range plans {
			if err := e.collect(caller, p.price, p.pledge); err != nil {
				return err
			}
			if err := e.moveItem(p.sale.Item, p.sale.Seller, caller, p.sale.TokenID, p.amount); err != nil {
				return err
			}
			if err := e.pay("sale", p.settle, p.sale.Seller, caller); err != nil {
				return err
			}
			e.emit(NewSalePurchasedEvent(p.sale, caller, p.amount, p.pledge, p.settle.split))
			e.logger.Debug("sale filled",
				slog.String("vid", p.sale.VID.Hex()),
				slog.Uint64("amount", p.amount),
				slog.Uint64("remaining", p.sale.Amount))
		}
		return nil
	})
}

func (e *Engine) planPurchase(buyer [20]byte, vid VerificationID, amount uint64, unitPrice, pledge *big.Int) (purchase, error) {
	sale, ok := e.l.sales[vid]
	if !ok {
		return purchase{}, fmt.Errorf("%w: %s", ErrSaleNotFound, vid)
	}
	if sale.Seller == buyer {
		return purchase{}, ErrSelfTrade
	}
	if err := e.checkAccounts(sale.Seller); err != nil {
		return purchase{}, err
	}
	info, err := e.checkItem(sale.Item)
	if err != nil {
		return purchase{}, err
	}
	if amount == 0 {
		return purchase{}, ErrInvalidAmount
	}
	if amount > sale.Amount {
		return purchase{}, fmt.Errorf("%w: %d remaining", ErrAmountExceeds, sale.Amount)
	}
	if !sale.PartialBuying && amount != sale.Amount {
		return purchase{}, ErrPartialNotAllowed
	}
	if unitPrice == nil || sale.UnitPrice.Cmp(unitPrice) != 0 {
		return purchase{}, fmt.Errorf("%w: listed at %s", ErrPriceMismatch, sale.UnitPrice)
	}
	price := mulAmount(sale.UnitPrice, amount)
	pledge = cloneBigInt(pledge)
	if pledge.Sign() < 0 {
		return purchase{}, fmt.Errorf("%w: negative mileage pledge", ErrInvalidAmount)
	}
	if pledge.Cmp(price) > 0 {
		return purchase{}, ErrPledgeTooLarge
	}
	s, err := e.quote(info, sale.Item, sale.TokenID, price)
	if err != nil {
		return purchase{}, err
	}
	return purchase{sale: sale, amount: amount, price: price, pledge: pledge, settle: s}, nil
}
