package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlasx/settlement-engine/internal/ledger"
	"github.com/atlasx/settlement-engine/internal/model"
	"github.com/atlasx/settlement-engine/internal/store"
)

// moneyScale is the decimal precision applied at realized-PnL and refund
// boundaries, rounded half-even.
const moneyScale = 8

// liqBuffer: a position is assigned a liquidation price 90% of the way to
// full margin exhaustion.
var liqBuffer = decimal.NewFromFloat(0.9)

// liquidationPrice derives the price at which a position's margin is 90%
// consumed: entry - 0.9*margin/qty for long, entry + 0.9*margin/qty for short.
func liquidationPrice(side model.Side, entry, margin, qty decimal.Decimal) decimal.Decimal {
	if qty.IsZero() {
		return decimal.Zero
	}
	buffer := liqBuffer.Mul(margin).Div(qty)
	if side == model.SideLong {
		return entry.Sub(buffer)
	}
	return entry.Add(buffer)
}

// unrealizedPnL values an open position against a mark price.
func unrealizedPnL(p *model.Position, mark decimal.Decimal) decimal.Decimal {
	pnl := mark.Sub(p.EntryPrice).Mul(p.Quantity)
	if p.Side == model.SideShort {
		pnl = pnl.Neg()
	}
	return pnl
}

// positionEquity is margin plus unrealized PnL; liquidation triggers when it
// reaches zero.
func positionEquity(p *model.Position, mark decimal.Decimal) decimal.Decimal {
	return p.Margin.Add(unrealizedPnL(p, mark))
}

// fillOutcome describes the state changes one fill produced, so the caller
// can emit notifications after the transaction commits.
type fillOutcome struct {
	Position *model.Position // remaining or new position; nil when flat
	Closes   []model.PositionHistory
	Account  *model.Account // futures quote account, when a refund happened
}

// applyPositionFill is the single position-update path shared by market
// fills, limit fills, user closes, TP/SL triggers, and liquidations. qty is
// in base units, margin is the collateral backing the incoming fill (zero
// for pure reductions). Must run inside a transaction with the position's
// lock held.
func applyPositionFill(
	ctx context.Context,
	q store.Queries,
	userID, sym, quoteAsset string,
	side model.Side,
	qty, price, margin decimal.Decimal,
	reason model.CloseReason,
	now time.Time,
) (*fillOutcome, error) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: fill quantity %s", ledger.ErrInvariantViolation, qty)
	}

	pos, err := q.GetPosition(ctx, userID, sym)
	if errors.Is(err, store.ErrNotFound) {
		pos = nil
	} else if err != nil {
		return nil, err
	}

	// No position: open fresh.
	if pos == nil {
		return openPosition(ctx, q, userID, sym, side, qty, price, margin, now)
	}

	// Same side: average in.
	if pos.Side == side {
		newQty := pos.Quantity.Add(qty)
		oldNotional := pos.EntryPrice.Mul(pos.Quantity)
		newNotional := price.Mul(qty)
		pos.EntryPrice = oldNotional.Add(newNotional).Div(newQty)
		pos.Quantity = newQty
		pos.Margin = pos.Margin.Add(margin)
		pos.LiquidationPrice = liquidationPrice(pos.Side, pos.EntryPrice, pos.Margin, pos.Quantity)
		pos.UpdatedAt = now
		if err := q.UpdatePosition(ctx, pos); err != nil {
			return nil, err
		}
		return &fillOutcome{Position: pos}, nil
	}

	// Opposite side: reduce, possibly through zero.
	closeQty := qty
	if closeQty.GreaterThan(pos.Quantity) {
		closeQty = pos.Quantity
	}
	if reason == model.ReasonNormal && closeQty.LessThan(pos.Quantity) {
		reason = model.ReasonPartial
	}

	realized := price.Sub(pos.EntryPrice).Mul(closeQty)
	if pos.Side == model.SideShort {
		realized = realized.Neg()
	}
	realized = realized.RoundBank(moneyScale)

	var marginReleased decimal.Decimal
	if closeQty.Equal(pos.Quantity) {
		marginReleased = pos.Margin
	} else {
		marginReleased = closeQty.Div(pos.Quantity).Mul(pos.Margin).RoundBank(moneyScale)
	}

	// Losses beyond the released margin are never clawed back from the
	// account; the refund floors at zero.
	refund := marginReleased.Add(realized).RoundBank(moneyScale)
	if refund.IsNegative() {
		refund = decimal.Zero
	}

	outcome := &fillOutcome{}
	if refund.IsPositive() {
		acc, err := ledger.Move(ctx, q, userID, model.MarketFutures, quoteAsset, refund, ledger.Receive)
		if err != nil {
			return nil, err
		}
		outcome.Account = acc
	}

	hist := model.PositionHistory{
		ID:          uuid.New().String(),
		UserID:      userID,
		Symbol:      sym,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   price,
		Quantity:    closeQty,
		Leverage:    pos.Leverage,
		Margin:      marginReleased,
		RealizedPnL: realized,
		Reason:      reason,
		ClosedAt:    now,
	}
	if err := q.InsertPositionHistory(ctx, &hist); err != nil {
		return nil, err
	}
	outcome.Closes = append(outcome.Closes, hist)

	if closeQty.LessThan(pos.Quantity) {
		// Partial reduce: entry price of the remainder is untouched. The
		// liquidation price recomputes to the same value because entry and
		// the margin/qty ratio are both unchanged.
		pos.Quantity = pos.Quantity.Sub(closeQty)
		pos.Margin = pos.Margin.Sub(marginReleased)
		if pos.Quantity.IsNegative() || pos.Margin.IsNegative() {
			return nil, fmt.Errorf("%w: reduce left qty=%s margin=%s", ledger.ErrInvariantViolation, pos.Quantity, pos.Margin)
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		pos.LiquidationPrice = liquidationPrice(pos.Side, pos.EntryPrice, pos.Margin, pos.Quantity)
		pos.UpdatedAt = now
		if err := q.UpdatePosition(ctx, pos); err != nil {
			return nil, err
		}
		outcome.Position = pos
		return outcome, nil
	}

	// Full close.
	if err := q.DeletePosition(ctx, userID, sym); err != nil {
		return nil, err
	}

	// Reversal: open the remainder on the incoming side with its share of
	// the incoming margin.
	remainder := qty.Sub(closeQty)
	if remainder.IsPositive() {
		remainderMargin := margin.Mul(remainder).Div(qty).RoundBank(moneyScale)
		opened, err := openPosition(ctx, q, userID, sym, side, remainder, price, remainderMargin, now)
		if err != nil {
			return nil, err
		}
		outcome.Position = opened.Position
	}
	return outcome, nil
}

func openPosition(
	ctx context.Context,
	q store.Queries,
	userID, sym string,
	side model.Side,
	qty, price, margin decimal.Decimal,
	now time.Time,
) (*fillOutcome, error) {
	if margin.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: opening %s/%s with margin %s", ledger.ErrInvariantViolation, userID, sym, margin)
	}
	leverage := price.Mul(qty).Div(margin).RoundBank(2)
	pos := &model.Position{
		UserID:           userID,
		Symbol:           sym,
		Side:             side,
		EntryPrice:       price,
		Quantity:         qty,
		Leverage:         leverage,
		Margin:           margin,
		LiquidationPrice: liquidationPrice(side, price, margin, qty),
		RealizedPnL:      decimal.Zero,
		UpdatedAt:        now,
	}
	if err := q.CreatePosition(ctx, pos); err != nil {
		return nil, err
	}
	return &fillOutcome{Position: pos}, nil
}
