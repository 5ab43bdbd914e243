// Package impact estimates how a simulated order would execute against a published book.
package impact

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/depthstream/errs"
	"github.com/coachpo/depthstream/internal/schema"
)

// Side is the direction of a simulated order.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// OrderType selects market or limit execution.
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// TimeToFill labels how much of the order the visible book absorbs.
type TimeToFill string

const (
	FillImmediate    TimeToFill = "Immediate"
	FillPartial      TimeToFill = "Partial Fill"
	FillNotImmediate TimeToFill = "Not Immediately Fillable"
)

// partialMarketImpact is reported for market orders the visible depth cannot fill.
// TODO: derive it from the unfilled remainder once a depth-aware impact model is agreed.
const partialMarketImpact = 100

// Order is a simulated order. Price is only consulted for limit orders.
type Order struct {
	Side     Side            `json:"side"`
	Type     OrderType       `json:"type"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Fill is the quantity taken from one price level.
type Fill struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Metrics summarises a simulated execution. Slippage and FillPercentage are percentages.
type Metrics struct {
	FilledQuantity decimal.Decimal `json:"filledQuantity"`
	FillPercentage decimal.Decimal `json:"fillPercentage"`
	EstimatedPrice decimal.Decimal `json:"estimatedPrice"`
	Slippage       decimal.Decimal `json:"slippage"`
	MarketImpact   decimal.Decimal `json:"marketImpact"`
	TimeToFill     TimeToFill      `json:"timeToFill"`
	Consumed       []Fill          `json:"consumed"`
}

// Estimate walks the opposite side of snap (asks for buys, bids for sells).
//
// Market orders report slippage of the average price against the best price. Their market
// impact is a flat 100 when the visible depth cannot fill the order and a tenth of the
// slippage otherwise. Limit orders stop at their limit price and carry no slippage or impact.
func Estimate(order Order, snap *schema.BookSnapshot) (Metrics, error) {
	if err := order.validate(); err != nil {
		return Metrics{}, err
	}
	if snap == nil {
		return Metrics{}, errs.New("", errs.CodeInvalid, errs.WithMessage("book snapshot required"))
	}

	levels := snap.Asks
	if order.Side == SideSell {
		levels = snap.Bids
	}

	var out Metrics
	if order.Type == OrderTypeMarket {
		out = walk(order, levels, nil)
		if out.FilledQuantity.IsPositive() {
			best := levels[0].Price
			diff := out.EstimatedPrice.Sub(best)
			if order.Side == SideSell {
				diff = diff.Neg()
			}
			out.Slippage = diff.Div(best).Mul(decimal.NewFromInt(100))
		}
		if out.FilledQuantity.LessThan(order.Quantity) {
			out.MarketImpact = decimal.NewFromInt(partialMarketImpact)
		} else {
			out.MarketImpact = out.Slippage.Div(decimal.NewFromInt(10))
		}
	} else {
		if len(levels) == 0 || !crosses(order, levels[0].Price) {
			out = Metrics{TimeToFill: FillNotImmediate}
		} else {
			limit := order.Price
			out = walk(order, levels, &limit)
		}
	}

	out.FillPercentage = out.FilledQuantity.Div(order.Quantity).Mul(decimal.NewFromInt(100))
	if out.FilledQuantity.IsZero() {
		out.EstimatedPrice = order.Price
	}
	return out, nil
}

func (o Order) validate() error {
	switch o.Side {
	case SideBuy, SideSell:
	default:
		return errs.New("", errs.CodeInvalid, errs.WithMessage("unknown order side"), errs.WithField("side", string(o.Side)))
	}
	switch o.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if !o.Price.IsPositive() {
			return errs.New("", errs.CodeInvalid, errs.WithMessage("limit price must be positive"))
		}
	default:
		return errs.New("", errs.CodeInvalid, errs.WithMessage("unknown order type"), errs.WithField("type", string(o.Type)))
	}
	if !o.Quantity.IsPositive() {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("quantity must be positive"))
	}
	return nil
}

func crosses(order Order, best decimal.Decimal) bool {
	if order.Side == SideBuy {
		return order.Price.GreaterThanOrEqual(best)
	}
	return order.Price.LessThanOrEqual(best)
}

// walk consumes levels until the order is filled, stopping before any level beyond limit.
func walk(order Order, levels []schema.PriceLevel, limit *decimal.Decimal) Metrics {
	var (
		filled decimal.Decimal
		cost   decimal.Decimal
		taken  []Fill
	)
	for _, level := range levels {
		if filled.GreaterThanOrEqual(order.Quantity) {
			break
		}
		if limit != nil {
			if order.Side == SideBuy && level.Price.GreaterThan(*limit) {
				break
			}
			if order.Side == SideSell && level.Price.LessThan(*limit) {
				break
			}
		}
		take := decimal.Min(level.Size, order.Quantity.Sub(filled))
		filled = filled.Add(take)
		cost = cost.Add(take.Mul(level.Price))
		taken = append(taken, Fill{Price: level.Price, Size: take})
	}

	out := Metrics{FilledQuantity: filled, Consumed: taken, TimeToFill: FillImmediate}
	if filled.LessThan(order.Quantity) {
		out.TimeToFill = FillPartial
	}
	if filled.IsPositive() {
		out.EstimatedPrice = cost.Div(filled)
	}
	return out
}
