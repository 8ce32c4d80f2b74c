package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/algostack/signalpipe/internal/dispatch"
)

// PaperBroker fills market orders immediately against a QuotesAdapter's
// current quote, applying a small fixed slippage against the side
// being traded — a Go-native stand-in for the reference system's
// Alpaca paper-trading client, which submits real (paper) market
// orders and waits for Alpaca's simulated fill.
type PaperBroker struct {
	quotes      QuotesAdapter
	slippageBps int64
}

func NewPaperBroker(quotes QuotesAdapter, slippageBps int64) *PaperBroker {
	return &PaperBroker{quotes: quotes, slippageBps: slippageBps}
}

func (b *PaperBroker) SubmitMarketOrder(ctx context.Context, clientOrderID, symbol string, side dispatch.Side, quantity decimal.Decimal) (dispatch.Fill, error) {
	start := time.Now()
	quote, err := b.quotes.GetQuote(ctx, symbol)
	if err != nil {
		return dispatch.Fill{}, fmt.Errorf("paper broker: get quote for %s: %w", symbol, err)
	}
	if quote.Halted {
		return dispatch.Fill{}, fmt.Errorf("paper broker: %s is halted", symbol)
	}

	price := quote.Ask
	if side == dispatch.SideSell {
		price = quote.Bid
	}
	slipped := applySlippage(price, b.slippageBps, side)

	return dispatch.Fill{
		OrderID:   clientOrderID,
		Symbol:    symbol,
		Quantity:  quantity,
		Price:     decimal.NewFromFloat(slipped),
		Side:      side,
		Timestamp: time.Now(),
		LatencyMs: int(time.Since(start).Milliseconds()),
	}, nil
}

func applySlippage(price float64, bps int64, side dispatch.Side) float64 {
	factor := float64(bps) / 10000.0
	if side == dispatch.SideBuy {
		return price * (1 + factor)
	}
	return price * (1 - factor)
}
