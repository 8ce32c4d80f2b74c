package adapters

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/algostack/signalpipe/internal/dispatch"
)

func TestPaperBroker_BuyFillsAboveAskWithSlippage(t *testing.T) {
	quotes := NewMockQuotesAdapter()
	broker := NewPaperBroker(quotes, 5)

	fill, err := broker.SubmitMarketOrder(context.Background(), "co-1", "AAPL", dispatch.SideBuy, decimal.NewFromInt(2))
	require.NoError(t, err)
	require.Equal(t, "AAPL", fill.Symbol)
	require.True(t, fill.Price.GreaterThan(decimal.NewFromFloat(206.90)))
}

func TestPaperBroker_SellFillsBelowBidWithSlippage(t *testing.T) {
	quotes := NewMockQuotesAdapter()
	broker := NewPaperBroker(quotes, 5)

	fill, err := broker.SubmitMarketOrder(context.Background(), "co-2", "AAPL", dispatch.SideSell, decimal.NewFromInt(2))
	require.NoError(t, err)
	require.True(t, fill.Price.LessThan(decimal.NewFromFloat(206.70)))
}

func TestPaperBroker_RefusesHaltedSymbol(t *testing.T) {
	quotes := NewMockQuotesAdapter()
	broker := NewPaperBroker(quotes, 5)

	_, err := broker.SubmitMarketOrder(context.Background(), "co-3", "NVDA", dispatch.SideBuy, decimal.NewFromInt(1))
	require.Error(t, err)
}
