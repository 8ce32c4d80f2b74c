package adapters

import (
	"context"
	"testing"
	"time"
)

func TestValidateQuote(t *testing.T) {
	now := time.Now()
	
	tests := []struct {
		name    string
		quote   *Quote
		wantErr bool
	}{
		{
			name: "valid quote",
			quote: &Quote{
				Symbol:      "AAPL",
				Bid:         100.50,
				Ask:         100.55,
				Last:        100.52,
				Volume:      1000000,
				Timestamp:   now.Add(-30 * time.Second),
				Session:     "RTH",
				Source:      "mock",
				StalenessMs: 30000,
			},
			wantErr: false,
		},
		{
			name:    "nil quote",
			quote:   nil,
			wantErr: true,
		},
		{
			name: "empty symbol",
			quote: &Quote{
				Symbol: "",
				Bid:    100.50,
				Ask:    100.55,
			},
			wantErr: true,
		},
		{
			name: "invalid prices",
			quote: &Quote{
				Symbol: "AAPL",
				Bid:    -1.0,
				Ask:    100.55,
			},
			wantErr: true,
		},
		{
			name: "ask less than bid",
			quote: &Quote{
				Symbol: "AAPL",
				Bid:    100.55,
				Ask:    100.50, // Invalid: ask < bid
			},
			wantErr: true,
		},
		{
			name: "negative volume",
			quote: &Quote{
				Symbol: "AAPL",
				Bid:    100.50,
				Ask:    100.55,
				Last:   100.52,
				Volume: -1000,
			},
			wantErr: true,
		},
		{
			name: "future timestamp",
			quote: &Quote{
				Symbol:    "AAPL",
				Bid:       100.50,
				Ask:       100.55,
				Last:      100.52,
				Volume:    1000,
				Timestamp: now.Add(10 * time.Minute), // Too far in future
			},
			wantErr: true,
		},
		{
			name: "invalid session",
			quote: &Quote{
				Symbol:  "AAPL",
				Bid:     100.50,
				Ask:     100.55,
				Last:    100.52,
				Volume:  1000,
				Session: "INVALID",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuote(tt.quote)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateQuote() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestQuoteSpreadBps(t *testing.T) {
	quote := &Quote{
		Bid: 100.00,
		Ask: 100.10,
	}
	
	expectedSpread := 10.0 // 0.10/100.00 * 10000 = 10 bps
	actualSpread := quote.SpreadBps()
	
	// Allow small floating point precision differences
	if abs(actualSpread-expectedSpread) > 0.001 {
		t.Errorf("SpreadBps() = %v, want %v", actualSpread, expectedSpread)
	}
}

func TestMockQuotesAdapter(t *testing.T) {
	adapter := NewMockQuotesAdapter()
	ctx := context.Background()
	
	t.Run("get valid quote", func(t *testing.T) {
		quote, err := adapter.GetQuote(ctx, "AAPL")
		if err != nil {
			t.Fatalf("GetQuote() error = %v", err)
		}
		
		if quote.Symbol != "AAPL" {
			t.Errorf("Symbol = %v, want AAPL", quote.Symbol)
		}
		
		if quote.Source != "mock" {
			t.Errorf("Source = %v, want mock", quote.Source)
		}
		
		if err := ValidateQuote(quote); err != nil {
			t.Errorf("Invalid quote: %v", err)
		}
	})
	
	t.Run("get invalid symbol", func(t *testing.T) {
		_, err := adapter.GetQuote(ctx, "NONEXISTENT")
		if err == nil {
			t.Error("Expected error for non-existent symbol")
		}
	})
	
	t.Run("get multiple quotes", func(t *testing.T) {
		symbols := []string{"AAPL", "NVDA", "BIOX"}
		quotes, err := adapter.GetQuotes(ctx, symbols)
		if err != nil {
			t.Fatalf("GetQuotes() error = %v", err)
		}
		
		if len(quotes) != 3 {
			t.Errorf("Got %d quotes, want 3", len(quotes))
		}
		
		for _, symbol := range symbols {
			if _, exists := quotes[symbol]; !exists {
				t.Errorf("Missing quote for %s", symbol)
			}
		}
	})
	
	t.Run("health check", func(t *testing.T) {
		if err := adapter.HealthCheck(ctx); err != nil {
			t.Errorf("HealthCheck() error = %v", err)
		}
		
		adapter.SetHealth(false)
		if err := adapter.HealthCheck(ctx); err == nil {
			t.Error("Expected health check to fail")
		}
	})
}

func TestGetCurrentSession(t *testing.T) {
	session := GetCurrentSession()
	
	validSessions := map[SessionType]bool{
		SessionPremarket:  true,
		SessionRegular:    true,
		SessionPostmarket: true,
		SessionClosed:     true,
		SessionUnknown:    true,
	}
	
	if !validSessions[session] {
		t.Errorf("GetCurrentSession() returned invalid session: %v", session)
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func BenchmarkMockQuoteAdapter(b *testing.B) {
	adapter := NewMockQuotesAdapter()
	ctx := context.Background()
	
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := adapter.GetQuote(ctx, "AAPL")
		if err != nil {
			b.Fatal(err)
		}
	}
}
