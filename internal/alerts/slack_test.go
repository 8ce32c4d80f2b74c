package alerts

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/algostack/signalpipe/internal/config"
)

func newTestServer(t *testing.T, hits *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		w.WriteHeader(http.StatusOK)
	}))
}

func TestSlackClient_ShouldAlertRespectsPolicy(t *testing.T) {
	cfg := config.Slack{
		Enabled:           true,
		AlertOnBuy:        true,
		AlertOnRejectGates: true,
		RateLimitPerMin:          20,
		RateLimitPerSymbolPerMin: 3,
	}
	client := NewSlackClient(cfg)
	defer client.Close()

	require.True(t, client.shouldAlert(AlertRequest{Kind: EventBuy}))
	require.False(t, client.shouldAlert(AlertRequest{Kind: EventSell}))
	require.False(t, client.shouldAlert(AlertRequest{Kind: EventReject}), "reject with no gates blocked should not alert")
	require.True(t, client.shouldAlert(AlertRequest{Kind: EventReject, GatesBlocked: []string{"below_cutoff"}}))
}

func TestSlackClient_SendAlertDeliversToWebhook(t *testing.T) {
	var hits int32
	server := newTestServer(t, &hits)
	defer server.Close()

	cfg := config.Slack{
		Enabled:                  true,
		WebhookURL:               server.URL,
		AlertOnKillSwitch:        true,
		RateLimitPerMin:          20,
		RateLimitPerSymbolPerMin: 3,
	}
	client := NewSlackClient(cfg)
	defer client.Close()

	client.SendAlert(AlertRequest{
		Kind:      EventKillSwitch,
		Detail:    "halt triggered at 6% daily loss",
		Timestamp: time.Now(),
	})

	require.Eventually(t, func() bool {
		return client.GetMetrics().AlertsSentTotal == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSlackClient_DedupeWindowSuppressesRepeat(t *testing.T) {
	var hits int32
	server := newTestServer(t, &hits)
	defer server.Close()

	cfg := config.Slack{
		Enabled:                  true,
		WebhookURL:               server.URL,
		AlertOnBuy:               true,
		RateLimitPerMin:          20,
		RateLimitPerSymbolPerMin: 3,
	}
	client := NewSlackClient(cfg)
	defer client.Close()

	req := AlertRequest{Kind: EventBuy, Symbol: "AAPL", Score: 0.4, Timestamp: time.Now()}
	client.SendAlert(req)
	client.SendAlert(req)

	require.Eventually(t, func() bool {
		return client.GetMetrics().AlertsSentTotal == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSlackClient_DisabledClientDropsEverything(t *testing.T) {
	client := NewSlackClient(config.Slack{Enabled: false})
	defer client.Close()

	client.SendAlert(AlertRequest{Kind: EventBuy, Symbol: "AAPL"})
	require.EqualValues(t, 0, client.GetMetrics().AlertsSentTotal)
}
