// Package alerts pushes fires, suppressions, kill-switch trips, and
// end-of-day summaries to Slack, queued and rate-limited independently
// of the pipeline's own cadence loops.
package alerts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/algostack/signalpipe/internal/config"
)

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type SlackAttachment struct {
	Color  string       `json:"color"`
	Fields []SlackField `json:"fields"`
}

type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// EventKind names one of the pipeline moments a Slack alert can be
// raised for.
type EventKind string

const (
	EventBuy        EventKind = "BUY"
	EventSell       EventKind = "SELL"
	EventReject     EventKind = "REJECT"
	EventKillSwitch EventKind = "KILL_SWITCH"
	EventEODSummary EventKind = "EOD_SUMMARY"
)

// AlertRequest is one candidate alert; not every field applies to every
// EventKind (GatesBlocked is REJECT-only, Detail carries the free-form
// line for KILL_SWITCH/EOD_SUMMARY).
type AlertRequest struct {
	Kind         EventKind
	Symbol       string
	Score        float64
	GatesBlocked []string
	Detail       string
	TradingMode  string
	GlobalPause  bool
	Timestamp    time.Time
}

type queuedAlert struct {
	req       AlertRequest
	attempts  int
	nextRetry time.Time
	hash      string
}

// SlackClient queues alerts through a bounded channel and drains them
// in a background worker with retry/backoff, so a slow or unreachable
// webhook never blocks the scheduler's tick loop.
type SlackClient struct {
	cfg         config.Slack
	httpClient  *http.Client
	queue       chan queuedAlert
	dedupeCache map[string]time.Time
	rateLimiter map[string][]time.Time // global + per-symbol rate limits
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	metrics     *AlertMetrics
}

type AlertMetrics struct {
	AlertsSentTotal    int64
	WebhookErrorsTotal int64
	AlertQueueDepth    int64
	RateLimitHitsTotal int64
	AlertQueueDropped  int64
}

func NewSlackClient(cfg config.Slack) *SlackClient {
	ctx, cancel := context.WithCancel(context.Background())

	client := &SlackClient{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		queue:       make(chan queuedAlert, 1000),
		dedupeCache: make(map[string]time.Time),
		rateLimiter: make(map[string][]time.Time),
		ctx:         ctx,
		cancel:      cancel,
		metrics:     &AlertMetrics{},
	}

	go client.worker()
	go client.cleanup()

	return client
}

func (s *SlackClient) SendAlert(req AlertRequest) {
	if !s.cfg.Enabled {
		return
	}
	if !s.shouldAlert(req) {
		return
	}

	hash := s.generateHash(req)

	s.mu.Lock()
	if lastSent, exists := s.dedupeCache[hash]; exists {
		if time.Since(lastSent) < 60*time.Second {
			s.mu.Unlock()
			return
		}
	}
	s.dedupeCache[hash] = time.Now()
	s.mu.Unlock()

	if s.isRateLimited(req.Symbol) {
		s.mu.Lock()
		s.metrics.RateLimitHitsTotal++
		s.mu.Unlock()
		return
	}

	alert := queuedAlert{req: req, nextRetry: time.Now(), hash: hash}

	select {
	case s.queue <- alert:
		s.mu.Lock()
		s.metrics.AlertQueueDepth++
		s.mu.Unlock()
	default:
		s.dropOldestNonCritical(alert)
	}
}

func (s *SlackClient) shouldAlert(req AlertRequest) bool {
	switch req.Kind {
	case EventBuy:
		return s.cfg.AlertOnBuy
	case EventSell:
		return s.cfg.AlertOnSell
	case EventReject:
		return s.cfg.AlertOnRejectGates && len(req.GatesBlocked) > 0
	case EventKillSwitch:
		return s.cfg.AlertOnKillSwitch
	case EventEODSummary:
		return s.cfg.AlertOnEOD
	default:
		return false
	}
}

func (s *SlackClient) generateHash(req AlertRequest) string {
	data := fmt.Sprintf("%s:%s:%.2f", req.Symbol, req.Kind, req.Score)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)[:16]
}

func (s *SlackClient) isRateLimited(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)

	globalKey := "global"
	if times, exists := s.rateLimiter[globalKey]; exists {
		filtered := make([]time.Time, 0, len(times))
		for _, t := range times {
			if t.After(cutoff) {
				filtered = append(filtered, t)
			}
		}
		s.rateLimiter[globalKey] = filtered
		if len(filtered) >= s.cfg.RateLimitPerMin {
			return true
		}
	}

	if times, exists := s.rateLimiter[symbol]; exists {
		filtered := make([]time.Time, 0, len(times))
		for _, t := range times {
			if t.After(cutoff) {
				filtered = append(filtered, t)
			}
		}
		s.rateLimiter[symbol] = filtered
		if len(filtered) >= s.cfg.RateLimitPerSymbolPerMin {
			return true
		}
	}

	s.rateLimiter[globalKey] = append(s.rateLimiter[globalKey], now)
	s.rateLimiter[symbol] = append(s.rateLimiter[symbol], now)

	return false
}

func (s *SlackClient) dropOldestNonCritical(newAlert queuedAlert) {
	select {
	case oldAlert := <-s.queue:
		if oldAlert.req.Kind == EventKillSwitch {
			select {
			case s.queue <- oldAlert:
				s.mu.Lock()
				s.metrics.AlertQueueDropped++
				s.mu.Unlock()
				return
			default:
			}
		}

		select {
		case s.queue <- newAlert:
			s.mu.Lock()
			s.metrics.AlertQueueDepth++
			s.metrics.AlertQueueDropped++
			s.mu.Unlock()
		default:
			s.mu.Lock()
			s.metrics.AlertQueueDropped++
			s.mu.Unlock()
		}
	default:
		select {
		case s.queue <- newAlert:
			s.mu.Lock()
			s.metrics.AlertQueueDepth++
			s.mu.Unlock()
		default:
			s.mu.Lock()
			s.metrics.AlertQueueDropped++
			s.mu.Unlock()
		}
	}
}

func (s *SlackClient) worker() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case alert := <-s.queue:
			s.mu.Lock()
			s.metrics.AlertQueueDepth--
			s.mu.Unlock()

			if time.Now().Before(alert.nextRetry) {
				go func() {
					time.Sleep(time.Until(alert.nextRetry))
					select {
					case s.queue <- alert:
						s.mu.Lock()
						s.metrics.AlertQueueDepth++
						s.mu.Unlock()
					case <-s.ctx.Done():
						return
					default:
						s.mu.Lock()
						s.metrics.AlertQueueDropped++
						s.mu.Unlock()
					}
				}()
				continue
			}

			if s.sendWebhook(alert.req) {
				s.mu.Lock()
				s.metrics.AlertsSentTotal++
				s.mu.Unlock()
				continue
			}

			alert.attempts++
			if alert.attempts < 3 {
				backoff := time.Duration(math.Pow(2, float64(alert.attempts))) * time.Second
				jitter := time.Duration(rand.Float64() * float64(backoff) * 0.1)
				alert.nextRetry = time.Now().Add(backoff + jitter)

				select {
				case s.queue <- alert:
					s.mu.Lock()
					s.metrics.AlertQueueDepth++
					s.mu.Unlock()
				case <-s.ctx.Done():
					return
				default:
					s.mu.Lock()
					s.metrics.AlertQueueDropped++
					s.mu.Unlock()
				}
			} else {
				s.mu.Lock()
				s.metrics.WebhookErrorsTotal++
				s.mu.Unlock()
			}
		}
	}
}

func (s *SlackClient) sendWebhook(req AlertRequest) bool {
	msg := s.formatMessage(req)

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("alerts: failed to marshal slack message: %v", err)
		return false
	}

	if len(payload) > 4000 {
		payload = payload[:3900]
		payload = append(payload, []byte("...\"}")...)
	}

	resp, err := s.httpClient.Post(s.cfg.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Printf("alerts: slack webhook error: %v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		log.Printf("alerts: slack webhook failed with status %d", resp.StatusCode)
		return false
	}

	return true
}

func (s *SlackClient) formatMessage(req AlertRequest) SlackMessage {
	emoji := "\U0001F4C8"
	color := "good"
	label := string(req.Kind)

	switch req.Kind {
	case EventSell:
		emoji = "\U0001F4C9"
		color = "warning"
	case EventReject:
		emoji = "\U0001F6D1"
		color = "danger"
	case EventKillSwitch:
		emoji = "\U0001F6A8"
		color = "danger"
	case EventEODSummary:
		emoji = "\U0001F4CB"
		color = "good"
	}

	var text string
	if req.Symbol != "" {
		text = fmt.Sprintf("%s %s: %s", emoji, label, req.Symbol)
	} else {
		text = fmt.Sprintf("%s %s", emoji, label)
	}

	fields := []SlackField{
		{Title: "Event", Value: label, Short: true},
		{Title: "Time", Value: req.Timestamp.Format("15:04:05 MST"), Short: true},
	}

	if req.Symbol != "" {
		fields = append(fields, SlackField{Title: "Score", Value: fmt.Sprintf("%.3f", req.Score), Short: true})
	}

	if len(req.GatesBlocked) > 0 {
		gates := make([]string, len(req.GatesBlocked))
		copy(gates, req.GatesBlocked)
		if len(gates) > 5 {
			gates = append(gates[:4], "...")
		}
		fields = append(fields, SlackField{Title: "Gates", Value: "❌ " + strings.Join(gates, ", "), Short: false})
	}

	if req.Detail != "" {
		fields = append(fields, SlackField{Title: "Detail", Value: req.Detail, Short: false})
	}

	if req.TradingMode != "paper" || req.GlobalPause {
		mode := req.TradingMode
		if req.GlobalPause {
			mode += " (PAUSED)"
		}
		fields = append(fields, SlackField{Title: "Mode", Value: mode, Short: true})
	}

	return SlackMessage{
		Channel: s.cfg.ChannelDefault,
		Text:    text,
		Attachments: []SlackAttachment{{
			Color:  color,
			Fields: fields,
		}},
	}
}

func (s *SlackClient) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			cutoff := time.Now().Add(-5 * time.Minute)
			for hash, timestamp := range s.dedupeCache {
				if timestamp.Before(cutoff) {
					delete(s.dedupeCache, hash)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *SlackClient) Close() {
	s.cancel()
}

func (s *SlackClient) GetMetrics() AlertMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.metrics
}
