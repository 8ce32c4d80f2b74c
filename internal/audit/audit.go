// Package audit records every order and fill the pipeline produces to
// a durable local journal and, optionally, fans the same events out
// to Kafka for downstream consumers (dashboards, compliance capture).
// Adapted from the teacher's internal/outbox package, generalized from
// an ad hoc two-type JSONL file into a typed event sink with a pluggable
// fan-out publisher.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/algostack/signalpipe/internal/dispatch"
	"github.com/algostack/signalpipe/internal/suppress"
)

// Event is one journal entry. Exactly one of Order, Fill, or
// Suppression is set, discriminated by Type.
type Event struct {
	Type        string             `json:"type"` // "order"|"fill"|"suppression"
	At          time.Time          `json:"at"`
	Order       *OrderRecord       `json:"order,omitempty"`
	Fill        *FillRecord        `json:"fill,omitempty"`
	Suppression *SuppressionRecord `json:"suppression,omitempty"`
}

type OrderRecord struct {
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Quantity       string `json:"quantity"`
	Trigger        string `json:"trigger"`
	IdempotencyKey string `json:"idempotency_key"`
}

type FillRecord struct {
	OrderID   string `json:"order_id"`
	Symbol    string `json:"symbol"`
	Quantity  string `json:"quantity"`
	Price     string `json:"price"`
	Side      string `json:"side"`
	LatencyMs int    `json:"latency_ms"`
}

type SuppressionRecord struct {
	Symbol string  `json:"symbol"`
	Reason string  `json:"reason"`
	Detail string  `json:"detail"`
	Score  float64 `json:"score"`
}

// Publisher fans an audit event out to an external sink (Kafka, etc).
// A nil Publisher is valid — the journal-only sink still works without
// one.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Journal is the local append-only JSONL sink, grounded on the
// teacher's outbox.appendEntry but accepting any Event rather than two
// hardcoded struct types.
type Journal struct {
	mu        sync.Mutex
	path      string
	publisher Publisher
}

func NewJournal(path string, publisher Publisher) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("audit: create journal dir: %w", err)
	}
	return &Journal{path: path, publisher: publisher}, nil
}

func (j *Journal) RecordOrder(ctx context.Context, in dispatch.Intent) error {
	return j.write(ctx, Event{
		Type: "order",
		At:   time.Now().UTC(),
		Order: &OrderRecord{
			Symbol:         in.Symbol,
			Side:           string(in.Side),
			Quantity:       in.Quantity.String(),
			Trigger:        in.Trigger,
			IdempotencyKey: in.IdempotencyKey,
		},
	})
}

func (j *Journal) RecordFill(ctx context.Context, f dispatch.Fill) error {
	return j.write(ctx, Event{
		Type: "fill",
		At:   time.Now().UTC(),
		Fill: &FillRecord{
			OrderID:   f.OrderID,
			Symbol:    f.Symbol,
			Quantity:  f.Quantity.String(),
			Price:     f.Price.String(),
			Side:      string(f.Side),
			LatencyMs: f.LatencyMs,
		},
	})
}

func (j *Journal) RecordSuppression(ctx context.Context, r suppress.Record) error {
	return j.write(ctx, Event{
		Type: "suppression",
		At:   time.Now().UTC(),
		Suppression: &SuppressionRecord{
			Symbol: r.Symbol,
			Reason: string(r.Reason),
			Detail: r.Detail,
			Score:  r.Candidate.Score,
		},
	})
}

func (j *Journal) write(ctx context.Context, ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("audit: open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(string(data) + "\n"); err != nil {
		return fmt.Errorf("audit: append journal: %w", err)
	}

	if j.publisher != nil {
		if err := j.publisher.Publish(ctx, ev); err != nil {
			return fmt.Errorf("audit: publish: %w", err)
		}
	}
	return nil
}
