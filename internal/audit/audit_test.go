package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/algostack/signalpipe/internal/dispatch"
	"github.com/algostack/signalpipe/internal/mixer"
	"github.com/algostack/signalpipe/internal/suppress"
)

type fakePublisher struct {
	mu   sync.Mutex
	seen []Event
}

func (p *fakePublisher) Publish(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, ev)
	return nil
}

func readJournalLines(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	return events
}

func TestJournal_RecordOrderWritesAndPublishes(t *testing.T) {
	dir := t.TempDir()
	pub := &fakePublisher{}
	j, err := NewJournal(filepath.Join(dir, "audit.jsonl"), pub)
	require.NoError(t, err)

	in := dispatch.Intent{
		Symbol:         "AAPL",
		Side:           dispatch.SideBuy,
		Quantity:       decimal.NewFromInt(3),
		Trigger:        "mixer:buy",
		IdempotencyKey: "abc123",
	}
	require.NoError(t, j.RecordOrder(context.Background(), in))

	events := readJournalLines(t, filepath.Join(dir, "audit.jsonl"))
	require.Len(t, events, 1)
	require.Equal(t, "order", events[0].Type)
	require.Equal(t, "AAPL", events[0].Order.Symbol)

	require.Len(t, pub.seen, 1)
}

func TestJournal_RecordSuppressionIncludesReason(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJournal(filepath.Join(dir, "audit.jsonl"), nil)
	require.NoError(t, err)

	rec := suppress.Record{
		Symbol:    "TSLA",
		AsOf:      time.Now(),
		Candidate: mixer.Candidate{Symbol: "TSLA", Score: 0.12},
		Suppressed: true,
		Reason:    suppress.ReasonBelowCutoff,
		Detail:    "score 0.1200 below cutoff 0.1800",
	}
	require.NoError(t, j.RecordSuppression(context.Background(), rec))

	events := readJournalLines(t, filepath.Join(dir, "audit.jsonl"))
	require.Len(t, events, 1)
	require.Equal(t, string(suppress.ReasonBelowCutoff), events[0].Suppression.Reason)
}

func TestJournal_AppendsMultipleEventsInOrder(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJournal(filepath.Join(dir, "audit.jsonl"), nil)
	require.NoError(t, err)

	require.NoError(t, j.RecordOrder(context.Background(), dispatch.Intent{Symbol: "A", Quantity: decimal.NewFromInt(1)}))
	require.NoError(t, j.RecordOrder(context.Background(), dispatch.Intent{Symbol: "B", Quantity: decimal.NewFromInt(2)}))

	events := readJournalLines(t, filepath.Join(dir, "audit.jsonl"))
	require.Len(t, events, 2)
	require.Equal(t, "A", events[0].Order.Symbol)
	require.Equal(t, "B", events[1].Order.Symbol)
}
