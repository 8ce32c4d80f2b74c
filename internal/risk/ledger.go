package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/algostack/signalpipe/internal/observ"
)

// ErrConcurrentRiskExceeded is returned by Reserve when granting the
// request would push total open risk past the configured cap.
var ErrConcurrentRiskExceeded = errors.New("risk: max concurrent risk exceeded")

// reserveScript atomically reads the current reserved-risk fraction,
// checks it against the cap, and adds the new reservation — closing
// the same read-then-write race the rate limiter's Lua scripts close
// for token buckets, applied here to the shared risk budget instead.
var reserveScript = redis.NewScript(`
local key = KEYS[1]
local current = tonumber(redis.call("GET", key) or "0")
local delta = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
if current + delta > cap then
	return {0, current}
end
local updated = current + delta
redis.call("SET", key, tostring(updated))
return {1, updated}
`)

// releaseScript atomically reads the current reserved-risk fraction and
// subtracts delta, flooring at zero — the same GET/SET-under-a-script
// pattern reserveScript uses, so a Release racing another Release (or a
// concurrent Reserve) can't lose an update the way a plain Get-then-Set
// pair would.
var releaseScript = redis.NewScript(`
local key = KEYS[1]
local current = tonumber(redis.call("GET", key) or "0")
local delta = tonumber(ARGV[1])
local updated = current - delta
if updated < 0 then
	updated = 0
end
redis.call("SET", key, tostring(updated))
return tostring(updated)
`)

const ledgerKey = "signalpipe:risk:reserved_fraction"

// Ledger tracks the fraction of equity currently committed to open
// positions across every process sharing the same Redis instance,
// enforcing the max-concurrent-risk cap spec.md §4.10 requires.
type Ledger struct {
	rdb *redis.Client
}

func NewLedger(rdb *redis.Client) *Ledger {
	return &Ledger{rdb: rdb}
}

// Reserve adds fraction to the reserved-risk total, refusing if doing
// so would exceed maxConcurrentRisk. Returns the new total on success.
func (l *Ledger) Reserve(ctx context.Context, fraction, maxConcurrentRisk float64) (float64, error) {
	res, err := reserveScript.Run(ctx, l.rdb, []string{ledgerKey}, fraction, maxConcurrentRisk).Result()
	if err != nil {
		return 0, fmt.Errorf("risk: reserve: %w", err)
	}
	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return 0, fmt.Errorf("risk: reserve: unexpected script result %v", res)
	}
	granted, _ := pair[0].(int64)
	total, _ := parseFloat(pair[1])
	if granted == 0 {
		return total, ErrConcurrentRiskExceeded
	}
	observ.RiskLedgerFraction.Set(total)
	return total, nil
}

// Release subtracts fraction from the reserved-risk total, e.g. when a
// position closes. Floors at zero so a duplicate release can't drive
// the ledger negative. Runs as a Lua script for the same reason Reserve
// does: a plain Get-then-Set here would lose an update if two releases
// (or a release and a concurrent reserve) interleaved between the read
// and the write.
func (l *Ledger) Release(ctx context.Context, fraction float64) error {
	res, err := releaseScript.Run(ctx, l.rdb, []string{ledgerKey}, fraction).Result()
	if err != nil {
		return fmt.Errorf("risk: release: %w", err)
	}
	updated, err := parseFloat(res)
	if err != nil {
		return fmt.Errorf("risk: release: %w", err)
	}
	observ.RiskLedgerFraction.Set(updated)
	return nil
}

// Current returns the total reserved-risk fraction right now.
func (l *Ledger) Current(ctx context.Context) (float64, error) {
	val, err := l.rdb.Get(ctx, ledgerKey).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("risk: get ledger: %w", err)
	}
	var f float64
	_, err = fmt.Sscanf(val, "%f", &f)
	return f, err
}

func parseFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		var f float64
		_, err := fmt.Sscanf(t, "%f", &f)
		return f, err
	case int64:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("risk: cannot parse %T as float", v)
	}
}
