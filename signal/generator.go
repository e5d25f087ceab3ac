package signal

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/signaltrader/id"
)

// Generator produces the next qualifying signal. A nil signal with a nil
// error means nothing qualifies right now.
type Generator interface {
	Generate(ctx context.Context) (*Signal, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context) (*Signal, error)

func (f GeneratorFunc) Generate(ctx context.Context) (*Signal, error) { return f(ctx) }

const (
	// TakeProfitPct and StopLossPct are the target distances used by the
	// built-in generators (reward/risk 1.67).
	TakeProfitPct = 0.025
	StopLossPct   = 0.015
)

// BasePrices seeds the mock generator.
var BasePrices = map[string]float64{
	"BTCUSDT":   65000,
	"ETHUSDT":   3200,
	"ADAUSDT":   0.35,
	"SOLUSDT":   95,
	"DOGEUSDT":  0.08,
	"MATICUSDT": 0.85,
	"BNBUSDT":   710,
}

var mockNarratives = map[Direction][]string{
	Long: {
		"Bullish sentiment backed by rising 15m volume; momentum points toward the next resistance.",
		"Golden cross with RSI recovering from oversold; volume expansion hints at an upside breakout.",
		"Support confirmed with a strong bounce; MACD turning positive reinforces the bullish bias.",
		"Ascending triangle breakout on high volume; target projected from the 1.618 extension.",
	},
	Short: {
		"Selling pressure with bearish RSI divergence; resistance rejected on the last three attempts.",
		"Head and shoulders neckline broken; volume rising on the way down confirms the bearish setup.",
		"Overbought RSI above 70 and a shrinking MACD histogram signal fading momentum.",
		"Death cross on the moving averages; next support still well below the current price.",
	},
}

// Mock produces random but well-formed signals for demos and tests.
type Mock struct {
	Pairs []string
	Now   func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMock returns a Mock over pairs (all BasePrices when empty) using seed.
func NewMock(pairs []string, seed int64) *Mock {
	return &Mock{Pairs: pairs, rng: rand.New(rand.NewSource(seed))}
}

func (m *Mock) Generate(ctx context.Context) (*Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	pair, base, err := m.pickPair()
	if err != nil {
		return nil, err
	}

	dir := Long
	if m.rng.Float64() < 0.5 {
		dir = Short
	}

	entry := base * (0.95 + m.rng.Float64()*0.1)
	target, stop := Targets(dir, entry, TakeProfitPct, StopLossPct)
	texts := mockNarratives[dir]

	now := time.Now
	if m.Now != nil {
		now = m.Now
	}

	return &Signal{
		ID:          id.Prefixed("sig"),
		Pair:        pair,
		Direction:   dir,
		EntryPrice:  RoundPrice(entry),
		TargetPrice: RoundPrice(target),
		StopLoss:    RoundPrice(stop),
		Narrative:   texts[m.rng.Intn(len(texts))],
		CreatedAt:   now().UTC(),
	}, nil
}

func (m *Mock) pickPair() (string, float64, error) {
	pairs := m.Pairs
	if len(pairs) == 0 {
		pairs = make([]string, 0, len(BasePrices))
		for p := range BasePrices {
			pairs = append(pairs, p)
		}
		sort.Strings(pairs)
	}
	pair := strings.ToUpper(pairs[m.rng.Intn(len(pairs))])
	base, ok := BasePrices[pair]
	if !ok {
		return "", 0, fmt.Errorf("mock: no base price for %s", pair)
	}
	return pair, base, nil
}
