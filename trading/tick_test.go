package trading

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rustyeddy/signaltrader/sched"
	"github.com/rustyeddy/signaltrader/signal"
	"github.com/rustyeddy/signaltrader/store"
)

func TestTickIsNoopWithoutPositions(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	m, clock := newTestManager(t, DefaultSettings(), st)
	m.Start()
	defer m.Stop()

	var notified int
	m.OnPositionsChange(func([]Position) { notified++ })

	clock.Advance(time.Minute)
	assert.Zero(t, notified)
	assert.Empty(t, st.Keys())
}

func TestDriftCarriesPositionToThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		dir      signal.Direction
		drift    float64
		want     Outcome
		ticks    int
		wantExit float64
	}{
		// 1% a tick on 200k: +2000, +4020, then +6060 clamps to +5000
		{name: "long up", dir: signal.Long, drift: 0.01, want: TakeProfit, ticks: 3, wantExit: 102.5},
		{name: "short down", dir: signal.Short, drift: 0.01, want: TakeProfit, ticks: 3, wantExit: 97.5},
		// -2000 then -3980 clamps to -3000
		{name: "long down", dir: signal.Long, drift: -0.01, want: StopLoss, ticks: 2, wantExit: 98.5},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := quietSettings()
			s.Drift = tt.drift
			s.MinHold = time.Hour
			s.MaxHold = time.Hour
			m, clock := newTestManager(t, s, nil)
			m.Start()
			defer m.Stop()

			require.True(t, m.OpenPosition(testSignal("sig", tt.dir), 200000, "15m"))

			clock.Advance(5 * time.Second)
			p, ok := m.Position("sig")
			require.True(t, ok)
			assert.InDelta(t, math.Copysign(2000, tt.drift), p.UnrealizedAmount, 1e-6)
			assert.InDelta(t, math.Copysign(1, tt.drift), p.UnrealizedPercent, 1e-9)

			clock.Advance(time.Duration(tt.ticks-1) * 5 * time.Second)
			_, ok = m.Position("sig")
			assert.False(t, ok)

			h := m.History()
			require.Len(t, h, 1)
			assert.Equal(t, tt.want, h[0].Outcome)
			assert.InDelta(t, tt.wantExit, h[0].ExitPrice, 1e-9)
			assert.Equal(t, t0.Add(time.Duration(tt.ticks)*5*time.Second), h[0].ClosedAt)
		})
	}
}

func TestSimulationStaysBounded(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	s.InitialBalance = 1e6
	s.Volatility = 0.01
	s.MinHold = 24 * time.Hour
	s.MaxHold = 24 * time.Hour
	m, clock := newTestManager(t, s, nil)
	m.Start()
	defer m.Stop()

	bounds := map[float64][2]float64{
		200000: {5000, 3000},
		1000:   {1000, 1000},
		4000:   {4000, 3000},
	}

	var checked int
	m.OnPositionsChange(func(ps []Position) {
		for _, p := range ps {
			b := bounds[p.Capital]
			assert.LessOrEqual(t, p.UnrealizedAmount, b[0]+1e-9)
			assert.GreaterOrEqual(t, p.UnrealizedAmount, -b[1]-1e-9)
			assert.Greater(t, p.SimulatedPrice, 0.0)
			assert.InDelta(t, unrealizedAt(&p, p.SimulatedPrice), p.UnrealizedAmount, 1e-6)
			checked++
		}
	})

	round := 0
	for i := 0; i < 50; i++ {
		for capital := range bounds {
			round++
			dir := signal.Long
			if round%2 == 0 {
				dir = signal.Short
			}
			m.OpenPosition(testSignal(string(rune('a'+round%26))+"-"+time.Duration(round).String(), dir), capital, "15m")
		}
		clock.Advance(10 * time.Minute)
	}

	assert.NotZero(t, checked)
	for _, h := range m.History() {
		b := bounds[h.Capital]
		assert.True(t, h.RealizedProfit == b[0] || h.RealizedProfit == -b[1], "profit %v for capital %v", h.RealizedProfit, h.Capital)
	}
}

// heldTicker keeps the periodic callback so a test can fire it after the
// task was cancelled, as a ticker goroutine blocked on the lock would.
type heldTicker struct {
	*sched.Manual
	tick func()
}

func (h *heldTicker) Every(d time.Duration, fn func()) sched.Task {
	h.tick = fn
	return h.Manual.Every(d, fn)
}

func TestLateTickAfterStopIsIgnored(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	clock := &heldTicker{Manual: sched.NewManual(t0)}
	m := New(Options{
		Settings:  DefaultSettings(),
		Store:     st,
		Scheduler: clock,
		Logger:    zaptest.NewLogger(t),
		Rand:      rand.New(rand.NewSource(1)),
	})
	require.True(t, m.OpenPosition(testSignal("sig", signal.Long), 200000, "15m"))
	m.Start()
	require.NotNil(t, clock.tick)
	m.Stop()

	before := m.OpenPositions()
	saved, err := st.Get(context.Background(), keyPositions)
	require.NoError(t, err)

	var notified int
	m.OnPositionsChange(func([]Position) { notified++ })
	for i := 0; i < 50; i++ {
		clock.tick()
	}

	assert.Equal(t, before, m.OpenPositions())
	assert.Empty(t, m.History())
	assert.Zero(t, notified)
	after, err := st.Get(context.Background(), keyPositions)
	require.NoError(t, err)
	assert.Equal(t, saved, after)
}
