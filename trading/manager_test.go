package trading

import (
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/rustyeddy/signaltrader/journal"
	"github.com/rustyeddy/signaltrader/sched"
	"github.com/rustyeddy/signaltrader/signal"
	"github.com/rustyeddy/signaltrader/store"
)

var t0 = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func testSignal(id string, dir signal.Direction) signal.Signal {
	entry := 100.0
	target, stop := signal.Targets(dir, entry, 0.025, 0.015)
	return signal.Signal{
		ID:          id,
		Pair:        "BTCUSDT",
		Direction:   dir,
		EntryPrice:  entry,
		TargetPrice: target,
		StopLoss:    stop,
		Narrative:   "test",
		CreatedAt:   t0,
	}
}

// quietSettings never moves the simulated price.
func quietSettings() Settings {
	s := DefaultSettings()
	s.Drift = 0
	s.Volatility = 0
	return s
}

func newTestManager(t *testing.T, s Settings, st store.Store) (*Manager, *sched.Manual) {
	t.Helper()
	if st == nil {
		st = store.NewMemory()
	}
	clock := sched.NewManual(t0)
	m := New(Options{
		Settings:  s,
		Store:     st,
		Scheduler: clock,
		Logger:    zaptest.NewLogger(t),
		Rand:      rand.New(rand.NewSource(1)),
	})
	return m, clock
}

func TestOpenDebitsBalance(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, quietSettings(), nil)
	sig := testSignal("sig-1", signal.Long)

	pos, err := m.Open(sig, 200000, "15m")
	require.NoError(t, err)

	assert.Equal(t, sig.ID, pos.ID)
	assert.Equal(t, t0, pos.OpenedAt)
	assert.Equal(t, "15m", pos.Timeframe)
	assert.Equal(t, sig.EntryPrice, pos.SimulatedPrice)
	assert.Zero(t, pos.UnrealizedAmount)
	assert.Zero(t, pos.UnrealizedPercent)
	assert.GreaterOrEqual(t, pos.CloseAfter, 2*time.Minute)
	assert.LessOrEqual(t, pos.CloseAfter, 10*time.Minute)

	assert.Equal(t, 0.0, m.Balance())
	require.Len(t, m.OpenPositions(), 1)
	assert.Equal(t, pos, m.OpenPositions()[0])

	got, ok := m.Position(sig.ID)
	assert.True(t, ok)
	assert.Equal(t, pos, got)
}

func TestOpenRejects(t *testing.T) {
	t.Parallel()

	invalid := testSignal("bad", signal.Long)
	invalid.TargetPrice = 90

	tests := []struct {
		name    string
		sig     signal.Signal
		capital float64
		wantErr error
	}{
		{name: "zero capital", sig: testSignal("a", signal.Long), capital: 0, wantErr: ErrInvalidCapital},
		{name: "negative capital", sig: testSignal("a", signal.Long), capital: -5, wantErr: ErrInvalidCapital},
		{name: "NaN capital", sig: testSignal("a", signal.Long), capital: math.NaN(), wantErr: ErrInvalidCapital},
		{name: "invalid signal", sig: invalid, capital: 1000, wantErr: signal.ErrInvalid},
		{name: "duplicate", sig: testSignal("open", signal.Long), capital: 1000, wantErr: ErrDuplicatePosition},
		{name: "insufficient balance", sig: testSignal("big", signal.Short), capital: 150001, wantErr: ErrInsufficientBalance},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, _ := newTestManager(t, quietSettings(), nil)
			require.True(t, m.OpenPosition(testSignal("open", signal.Long), 50000, "15m"))

			var notified int
			m.OnPositionsChange(func([]Position) { notified++ })
			m.OnBalanceChange(func(float64) { notified++ })

			_, err := m.Open(tt.sig, tt.capital, "15m")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, m.OpenPosition(tt.sig, tt.capital, "15m"))

			assert.Equal(t, 150000.0, m.Balance())
			assert.Len(t, m.OpenPositions(), 1)
			assert.Zero(t, notified)
		})
	}
}

func TestEndToEndSettlement(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		dir         signal.Direction
		outcome     Outcome
		wantBalance float64
		wantExit    float64
		wantPercent float64
	}{
		{name: "long take profit", dir: signal.Long, outcome: TakeProfit, wantBalance: 205000, wantExit: 102.5, wantPercent: 2.5},
		{name: "long stop loss", dir: signal.Long, outcome: StopLoss, wantBalance: 197000, wantExit: 98.5, wantPercent: -1.5},
		{name: "short take profit", dir: signal.Short, outcome: TakeProfit, wantBalance: 205000, wantExit: 97.5, wantPercent: 2.5},
		{name: "short stop loss", dir: signal.Short, outcome: StopLoss, wantBalance: 197000, wantExit: 101.5, wantPercent: -1.5},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, clock := newTestManager(t, quietSettings(), nil)
			assert.Equal(t, 200000.0, m.Balance())

			require.True(t, m.OpenPosition(testSignal("sig-1", tt.dir), 200000, "15m"))
			assert.Equal(t, 0.0, m.Balance())

			clock.Advance(90 * time.Second)
			rec, ok := m.Close("sig-1", WithOutcome(tt.outcome))
			require.True(t, ok)

			assert.Equal(t, tt.wantBalance, m.Balance())
			assert.Empty(t, m.OpenPositions())

			h := m.History()
			require.Len(t, h, 1)
			assert.Equal(t, rec, h[0])
			assert.Equal(t, tt.outcome, rec.Outcome)
			assert.Equal(t, "BTCUSDT", rec.Pair)
			assert.Equal(t, tt.dir, rec.Direction)
			assert.Equal(t, 100.0, rec.EntryPrice)
			assert.InDelta(t, tt.wantExit, rec.ExitPrice, 1e-9)
			assert.InDelta(t, tt.wantBalance-200000, rec.RealizedProfit, 1e-9)
			assert.InDelta(t, tt.wantPercent, rec.RealizedPercent, 1e-9)
			assert.Equal(t, t0, rec.OpenedAt)
			assert.Equal(t, t0.Add(90*time.Second), rec.ClosedAt)
			assert.NotEmpty(t, rec.Reason)
		})
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, quietSettings(), nil)
	require.True(t, m.OpenPosition(testSignal("sig-1", signal.Long), 100000, "15m"))

	assert.True(t, m.ClosePosition("sig-1", WithOutcome(TakeProfit)))
	balance := m.Balance()

	var notified int
	m.OnHistoryChange(func([]HistoryRecord) { notified++ })

	assert.False(t, m.ClosePosition("sig-1", WithOutcome(TakeProfit)))
	assert.False(t, m.ClosePosition("never-opened"))

	assert.Equal(t, balance, m.Balance())
	assert.Len(t, m.History(), 1)
	assert.Zero(t, notified)
}

func TestCloseWithExitPrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		dir   signal.Direction
		price float64
		want  Outcome
	}{
		{name: "long above target amount", dir: signal.Long, price: 103, want: TakeProfit},
		{name: "long below stop amount", dir: signal.Long, price: 98, want: StopLoss},
		{name: "short below target amount", dir: signal.Short, price: 97, want: TakeProfit},
		{name: "short above stop amount", dir: signal.Short, price: 102, want: StopLoss},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := quietSettings()
			// the price must decide, never the coin
			if tt.want == TakeProfit {
				s.WinRate = 0
			} else {
				s.WinRate = 1
			}
			m, _ := newTestManager(t, s, nil)
			require.True(t, m.OpenPosition(testSignal("sig", tt.dir), 200000, "15m"))

			rec, ok := m.Close("sig", WithExitPrice(tt.price))
			require.True(t, ok)
			assert.Equal(t, tt.want, rec.Outcome)
		})
	}
}

func TestCloseFallsBackToWinRate(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		winRate float64
		want    Outcome
	}{
		{winRate: 1, want: TakeProfit},
		{winRate: 0, want: StopLoss},
	} {
		s := quietSettings()
		s.WinRate = tc.winRate
		m, _ := newTestManager(t, s, nil)
		require.True(t, m.OpenPosition(testSignal("sig", signal.Long), 1000, "15m"))

		// an exit price inside the band does not decide
		rec, ok := m.Close("sig", WithExitPrice(100.1))
		require.True(t, ok)
		assert.Equal(t, tc.want, rec.Outcome)
	}
}

func TestProfitCappedAtCapital(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, quietSettings(), nil)
	require.True(t, m.OpenPosition(testSignal("small", signal.Short), 2000, "15m"))
	require.True(t, m.OpenPosition(testSignal("tiny", signal.Long), 1000, "15m"))

	win, ok := m.Close("small", WithOutcome(TakeProfit))
	require.True(t, ok)
	assert.Equal(t, 2000.0, win.RealizedProfit)
	assert.InDelta(t, 0, win.ExitPrice, 1e-9)

	loss, ok := m.Close("tiny", WithOutcome(StopLoss))
	require.True(t, ok)
	assert.Equal(t, -1000.0, loss.RealizedProfit)
	assert.InDelta(t, 0, loss.ExitPrice, 1e-9)

	assert.Equal(t, 200000.0+2000-1000, m.Balance())
}

func TestHistoryNewestFirst(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager(t, quietSettings(), nil)
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, m.OpenPosition(testSignal(id, signal.Long), 50000, "15m"))
	}

	for _, id := range []string{"b", "a", "c"} {
		clock.Advance(time.Second)
		require.True(t, m.ClosePosition(id, WithOutcome(StopLoss)))
	}

	h := m.History()
	require.Len(t, h, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{h[0].ID, h[1].ID, h[2].ID})
	for i, rec := range h {
		assert.False(t, rec.ClosedAt.Before(rec.OpenedAt))
		if i > 0 {
			assert.False(t, rec.ClosedAt.After(h[i-1].ClosedAt))
		}
	}

	// callers get copies
	h[0].ID = "mutated"
	assert.Equal(t, "c", m.History()[0].ID)
}

func TestBalanceConservation(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	s.Volatility = 0.01
	m, clock := newTestManager(t, s, nil)
	m.Start()
	defer m.Stop()

	rng := rand.New(rand.NewSource(42))
	check := func() {
		var committed, realized float64
		for _, p := range m.OpenPositions() {
			committed += p.Capital
		}
		for _, h := range m.History() {
			realized += h.RealizedProfit
		}
		require.InDelta(t, s.InitialBalance+realized, m.Balance()+committed, 1e-6)
	}

	next := 0
	for step := 0; step < 400; step++ {
		switch rng.Intn(4) {
		case 0, 1:
			next++
			dir := signal.Long
			if rng.Intn(2) == 0 {
				dir = signal.Short
			}
			m.OpenPosition(testSignal(fmt.Sprintf("sig-%d", next), dir), float64(10000+rng.Intn(40000)), "15m")
		case 2:
			open := m.OpenPositions()
			if len(open) > 0 {
				m.ClosePosition(open[rng.Intn(len(open))].ID)
			}
		}
		clock.Advance(time.Duration(rng.Intn(20)) * time.Second)
		check()
	}
	assert.NotEmpty(t, m.History())
}

func TestGuaranteedClosure(t *testing.T) {
	t.Parallel()

	s := quietSettings()
	s.MinHold = 2 * time.Minute
	s.MaxHold = 2 * time.Minute
	m, clock := newTestManager(t, s, nil)
	m.Start()
	defer m.Stop()

	pos, err := m.Open(testSignal("sig", signal.Long), 200000, "15m")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, pos.CloseAfter)

	clock.Advance(2*time.Minute - time.Millisecond)
	assert.Len(t, m.OpenPositions(), 1)

	clock.Advance(time.Millisecond)
	assert.Empty(t, m.OpenPositions())
	h := m.History()
	require.Len(t, h, 1)
	assert.Equal(t, t0.Add(2*time.Minute), h[0].ClosedAt)
	assert.Contains(t, []float64{205000, 197000}, m.Balance())
}

func TestStartRearmsOverdueTimers(t *testing.T) {
	t.Parallel()

	s := quietSettings()
	s.MinHold = 2 * time.Minute
	s.MaxHold = 2 * time.Minute
	m, clock := newTestManager(t, s, nil)

	require.True(t, m.OpenPosition(testSignal("sig", signal.Long), 1000, "15m"))

	// not started: nothing fires
	clock.Advance(5 * time.Minute)
	require.Len(t, m.OpenPositions(), 1)

	m.Start()
	defer m.Stop()
	assert.Len(t, m.OpenPositions(), 1, "overdue positions never close synchronously")

	clock.Advance(s.RestoreCloseDelay - time.Millisecond)
	assert.Len(t, m.OpenPositions(), 1)
	clock.Advance(time.Millisecond)
	assert.Empty(t, m.OpenPositions())
}

func TestRestoredPositionKeepsRemainingHold(t *testing.T) {
	t.Parallel()

	s := quietSettings()
	s.MinHold = 10 * time.Minute
	s.MaxHold = 10 * time.Minute
	st := store.NewMemory()

	first, clock := newTestManager(t, s, st)
	first.Start()
	require.True(t, first.OpenPosition(testSignal("sig", signal.Short), 1000, "15m"))
	clock.Advance(4 * time.Minute)
	first.Stop()

	second := New(Options{Settings: s, Store: st, Scheduler: clock, Logger: zaptest.NewLogger(t)})
	second.Start()
	defer second.Stop()

	clock.Advance(6*time.Minute - time.Millisecond)
	assert.Len(t, second.OpenPositions(), 1)
	clock.Advance(time.Millisecond)
	assert.Empty(t, second.OpenPositions())
	assert.Len(t, second.History(), 1)
}

func TestStopCancelsScheduledWork(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager(t, quietSettings(), nil)
	m.Start()

	require.True(t, m.OpenPosition(testSignal("a", signal.Long), 1000, "15m"))
	require.True(t, m.OpenPosition(testSignal("b", signal.Long), 1000, "15m"))
	require.True(t, m.ClosePosition("a", WithOutcome(TakeProfit)))

	// tick, one closure timer, one signal request
	assert.Equal(t, 3, clock.Pending())

	m.Stop()
	assert.Zero(t, clock.Pending())

	var requests int
	m.OnSignalRequest(func(SignalRequest) { requests++ })
	clock.Advance(time.Hour)
	assert.Zero(t, requests)
	assert.Len(t, m.OpenPositions(), 1)

	// Stop twice is fine, and Start resumes
	m.Stop()
	m.Start()
	defer m.Stop()
	assert.Equal(t, 2, clock.Pending())
}

func TestSignalRequestAfterClose(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager(t, quietSettings(), nil)
	m.Start()
	defer m.Stop()

	var got []SignalRequest
	m.OnSignalRequest(func(r SignalRequest) { got = append(got, r) })

	require.True(t, m.OpenPosition(testSignal("sig", signal.Long), 1000, "15m"))
	require.True(t, m.ClosePosition("sig", WithOutcome(StopLoss)))
	assert.Empty(t, got)

	clock.Advance(3*time.Second - time.Millisecond)
	assert.Empty(t, got)
	clock.Advance(time.Millisecond)

	require.Len(t, got, 1)
	assert.Equal(t, SignalRequest{AfterTradeID: "sig", Outcome: StopLoss, At: t0}, got[0])
}

func TestNotificationOrder(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, quietSettings(), nil)

	var events []string
	m.OnPositionsChange(func(ps []Position) {
		events = append(events, "positions")
		// getters are safe inside callbacks
		assert.Len(t, m.OpenPositions(), len(ps))
	})
	m.OnHistoryChange(func([]HistoryRecord) { events = append(events, "history") })
	m.OnBalanceChange(func(b float64) {
		events = append(events, "balance")
		assert.Equal(t, b, m.Balance())
	})

	require.True(t, m.OpenPosition(testSignal("sig", signal.Long), 1000, "15m"))
	assert.Equal(t, []string{"positions", "balance"}, events)

	events = nil
	require.True(t, m.ClosePosition("sig", WithOutcome(TakeProfit)))
	assert.Equal(t, []string{"positions", "history", "balance"}, events)
}

func TestSubscriberMayMutate(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, quietSettings(), nil)

	var balances []float64
	m.OnBalanceChange(func(b float64) { balances = append(balances, b) })
	m.OnPositionsChange(func(ps []Position) {
		for _, p := range ps {
			if p.ID == "auto" {
				m.ClosePosition(p.ID, WithOutcome(TakeProfit))
			}
		}
	})

	require.True(t, m.OpenPosition(testSignal("auto", signal.Long), 10000, "15m"))

	assert.Empty(t, m.OpenPositions())
	assert.Equal(t, []float64{190000, 205000}, balances)
}

func TestSubscriberPanicIsContained(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, quietSettings(), nil)
	m.OnPositionsChange(func([]Position) { panic("boom") })

	assert.NotPanics(t, func() {
		require.True(t, m.OpenPosition(testSignal("sig", signal.Long), 1000, "15m"))
	})
	assert.True(t, m.ClosePosition("sig"))
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, quietSettings(), nil)

	var calls int
	unsubscribe := m.OnBalanceChange(func(float64) { calls++ })
	require.True(t, m.OpenPosition(testSignal("a", signal.Long), 1000, "15m"))
	assert.Equal(t, 1, calls)

	unsubscribe()
	unsubscribe()
	require.True(t, m.OpenPosition(testSignal("b", signal.Long), 1000, "15m"))
	assert.Equal(t, 1, calls)
}

func TestReset(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	m, clock := newTestManager(t, quietSettings(), st)
	m.Start()
	defer m.Stop()

	require.True(t, m.OpenPosition(testSignal("a", signal.Long), 1000, "15m"))
	require.True(t, m.OpenPosition(testSignal("b", signal.Short), 1000, "15m"))
	require.True(t, m.ClosePosition("a", WithOutcome(TakeProfit)))

	var history []HistoryRecord
	m.OnHistoryChange(func(h []HistoryRecord) { history = h })

	m.Reset()
	assert.Equal(t, 200000.0, m.Balance())
	assert.Empty(t, m.OpenPositions())
	assert.Empty(t, m.History())
	assert.NotNil(t, history)
	assert.Empty(t, history)
	assert.Equal(t, 1, clock.Pending(), "only the tick survives a reset")

	reloaded := New(Options{Settings: quietSettings(), Store: st, Logger: zap.NewNop()})
	assert.Equal(t, 200000.0, reloaded.Balance())
	assert.Empty(t, reloaded.OpenPositions())
	assert.Empty(t, reloaded.History())
}

func TestStats(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager(t, quietSettings(), nil)
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, m.OpenPosition(testSignal(id, signal.Long), 50000, "15m"))
	}
	clock.Advance(time.Minute)
	m.ClosePosition("a", WithOutcome(TakeProfit))
	m.ClosePosition("b", WithOutcome(StopLoss))
	clock.Advance(2 * time.Minute)
	m.ClosePosition("c", WithOutcome(TakeProfit))

	s := m.Stats()
	assert.Equal(t, 3, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 200.0/3, s.WinRate, 1e-9)
	assert.InDelta(t, 7000, s.TotalProfit, 1e-9)
	assert.Equal(t, 5000.0, s.BestTrade)
	assert.Equal(t, -3000.0, s.WorstTrade)
	// held 1m, 1m and 3m
	assert.Equal(t, 100*time.Second, s.AvgHold)
}

func TestEquity(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, quietSettings(), nil)
	require.True(t, m.OpenPosition(testSignal("a", signal.Long), 50000, "15m"))
	assert.Equal(t, 200000.0, m.Equity())
}

func TestJournalRecordsSettlement(t *testing.T) {
	t.Parallel()

	j, err := journal.NewSQLite(filepath.Join(t.TempDir(), "journal.sqlite"))
	require.NoError(t, err)
	defer j.Close()

	clock := sched.NewManual(t0)
	m := New(Options{
		Settings:  quietSettings(),
		Scheduler: clock,
		Journal:   j,
		Logger:    zaptest.NewLogger(t),
		Rand:      rand.New(rand.NewSource(7)),
	})

	require.True(t, m.OpenPosition(testSignal("sig", signal.Short), 200000, "15m"))
	require.True(t, m.OpenPosition(testSignal("other", signal.Long), 1000, "15m"))
	clock.Advance(3 * time.Minute)
	rec, ok := m.Close("sig", WithOutcome(TakeProfit))
	require.True(t, ok)

	tr, err := j.GetTrade("sig")
	require.NoError(t, err)
	assert.Equal(t, "SHORT", tr.Direction)
	assert.Equal(t, "TAKE_PROFIT", tr.Outcome)
	assert.InDelta(t, 5000, tr.RealizedPL, 1e-9)
	assert.InDelta(t, rec.ExitPrice, tr.ExitPrice, 1e-9)
	assert.True(t, tr.CloseTime.Equal(t0.Add(3*time.Minute)))
	assert.Equal(t, rec.Reason, tr.Reason)

	eq, err := j.ListEquityBetween(t0, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, eq, 1)
	assert.InDelta(t, m.Balance(), eq[0].Balance, 1e-9)
	assert.InDelta(t, 1000, eq[0].Committed, 1e-9)
	assert.Equal(t, 1, eq[0].OpenPositions)
}

func TestRealClock(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	s.TickInterval = 5 * time.Millisecond
	s.MinHold = time.Hour
	s.MaxHold = time.Hour
	s.TakeProfitAmount = 1e9
	s.StopLossAmount = 1e9

	m := New(Options{Settings: s, Logger: zap.NewNop()})
	m.Start()
	defer m.Stop()

	require.True(t, m.OpenPosition(testSignal("sig", signal.Long), 1000, "15m"))
	assert.Eventually(t, func() bool {
		p, ok := m.Position("sig")
		return ok && p.SimulatedPrice != p.Signal.EntryPrice
	}, 2*time.Second, 5*time.Millisecond)
}
