package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTrade(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	closeT := time.Date(2024, 4, 10, 15, 30, 0, 0, time.UTC)
	expected := sampleTrade("T123", closeT, 5000)
	expected.Direction = "SHORT"
	expected.Pair = "ETHUSDT"

	require.NoError(t, j.RecordTrade(expected))

	actual, err := j.GetTrade("T123")
	require.NoError(t, err)

	assert.Equal(t, expected.TradeID, actual.TradeID)
	assert.Equal(t, expected.Pair, actual.Pair)
	assert.Equal(t, expected.Direction, actual.Direction)
	assert.InDelta(t, expected.Capital, actual.Capital, 1e-6)
	assert.InDelta(t, expected.EntryPrice, actual.EntryPrice, 1e-9)
	assert.InDelta(t, expected.ExitPrice, actual.ExitPrice, 1e-9)
	assert.True(t, actual.OpenTime.Equal(expected.OpenTime))
	assert.True(t, actual.CloseTime.Equal(expected.CloseTime))
	assert.InDelta(t, expected.RealizedPL, actual.RealizedPL, 1e-6)
	assert.Equal(t, expected.Outcome, actual.Outcome)
	assert.Equal(t, expected.Reason, actual.Reason)
}

func TestGetTradeNotFound(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	_, err := j.GetTrade("nonexistent")
	assert.ErrorIs(t, err, ErrTradeNotFound)
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestListTradesClosedBetween(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	trades := []TradeRecord{
		sampleTrade("T1", base.Add(1*time.Hour), 5000),
		sampleTrade("T2", base.Add(5*time.Hour), -3000),
		sampleTrade("T3", base.Add(10*time.Hour), 5000),
		sampleTrade("T4", base.Add(24*time.Hour), 5000),
	}
	for _, trade := range trades {
		require.NoError(t, j.RecordTrade(trade))
	}

	results, err := j.ListTradesClosedBetween(base.Add(3*time.Hour), base.Add(12*time.Hour))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "T2", results[0].TradeID)
	assert.Equal(t, "T3", results[1].TradeID)
}

func TestListTradesClosedBetweenOrdering(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	// inserted out of order
	for _, trade := range []TradeRecord{
		sampleTrade("T3", base.Add(10*time.Hour), 5000),
		sampleTrade("T1", base.Add(2*time.Hour), 5000),
		sampleTrade("T2", base.Add(5*time.Hour), -3000),
	} {
		require.NoError(t, j.RecordTrade(trade))
	}

	results, err := j.ListTradesClosedBetween(base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "T1", results[0].TradeID)
	assert.Equal(t, "T2", results[1].TradeID)
	assert.Equal(t, "T3", results[2].TradeID)
	assert.True(t, results[0].CloseTime.Before(results[1].CloseTime))
	assert.True(t, results[1].CloseTime.Before(results[2].CloseTime))
}

func TestListTradesClosedBetweenEmpty(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)

	results, err := j.ListTradesClosedBetween(start, end)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestListTradesClosedBetweenBoundaries(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		start, end time.Time
		want       int
	}{
		{name: "start is inclusive", start: at, end: at.Add(time.Hour), want: 1},
		{name: "end is exclusive", start: at.Add(-time.Hour), end: at, want: 0},
		{name: "outside range", start: at.Add(24 * time.Hour), end: at.Add(48 * time.Hour), want: 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			j, _ := newTestSQLite(t)
			defer j.Close()

			require.NoError(t, j.RecordTrade(sampleTrade("T1", at, 5000)))

			results, err := j.ListTradesClosedBetween(tt.start, tt.end)
			require.NoError(t, err)
			assert.Len(t, results, tt.want)
		})
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	s := Summarize([]TradeRecord{
		sampleTrade("A", at, 5000),
		sampleTrade("B", at, 5000),
		sampleTrade("C", at, -3000),
	})

	assert.Equal(t, 3, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 10000, s.GrossProfit, 1e-9)
	assert.InDelta(t, 3000, s.GrossLoss, 1e-9)
	assert.InDelta(t, 7000, s.NetPL, 1e-9)
	assert.InDelta(t, 10000.0/3000.0, s.ProfitFactor, 1e-9)

	assert.Equal(t, Summary{}, Summarize(nil))
}
