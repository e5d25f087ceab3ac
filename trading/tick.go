package trading

import "go.uber.org/zap"

// runTick moves the simulated price of every open position one step and
// settles the ones that reach a threshold.
func (m *Manager) runTick() {
	defer m.recoverTask("price tick")

	var closed []HistoryRecord
	m.update(func() change {
		// a tick already waiting on the lock when Stop ran must not act
		if !m.running || len(m.positions) == 0 {
			return 0
		}
		c := changedPositions
		for _, id := range m.sortedIDsLocked() {
			pos := m.positions[id]
			outcome, hit := m.stepLocked(pos)
			if !hit {
				continue
			}
			price := pos.SimulatedPrice
			rec, ok := m.closeLocked(id, closeRequest{outcome: &outcome, exitPrice: &price})
			if ok {
				closed = append(closed, rec)
				c |= changedAll
			}
		}
		return c
	})

	for _, rec := range closed {
		m.log.Debug("threshold reached", zap.String("id", rec.ID), zap.String("outcome", string(rec.Outcome)))
		m.logClosed(rec)
	}
}

// stepLocked applies one random-walk step to pos. The unrealized amount is
// clamped to the position's bounds, and the price with it; hit reports that
// a bound was reached.
func (m *Manager) stepLocked(pos *Position) (outcome Outcome, hit bool) {
	dir := pos.Signal.Direction.Sign()
	u := m.rng.Float64()
	price := pos.SimulatedPrice * (1 + dir*m.cfg.Drift + m.cfg.Volatility*(2*u-1))

	amount := unrealizedAt(pos, price)
	up, down := m.bounds(pos)
	switch {
	case amount >= up:
		amount, outcome, hit = up, TakeProfit, true
		price = priceAt(pos, up)
	case amount <= -down:
		amount, outcome, hit = -down, StopLoss, true
		price = priceAt(pos, -down)
	}

	pos.SimulatedPrice = price
	pos.UnrealizedAmount = amount
	pos.UnrealizedPercent = amount / pos.Capital * 100
	return outcome, hit
}

// unrealizedAt is the P&L of pos if it closed at price.
func unrealizedAt(pos *Position, price float64) float64 {
	entry := pos.Signal.EntryPrice
	return pos.Signal.Direction.Sign() * (price - entry) / entry * pos.Capital
}

// priceAt is the price at which pos would show the given P&L.
func priceAt(pos *Position, amount float64) float64 {
	return pos.Signal.EntryPrice * (1 + pos.Signal.Direction.Sign()*amount/pos.Capital)
}
