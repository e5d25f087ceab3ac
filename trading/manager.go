// Package trading owns the simulated account: open positions, closed
// history and balance. It drives the price simulation, settles positions
// on take-profit, stop-loss or their guaranteed-closure timer, persists
// every change and publishes change notifications.
package trading

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/signaltrader/events"
	"github.com/rustyeddy/signaltrader/journal"
	"github.com/rustyeddy/signaltrader/sched"
	"github.com/rustyeddy/signaltrader/signal"
	"github.com/rustyeddy/signaltrader/store"
)

var (
	ErrInvalidCapital      = errors.New("capital must be positive")
	ErrDuplicatePosition   = errors.New("position already open for signal")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Settings are the account and simulation parameters.
type Settings struct {
	InitialBalance   float64
	TakeProfitAmount float64
	StopLossAmount   float64
	// WinRate is the probability of TAKE_PROFIT when no price decides the outcome.
	WinRate float64

	MinHold time.Duration
	MaxHold time.Duration

	TickInterval time.Duration
	Drift        float64
	Volatility   float64

	NextSignalDelay   time.Duration
	RestoreCloseDelay time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		InitialBalance:    200000,
		TakeProfitAmount:  5000,
		StopLossAmount:    3000,
		WinRate:           0.65,
		MinHold:           2 * time.Minute,
		MaxHold:           10 * time.Minute,
		TickInterval:      5 * time.Second,
		Drift:             0.0002,
		Volatility:        0.002,
		NextSignalDelay:   3 * time.Second,
		RestoreCloseDelay: time.Second,
	}
}

// SignalRequest asks the signal source for a fresh signal after a trade
// settled.
type SignalRequest struct {
	AfterTradeID string    `json:"afterTradeId"`
	Outcome      Outcome   `json:"outcome"`
	At           time.Time `json:"at"`
}

// Options configure a Manager. Only Settings is required; the zero value of
// every other field picks a default.
type Options struct {
	Settings  Settings
	Store     store.Store     // default: in-memory
	Scheduler sched.Scheduler // default: wall clock
	Logger    *zap.Logger
	Journal   journal.Journal // optional
	Rand      *rand.Rand
}

type change uint8

const (
	changedBalance change = 1 << iota
	changedPositions
	changedHistory
	changedSignal

	changedAll = changedBalance | changedPositions | changedHistory
)

type notice struct {
	kind      change
	balance   float64
	positions []Position
	history   []HistoryRecord
	request   SignalRequest
}

type timerEntry struct {
	task sched.Task
	gen  uint64
}

// Manager is the trade lifecycle controller. All methods are safe for
// concurrent use. Change notifications are delivered after the internal
// lock is released, in the order the changes happened, so subscribers may
// call back into the Manager. Slices handed to subscribers are shared
// between them and must not be modified.
type Manager struct {
	cfg     Settings
	store   store.Store
	sched   sched.Scheduler
	log     *zap.Logger
	journal journal.Journal

	mu        sync.Mutex
	rng       *rand.Rand
	balance   float64
	positions map[string]*Position
	history   []HistoryRecord
	running   bool
	tick      sched.Task
	timers    map[string]timerEntry
	timerGen  uint64
	requests  map[uint64]sched.Task
	reqSeq    uint64
	outbox    []notice

	emitMu          sync.Mutex
	historyTopic    events.Topic[[]HistoryRecord]
	positionsTopic  events.Topic[[]Position]
	balanceTopic    events.Topic[float64]
	signalReqsTopic events.Topic[SignalRequest]
}

// New builds a Manager and restores any state found in the store. Unusable
// persisted state is logged and replaced by a fresh account.
func New(opts Options) *Manager {
	cfg := opts.Settings
	if cfg == (Settings{}) {
		cfg = DefaultSettings()
	}

	st := opts.Store
	if st == nil {
		st = store.NewMemory()
	}
	sc := opts.Scheduler
	if sc == nil {
		sc = sched.NewReal()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	m := &Manager{
		cfg:       cfg,
		store:     st,
		sched:     sc,
		log:       log.Named("trading"),
		journal:   opts.Journal,
		rng:       rng,
		positions: make(map[string]*Position),
		timers:    make(map[string]timerEntry),
		requests:  make(map[uint64]sched.Task),
	}

	s, err := loadState(context.Background(), st, cfg.InitialBalance)
	if err != nil {
		m.log.Warn("persisted state unusable, starting fresh", zap.Error(err))
	}
	m.balance = s.Balance
	for i := range s.Positions {
		p := s.Positions[i]
		m.positions[p.ID] = &p
	}
	m.history = s.History

	m.log.Debug("state restored",
		zap.Float64("balance", m.balance),
		zap.Int("open_positions", len(m.positions)),
		zap.Int("history", len(m.history)))
	return m
}

func (m *Manager) Settings() Settings { return m.cfg }

// Start begins the price tick and arms the guaranteed-closure timer of
// every open position, including positions restored from the store.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.tick = m.sched.Every(m.cfg.TickInterval, m.runTick)

	ps := m.positionsLocked()
	for _, p := range ps {
		m.armLocked(m.positions[p.ID])
	}
	m.log.Info("trade manager started",
		zap.Int("open_positions", len(ps)),
		zap.Float64("balance", m.balance))
}

// Stop cancels the tick, every closure timer and every pending signal
// request. State is kept; Start resumes it.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	if m.tick != nil {
		m.tick.Stop()
		m.tick = nil
	}
	m.cancelTimersLocked()
	m.cancelRequestsLocked()
	m.log.Info("trade manager stopped")
}

// Open debits capital and opens a position for sig. It fails without side
// effects when capital is not positive, the signal is invalid, a position
// for the signal is already open, or the balance is too small.
func (m *Manager) Open(sig signal.Signal, capital float64, timeframe string) (Position, error) {
	var (
		pos Position
		err error
	)
	m.update(func() change {
		pos, err = m.openLocked(sig, capital, timeframe)
		if err != nil {
			return 0
		}
		return changedBalance | changedPositions
	})
	if err != nil {
		m.log.Warn("open position rejected",
			zap.String("id", sig.ID),
			zap.String("pair", sig.Pair),
			zap.Float64("capital", capital),
			zap.Error(err))
		return Position{}, err
	}

	m.log.Info("position opened",
		zap.String("id", pos.ID),
		zap.String("pair", pos.Signal.Pair),
		zap.String("direction", string(pos.Signal.Direction)),
		zap.Float64("entry", pos.Signal.EntryPrice),
		zap.Float64("capital", pos.Capital),
		zap.Duration("close_after", pos.CloseAfter))
	return pos, nil
}

// OpenPosition is Open reporting only whether the position was opened.
func (m *Manager) OpenPosition(sig signal.Signal, capital float64, timeframe string) bool {
	_, err := m.Open(sig, capital, timeframe)
	return err == nil
}

type closeRequest struct {
	exitPrice *float64
	outcome   *Outcome
}

// CloseOption adjusts how ClosePosition decides the outcome.
type CloseOption func(*closeRequest)

// WithExitPrice supplies an observed price. If its P&L reaches a threshold
// that threshold decides the outcome.
func WithExitPrice(p float64) CloseOption {
	return func(r *closeRequest) { r.exitPrice = &p }
}

// WithOutcome forces the outcome.
func WithOutcome(o Outcome) CloseOption {
	return func(r *closeRequest) { r.outcome = &o }
}

// Close settles the open position id. It returns false when no such
// position is open, which makes repeated closes harmless.
func (m *Manager) Close(id string, opts ...CloseOption) (HistoryRecord, bool) {
	var req closeRequest
	for _, opt := range opts {
		opt(&req)
	}

	var (
		rec HistoryRecord
		ok  bool
	)
	m.update(func() change {
		rec, ok = m.closeLocked(id, req)
		if !ok {
			return 0
		}
		return changedAll
	})
	if !ok {
		m.log.Debug("close ignored, position not open", zap.String("id", id))
		return HistoryRecord{}, false
	}
	m.logClosed(rec)
	return rec, true
}

func (m *Manager) ClosePosition(id string, opts ...CloseOption) bool {
	_, ok := m.Close(id, opts...)
	return ok
}

// Reset discards every open position without settling it, clears the
// history and restores the initial balance.
func (m *Manager) Reset() {
	m.update(func() change {
		m.cancelTimersLocked()
		m.cancelRequestsLocked()
		m.positions = make(map[string]*Position)
		m.history = nil
		m.balance = m.cfg.InitialBalance
		return changedAll
	})
	m.log.Info("account reset", zap.Float64("balance", m.cfg.InitialBalance))
}

func (m *Manager) OpenPositions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positionsLocked()
}

// Position returns the open position id.
func (m *Manager) Position(id string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

func (m *Manager) Balance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}

// History returns closed trades, newest first.
func (m *Manager) History() []HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historyLocked()
}

func (m *Manager) Stats() Stats {
	return Summarize(m.History())
}

// Equity is the balance plus committed capital and unrealized P&L.
func (m *Manager) Equity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	committed, unrealized := m.exposureLocked()
	return m.balance + committed + unrealized
}

func (m *Manager) OnHistoryChange(fn func([]HistoryRecord)) (unsubscribe func()) {
	return m.historyTopic.Subscribe(fn)
}

func (m *Manager) OnPositionsChange(fn func([]Position)) (unsubscribe func()) {
	return m.positionsTopic.Subscribe(fn)
}

func (m *Manager) OnBalanceChange(fn func(float64)) (unsubscribe func()) {
	return m.balanceTopic.Subscribe(fn)
}

// OnSignalRequest fires NextSignalDelay after every settled trade while the
// manager is started.
func (m *Manager) OnSignalRequest(fn func(SignalRequest)) (unsubscribe func()) {
	return m.signalReqsTopic.Subscribe(fn)
}

func (m *Manager) openLocked(sig signal.Signal, capital float64, timeframe string) (Position, error) {
	if !(capital > 0) || math.IsInf(capital, 0) {
		return Position{}, ErrInvalidCapital
	}
	if err := sig.Validate(); err != nil {
		return Position{}, err
	}
	if _, ok := m.positions[sig.ID]; ok {
		return Position{}, ErrDuplicatePosition
	}
	if m.balance < capital {
		return Position{}, ErrInsufficientBalance
	}

	pos := &Position{
		ID:             sig.ID,
		Signal:         sig,
		Capital:        capital,
		OpenedAt:       m.sched.Now(),
		Timeframe:      timeframe,
		SimulatedPrice: sig.EntryPrice,
		CloseAfter:     m.holdLocked(),
	}
	m.balance -= capital
	m.positions[pos.ID] = pos
	if m.running {
		m.armLocked(pos)
	}
	return *pos, nil
}

func (m *Manager) closeLocked(id string, req closeRequest) (HistoryRecord, bool) {
	pos, ok := m.positions[id]
	if !ok {
		return HistoryRecord{}, false
	}

	outcome := m.decideLocked(pos, req)
	up, down := m.bounds(pos)
	profit := up
	if outcome == StopLoss {
		profit = -down
	}

	closedAt := m.sched.Now()
	if closedAt.Before(pos.OpenedAt) {
		closedAt = pos.OpenedAt
	}
	exit := priceAt(pos, profit)

	rec := HistoryRecord{
		ID:              pos.ID,
		Pair:            pos.Signal.Pair,
		Direction:       pos.Signal.Direction,
		EntryPrice:      pos.Signal.EntryPrice,
		ExitPrice:       exit,
		Capital:         pos.Capital,
		RealizedProfit:  profit,
		RealizedPercent: profit / pos.Capital * 100,
		Timeframe:       pos.Timeframe,
		OpenedAt:        pos.OpenedAt,
		ClosedAt:        closedAt,
		Reason:          pickReason(m.rng, outcome, *pos, exit, closedAt),
		Outcome:         outcome,
	}

	m.history = append([]HistoryRecord{rec}, m.history...)
	delete(m.positions, id)
	m.cancelTimerLocked(id)
	m.balance += pos.Capital + profit

	m.journalLocked(rec)
	m.requestSignalLocked(rec)
	return rec, true
}

func (m *Manager) decideLocked(pos *Position, req closeRequest) Outcome {
	if req.outcome != nil && (*req.outcome == TakeProfit || *req.outcome == StopLoss) {
		return *req.outcome
	}
	if req.exitPrice != nil && *req.exitPrice > 0 {
		pnl := unrealizedAt(pos, *req.exitPrice)
		up, down := m.bounds(pos)
		switch {
		case pnl >= up:
			return TakeProfit
		case pnl <= -down:
			return StopLoss
		}
	}
	if m.rng.Float64() < m.cfg.WinRate {
		return TakeProfit
	}
	return StopLoss
}

// bounds are the P&L thresholds of pos. A position can never win or lose
// more than its capital.
func (m *Manager) bounds(pos *Position) (up, down float64) {
	return math.Min(m.cfg.TakeProfitAmount, pos.Capital), math.Min(m.cfg.StopLossAmount, pos.Capital)
}

func (m *Manager) holdLocked() time.Duration {
	span := m.cfg.MaxHold - m.cfg.MinHold
	if span <= 0 {
		return m.cfg.MinHold
	}
	return m.cfg.MinHold + time.Duration(m.rng.Int63n(int64(span)+1))
}

func (m *Manager) armLocked(pos *Position) {
	if _, ok := m.timers[pos.ID]; ok {
		return
	}
	delay := pos.Deadline().Sub(m.sched.Now())
	if delay <= 0 {
		delay = m.cfg.RestoreCloseDelay
	}

	m.timerGen++
	gen := m.timerGen
	id := pos.ID
	task := m.sched.After(delay, func() { m.expire(id, gen) })
	m.timers[id] = timerEntry{task: task, gen: gen}
}

func (m *Manager) cancelTimerLocked(id string) {
	if e, ok := m.timers[id]; ok {
		e.task.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) cancelTimersLocked() {
	for id := range m.timers {
		m.cancelTimerLocked(id)
	}
}

func (m *Manager) cancelRequestsLocked() {
	for seq, t := range m.requests {
		t.Stop()
		delete(m.requests, seq)
	}
}

// expire is the guaranteed-closure timer callback.
func (m *Manager) expire(id string, gen uint64) {
	defer m.recoverTask("close timer")

	var (
		rec HistoryRecord
		ok  bool
	)
	m.update(func() change {
		e, armed := m.timers[id]
		if !armed || e.gen != gen {
			return 0
		}
		delete(m.timers, id)
		rec, ok = m.closeLocked(id, closeRequest{})
		if !ok {
			return 0
		}
		return changedAll
	})
	if ok {
		m.logClosed(rec)
	}
}

func (m *Manager) requestSignalLocked(rec HistoryRecord) {
	if !m.running {
		return
	}
	m.reqSeq++
	seq := m.reqSeq
	req := SignalRequest{AfterTradeID: rec.ID, Outcome: rec.Outcome, At: rec.ClosedAt}
	m.requests[seq] = m.sched.After(m.cfg.NextSignalDelay, func() { m.fireSignalRequest(seq, req) })
}

func (m *Manager) fireSignalRequest(seq uint64, req SignalRequest) {
	defer m.recoverTask("signal request")

	func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.requests[seq]; !ok {
			return
		}
		delete(m.requests, seq)
		m.outbox = append(m.outbox, notice{kind: changedSignal, request: req})
	}()
	m.drain()
}

func (m *Manager) journalLocked(rec HistoryRecord) {
	if m.journal == nil {
		return
	}
	err := m.journal.RecordTrade(journal.TradeRecord{
		TradeID:    rec.ID,
		Pair:       rec.Pair,
		Direction:  string(rec.Direction),
		Capital:    rec.Capital,
		EntryPrice: rec.EntryPrice,
		ExitPrice:  rec.ExitPrice,
		OpenTime:   rec.OpenedAt,
		CloseTime:  rec.ClosedAt,
		RealizedPL: rec.RealizedProfit,
		Outcome:    string(rec.Outcome),
		Reason:     rec.Reason,
	})
	if err != nil {
		m.log.Error("journal trade", zap.String("id", rec.ID), zap.Error(err))
	}

	committed, unrealized := m.exposureLocked()
	err = m.journal.RecordEquity(journal.EquitySnapshot{
		Time:          rec.ClosedAt,
		Balance:       m.balance,
		Committed:     committed,
		Unrealized:    unrealized,
		Equity:        m.balance + committed + unrealized,
		OpenPositions: len(m.positions),
	})
	if err != nil {
		m.log.Error("journal equity", zap.Error(err))
	}
}

// update runs fn under the state lock. When fn reports a change the state
// is persisted and a notice is queued; queued notices are delivered after
// the lock is released.
func (m *Manager) update(fn func() change) {
	func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		c := fn()
		if c == 0 {
			return
		}
		m.saveLocked()
		m.outbox = append(m.outbox, m.noticeLocked(c))
	}()
	m.drain()
}

// drain delivers queued notices in order. Only one goroutine delivers at a
// time; a nested or concurrent caller leaves its notice to the active one.
func (m *Manager) drain() {
	for m.emitMu.TryLock() {
		m.deliverQueued()
		m.mu.Lock()
		empty := len(m.outbox) == 0
		m.mu.Unlock()
		if empty {
			return
		}
	}
}

func (m *Manager) deliverQueued() {
	defer m.emitMu.Unlock()
	for {
		m.mu.Lock()
		if len(m.outbox) == 0 {
			m.mu.Unlock()
			return
		}
		n := m.outbox[0]
		m.outbox = m.outbox[1:]
		m.mu.Unlock()

		m.deliver(n)
	}
}

func (m *Manager) deliver(n notice) {
	defer m.recoverTask("subscriber")
	if n.kind&changedPositions != 0 {
		m.positionsTopic.Publish(n.positions)
	}
	if n.kind&changedHistory != 0 {
		m.historyTopic.Publish(n.history)
	}
	if n.kind&changedBalance != 0 {
		m.balanceTopic.Publish(n.balance)
	}
	if n.kind&changedSignal != 0 {
		m.signalReqsTopic.Publish(n.request)
	}
}

func (m *Manager) noticeLocked(c change) notice {
	n := notice{kind: c}
	if c&changedBalance != 0 {
		n.balance = m.balance
	}
	if c&changedPositions != 0 {
		n.positions = m.positionsLocked()
	}
	if c&changedHistory != 0 {
		n.history = m.historyLocked()
	}
	return n
}

func (m *Manager) saveLocked() {
	err := saveState(context.Background(), m.store, state{
		Balance:   m.balance,
		Positions: m.positionsLocked(),
		History:   m.history,
	})
	if err != nil {
		m.log.Error("persist state", zap.Error(err))
	}
}

func (m *Manager) positionsLocked() []Position {
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sortPositions(out)
	return out
}

func (m *Manager) historyLocked() []HistoryRecord {
	out := make([]HistoryRecord, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Manager) sortedIDsLocked() []string {
	ids := make([]string, 0, len(m.positions))
	for id := range m.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) exposureLocked() (committed, unrealized float64) {
	for _, p := range m.positions {
		committed += p.Capital
		unrealized += p.UnrealizedAmount
	}
	return committed, unrealized
}

func (m *Manager) logClosed(rec HistoryRecord) {
	m.log.Info("position closed",
		zap.String("id", rec.ID),
		zap.String("pair", rec.Pair),
		zap.String("outcome", string(rec.Outcome)),
		zap.Float64("profit", rec.RealizedProfit),
		zap.Float64("exit", rec.ExitPrice),
		zap.Duration("held", rec.Held()))
}

func (m *Manager) recoverTask(name string) {
	if r := recover(); r != nil {
		m.log.Error("callback panicked", zap.String("task", name), zap.Any("panic", r))
	}
}
