package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rustyeddy/signaltrader/signal"
	"github.com/rustyeddy/signaltrader/trading"
)

// Broadcaster publishes typed messages to connected clients.
type Broadcaster interface {
	Broadcast(t MessageType, data any)
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	// Schedule is a robfig/cron schedule such as "@every 5m".
	Schedule  string
	AutoTrade bool
	Capital   float64
	Timeframe string
}

// Poller asks the generator for a signal on a schedule and whenever the
// manager requests one after a trade settles.
type Poller struct {
	cfg  PollerConfig
	gen  signal.Generator
	mgr  *trading.Manager
	out  Broadcaster
	log  *zap.Logger
	poll sync.Mutex

	mu     sync.RWMutex
	latest *signal.Signal
}

func NewPoller(cfg PollerConfig, gen signal.Generator, mgr *trading.Manager, out Broadcaster, log *zap.Logger) *Poller {
	return &Poller{cfg: cfg, gen: gen, mgr: mgr, out: out, log: log}
}

// Start schedules polling and subscribes to signal requests. Both stop when
// ctx is done.
func (p *Poller) Start(ctx context.Context) error {
	cl := cronLogger{p.log.Sugar()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(p.cfg.Schedule, func() { p.pollLogged(ctx, "schedule") }); err != nil {
		return fmt.Errorf("invalid signal schedule %q: %w", p.cfg.Schedule, err)
	}

	unsubscribe := p.mgr.OnSignalRequest(func(req trading.SignalRequest) {
		if ctx.Err() != nil {
			return
		}
		p.log.Debug("signal requested",
			zap.String("after_trade", req.AfterTradeID),
			zap.String("outcome", string(req.Outcome)))
		go p.pollLogged(ctx, "signal_request")
	})

	c.Start()
	p.log.Info("signal poller started", zap.String("schedule", p.cfg.Schedule), zap.Bool("auto_trade", p.cfg.AutoTrade))

	go func() {
		<-ctx.Done()
		unsubscribe()
		<-c.Stop().Done()
		p.log.Info("signal poller stopped")
	}()
	return nil
}

func (p *Poller) pollLogged(ctx context.Context, trigger string) {
	if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
		p.log.Warn("signal poll failed", zap.String("trigger", trigger), zap.Error(err))
	}
}

// Poll generates one signal. A nil signal with a nil error means nothing
// qualified. Concurrent calls are serialized.
func (p *Poller) Poll(ctx context.Context) (*signal.Signal, error) {
	p.poll.Lock()
	defer p.poll.Unlock()

	sig, err := p.gen.Generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate signal: %w", err)
	}
	if sig == nil {
		p.log.Debug("no qualifying signal")
		return nil, nil
	}
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("generated signal %s: %w", sig.ID, err)
	}

	p.mu.Lock()
	s := *sig
	p.latest = &s
	p.mu.Unlock()

	p.log.Info("signal generated",
		zap.String("id", sig.ID),
		zap.String("pair", sig.Pair),
		zap.String("direction", string(sig.Direction)),
		zap.Float64("entry", sig.EntryPrice))
	p.out.Broadcast(MsgSignal, sig)

	if p.cfg.AutoTrade {
		// rejections are logged by the manager
		p.mgr.OpenPosition(*sig, p.cfg.Capital, p.cfg.Timeframe)
	}
	return sig, nil
}

// Latest returns the most recent signal, if any.
func (p *Poller) Latest() (signal.Signal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return signal.Signal{}, false
	}
	return *p.latest, true
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
