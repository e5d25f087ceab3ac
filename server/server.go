// Package server exposes the trading manager over HTTP and pushes its
// events to websocket clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rustyeddy/signaltrader/logger"
	"github.com/rustyeddy/signaltrader/signal"
	"github.com/rustyeddy/signaltrader/trading"
)

// Options configure a Server. Manager and Generator are required.
type Options struct {
	Manager   *trading.Manager
	Generator signal.Generator
	Logger    *zap.Logger

	Currency string
	Poller   PollerConfig

	// RateLimit is requests per second per client IP; zero disables it.
	RateLimit float64
	Burst     int
}

type Server struct {
	opts   Options
	mgr    *trading.Manager
	hub    *Hub
	poller *Poller
	router *gin.Engine
	log    *zap.Logger

	mu  sync.Mutex
	ctx context.Context
}

func New(opts Options) *Server {
	log := logger.OrNop(opts.Logger).Named("server")
	if opts.Poller.Schedule == "" {
		opts.Poller.Schedule = "@every 5m"
	}
	if opts.Currency == "" {
		opts.Currency = "IDR"
	}

	s := &Server{
		opts: opts,
		mgr:  opts.Manager,
		hub:  NewHub(log.Named("ws")),
		log:  log,
	}
	s.poller = NewPoller(opts.Poller, opts.Generator, opts.Manager, s.hub, log.Named("poller"))
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(s.log), CORS())
	if s.opts.RateLimit > 0 {
		r.Use(RateLimit(s.opts.RateLimit, s.opts.Burst))
	}

	r.GET("/health", s.health)
	r.GET("/ws", s.serveWS)

	api := r.Group("/api/v1")
	{
		api.GET("/balance", s.balance)
		api.GET("/positions", s.positions)
		api.POST("/positions", s.openPosition)
		api.DELETE("/positions/:id", s.closePosition)
		api.GET("/history", s.history)
		api.GET("/stats", s.stats)
		api.POST("/reset", s.reset)
		api.GET("/signals/next", s.nextSignal)
		api.GET("/signals/latest", s.latestSignal)
	}
	return r
}

func (s *Server) Handler() http.Handler { return s.router }
func (s *Server) Hub() *Hub             { return s.hub }
func (s *Server) Poller() *Poller       { return s.poller }

// Start runs the websocket hub and the signal poller and forwards manager
// events to websocket clients until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.ctx = ctx
	s.mu.Unlock()

	go s.hub.Run(ctx)

	unsubs := []func(){
		s.mgr.OnBalanceChange(func(b float64) {
			s.hub.Broadcast(MsgBalance, s.balanceView(b))
		}),
		s.mgr.OnPositionsChange(func(p []trading.Position) {
			s.hub.Broadcast(MsgPositions, p)
		}),
		s.mgr.OnHistoryChange(func(h []trading.HistoryRecord) {
			s.hub.Broadcast(MsgHistory, h)
		}),
		s.mgr.OnSignalRequest(func(req trading.SignalRequest) {
			s.hub.Broadcast(MsgSignalRequest, req)
		}),
	}
	go func() {
		<-ctx.Done()
		for _, u := range unsubs {
			u()
		}
	}()

	return s.poller.Start(ctx)
}

// Run starts the server and listens on addr until ctx is done, then shuts
// the listener down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}
