package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rustyeddy/signaltrader/signal"
	"github.com/rustyeddy/signaltrader/trading"
)

type balanceView struct {
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
	Currency string  `json:"currency"`
}

func (s *Server) balanceView(balance float64) balanceView {
	return balanceView{Balance: balance, Equity: s.mgr.Equity(), Currency: s.opts.Currency}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"clients":       s.hub.ClientCount(),
		"openPositions": len(s.mgr.OpenPositions()),
	})
}

func (s *Server) balance(c *gin.Context) {
	c.JSON(http.StatusOK, s.balanceView(s.mgr.Balance()))
}

func (s *Server) positions(c *gin.Context) {
	c.JSON(http.StatusOK, s.mgr.OpenPositions())
}

func (s *Server) history(c *gin.Context) {
	c.JSON(http.StatusOK, s.mgr.History())
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.mgr.Stats())
}

type openRequest struct {
	Signal    signal.Signal `json:"signal"`
	Capital   *float64      `json:"capital"`
	Timeframe string        `json:"timeframe"`
}

func (s *Server) openPosition(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	capital := s.opts.Poller.Capital
	if req.Capital != nil {
		capital = *req.Capital
	}
	if req.Timeframe == "" {
		req.Timeframe = s.opts.Poller.Timeframe
	}

	pos, err := s.mgr.Open(req.Signal, capital, req.Timeframe)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, pos)
	case errors.Is(err, trading.ErrDuplicatePosition), errors.Is(err, trading.ErrInsufficientBalance):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, trading.ErrInvalidCapital), errors.Is(err, signal.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.Error("open position", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) closePosition(c *gin.Context) {
	var opts []trading.CloseOption
	if q := c.Query("outcome"); q != "" {
		o, err := trading.ParseOutcome(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		opts = append(opts, trading.WithOutcome(o))
	}
	if q := c.Query("exit_price"); q != "" {
		p, err := strconv.ParseFloat(q, 64)
		if err != nil || !(p > 0) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "exit_price must be a positive number"})
			return
		}
		opts = append(opts, trading.WithExitPrice(p))
	}

	rec, ok := s.mgr.Close(c.Param("id"), opts...)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "position not open"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) reset(c *gin.Context) {
	s.mgr.Reset()
	c.JSON(http.StatusOK, s.balanceView(s.mgr.Balance()))
}

func (s *Server) nextSignal(c *gin.Context) {
	sig, err := s.poller.Poll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if sig == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, sig)
}

func (s *Server) latestSignal(c *gin.Context) {
	sig, ok := s.poller.Latest()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, sig)
}

func (s *Server) serveWS(c *gin.Context) {
	ctx := s.runContext()
	if ctx == nil || ctx.Err() != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server not running"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, s.hub, s.log.Named("ws"))
	select {
	case s.hub.register <- client:
		client.start(ctx)
	case <-ctx.Done():
		conn.Close()
	}
}
