package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/signaltrader/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	Long: `Start the trade manager and expose it over HTTP.

The server restores the persisted account, polls the configured signal
source on its schedule and after every settled trade, and pushes balance,
position, history and signal updates to websocket clients on /ws.

Examples:
  signaltrader serve
  signaltrader serve --config signaltrader.yaml --addr :9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveAddr      string
	serveAutoTrade bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveAutoTrade, "auto-trade", false, "open every generated signal (overrides signals.auto_trade)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if cmd.Flags().Changed("auto-trade") {
		cfg.Signals.AutoTrade = serveAutoTrade
	}
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := openApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	gen, err := newGenerator(cfg, a.log)
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Manager:   a.mgr,
		Generator: gen,
		Logger:    a.log,
		Currency:  cfg.Account.Currency,
		Poller: server.PollerConfig{
			Schedule:  cfg.Signals.Schedule,
			AutoTrade: cfg.Signals.AutoTrade,
			Capital:   cfg.Trading.DefaultCapital,
			Timeframe: cfg.Trading.Timeframe,
		},
		RateLimit: 20,
		Burst:     50,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.mgr.Start()
	a.log.Info("signaltrader serving",
		zap.String("addr", cfg.Server.Addr),
		zap.String("store", cfg.Store.Type),
		zap.String("signals", cfg.Signals.Source),
		zap.Float64("balance", a.mgr.Balance()))

	if err := srv.Run(ctx, cfg.Server.Addr); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
