package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nollettan-menu/api"
	"nollettan-menu/bot"
	"nollettan-menu/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, change reconciler, keep-alive and Telegram bot",
	Long: `Serve loads the menu (bootstrapping it from the built-in defaults when the
store is empty), keeps it in sync with remote changes, and serves it over HTTP.
The Telegram bot starts when TOKEN is set.

Examples:
  nollettan serve
  MENU_STORE=memory nollettan serve --addr :8080`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default HTTP_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	metrics := services.NewMetrics()
	// The bot is created after the engine it reads from, so notices reach it
	// through this indirection.
	var tgBot *bot.Bot
	notifier := services.MultiNotifier{
		services.LogNotifier{Log: log},
		services.NotifierFunc(func(ctx context.Context, n services.Notice) {
			if tgBot != nil {
				tgBot.Notify(ctx, n)
			}
		}),
	}
	engine := newEngine(cfg, b, metrics, notifier, log)

	if cfg.Telegram.Token != "" {
		tgBot, err = bot.New(cfg, engine, log)
		if err != nil {
			return err
		}
	}

	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Close()

	apiCfg := api.DefaultConfig()
	apiCfg.Addr = cfg.HTTP.Addr
	apiCfg.Location = cfg.Location
	server := api.NewServer(apiCfg, api.Deps{
		Engine:   engine,
		Accounts: b.accounts,
		Metrics:  metrics,
		Pinger:   b.pinger,
		Logger:   log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.KeepAlive > 0 {
		g.Go(func() error {
			services.RunKeepAlive(gctx, b.pinger, cfg.KeepAlive, log)
			return nil
		})
	}
	if tgBot != nil {
		g.Go(func() error {
			tgBot.Start(gctx)
			return nil
		})
	}
	return g.Wait()
}
