package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/jdelaire/tgate/core/auth"
	"github.com/jdelaire/tgate/core/gateway"
)

const shutdownTimeout = 15 * time.Second

var serveOpts struct {
	addr        string
	registerURL bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long: `Listen for Telegram webhook deliveries on server.addr.

Every delivery is acknowledged with HTTP 200. With --register-webhook the
webhook is (re)registered at server.public_url on startup.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	addServeFlags(serveCmd.Flags())
}

func addServeFlags(fs *pflag.FlagSet) {
	fs.StringVar(&serveOpts.addr, "addr", "", "listen address (overrides server.addr and PORT)")
	fs.BoolVar(&serveOpts.registerURL, "register-webhook", false, "call setWebhook with server.public_url on startup")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := errors.Join(cfg.RequireBotToken(), cfg.RequireWebhookSecret()); err != nil {
		return err
	}
	if serveOpts.addr != "" {
		cfg.Server.Addr = serveOpts.addr
	}
	if serveOpts.registerURL && cfg.Server.PublicURL == "" {
		return errors.New("--register-webhook needs server.public_url (or PUBLIC_URL)")
	}

	secret, err := auth.NewSecretToken(cfg.Telegram.WebhookSecret)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := gateway.NewServer(gateway.ServerOptions{
		Addr:        cfg.Server.Addr,
		WebhookPath: cfg.Server.WebhookPath,
		Service:     serviceName,
		Version:     version,
	}, a.gateway, secret, logger)
	if err := srv.Start(); err != nil {
		return err
	}
	logger.Info("gateway started", "version", version, "store", cfg.Store.Backend)

	g, ctx := errgroup.WithContext(ctx)
	if serveOpts.registerURL {
		g.Go(func() error {
			url := cfg.WebhookURL()
			if err := a.telegram.SetWebhook(ctx, url, cfg.Telegram.WebhookSecret, false); err != nil {
				return fmt.Errorf("register webhook: %w", err)
			}
			logger.Info("webhook registered", "url", url)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
