package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jdelaire/tgate/adapters/telegram"
	"github.com/jdelaire/tgate/adapters/telegram_receiver"
	"github.com/jdelaire/tgate/core"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Fetch updates with getUpdates instead of a webhook",
	Long: `Long-poll Telegram for updates and feed them through the same pipeline
as the webhook. For local development where Telegram cannot reach this
machine. Any registered webhook is deleted first, since Telegram refuses
getUpdates while one is set.`,
	Args: cobra.NoArgs,
	RunE: runPoll,
}

func runPoll(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireBotToken(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.telegram.DeleteWebhook(ctx, false); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	var recv core.Receiver = telegram_receiver.New(cfg.Telegram.BotToken, func(ctx context.Context, update []byte) {
		a.gateway.Receive(ctx, uuid.NewString(), update)
	}, logger).
		WithBaseURL(cfg.Telegram.APIBaseURL).
		WithAllowedUpdates(telegram.AllowedUpdates)

	logger.Info("polling for updates", "version", version)
	return recv.Start(ctx)
}
