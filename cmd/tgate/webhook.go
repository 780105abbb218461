package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const apiTimeout = 15 * time.Second

var webhookOpts struct {
	url         string
	dropPending bool
}

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage the Telegram webhook registration",
}

var webhookSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Register the webhook URL and secret with Telegram",
	Args:  cobra.NoArgs,
	RunE:  runWebhookSet,
}

var webhookDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the webhook registration",
	Args:  cobra.NoArgs,
	RunE:  runWebhookDelete,
}

var webhookInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the current webhook registration",
	Args:  cobra.NoArgs,
	RunE:  runWebhookInfo,
}

func init() {
	webhookSetCmd.Flags().StringVar(&webhookOpts.url, "url", "", "public webhook URL (default: server.public_url + server.webhook_path)")
	webhookSetCmd.Flags().BoolVar(&webhookOpts.dropPending, "drop-pending", false, "discard updates queued while no webhook was set")
	webhookDeleteCmd.Flags().BoolVar(&webhookOpts.dropPending, "drop-pending", false, "discard queued updates")

	webhookCmd.AddCommand(webhookSetCmd, webhookDeleteCmd, webhookInfoCmd)
}

func runWebhookSet(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if err := errors.Join(cfg.RequireBotToken(), cfg.RequireWebhookSecret()); err != nil {
		return err
	}

	url := webhookOpts.url
	if url == "" {
		if cfg.Server.PublicURL == "" {
			return errors.New("no webhook URL: pass --url or set server.public_url")
		}
		url = cfg.WebhookURL()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), apiTimeout)
	defer cancel()
	if err := newTelegram(cfg).SetWebhook(ctx, url, cfg.Telegram.WebhookSecret, webhookOpts.dropPending); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Webhook set to %s\n", url)
	return nil
}

func runWebhookDelete(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireBotToken(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), apiTimeout)
	defer cancel()
	if err := newTelegram(cfg).DeleteWebhook(ctx, webhookOpts.dropPending); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Webhook deleted")
	return nil
}

func runWebhookInfo(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireBotToken(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), apiTimeout)
	defer cancel()
	info, err := newTelegram(cfg).GetWebhookInfo(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if info.URL == "" {
		fmt.Fprintln(out, "No webhook set")
	} else {
		fmt.Fprintf(out, "URL:     %s\n", info.URL)
	}
	fmt.Fprintf(out, "Pending: %d\n", info.PendingUpdateCount)
	if info.LastErrorMessage != "" {
		fmt.Fprintf(out, "Last error: %s (%s)\n", info.LastErrorMessage,
			time.Unix(info.LastErrorDate, 0).UTC().Format(time.RFC3339))
	}
	return nil
}
