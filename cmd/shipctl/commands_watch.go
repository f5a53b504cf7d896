package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"shipflow/api/internal/events"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var shipmentID string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream workflow events from the Redis feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.RedisURL) == "" {
				return errors.New("REDIS_URL is not configured")
			}
			feed, err := events.NewRedisFeed(cfg.RedisURL)
			if err != nil {
				return err
			}
			defer feed.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watchFeed(runCtx, cmd, ctx, feed, shipmentID)
		},
	}
	cmd.Flags().StringVar(&shipmentID, "shipment", "", "Only show events for this shipment")
	return cmd
}

type subscriber interface {
	Subscribe(ctx context.Context) (<-chan events.Message, error)
}

func watchFeed(runCtx context.Context, cmd *cobra.Command, ctx *commandContext, feed subscriber, shipmentID string) error {
	messages, err := feed.Subscribe(runCtx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for msg := range messages {
		if shipmentID != "" && msg.ShipmentID != shipmentID {
			continue
		}
		if ctx.flags.json {
			if err := writeJSON(cmd, msg); err != nil {
				return err
			}
			continue
		}
		line := fmt.Sprintf("%s %-20s %s stage=%d actor=%s", msg.At.Format("15:04:05"), msg.Type, msg.ShipmentID, msg.Stage, msg.Actor)
		if msg.Document != "" {
			line += " document=" + msg.Document
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
