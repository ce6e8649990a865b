/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/oralvis/apiserver/config"
	"github.com/oralvis/apiserver/internal/mq"
	"github.com/oralvis/apiserver/types"
	"github.com/spf13/cobra"
)

// eventsCmd tails scan lifecycle events from the configured broker.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Subscribe to scan events and log them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := newLogger(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		broker, err := mq.NewFromConfig(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		defer broker.Close()

		logger.Info(ctx, "listening for scan events", "backend", cfg.MQ.Backend, "channel", cfg.MQ.Channel)
		err = broker.Subscribe(ctx, cfg.MQ.Channel, func(ctx context.Context, msg mq.Message) error {
			var event types.ScanEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				logger.Warn(ctx, "dropping malformed event", "message_id", msg.ID, "error", err)
				return nil
			}
			logger.Info(ctx, "scan event",
				"message_id", msg.ID,
				"type", event.Type,
				"scan_id", event.ScanID,
				"uploaded_by", event.UploadedBy,
				"at", event.At,
			)
			return nil
		})
		if errors.Is(err, mq.ErrNoBroker) {
			return fmt.Errorf("set MQ_BACKEND to rabbitmq or pubsub: %w", err)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}
