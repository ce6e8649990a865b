/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/oralvis/apiserver/config"
	"github.com/oralvis/apiserver/internal/auth"
	"github.com/oralvis/apiserver/internal/db"
	"github.com/oralvis/apiserver/internal/server"
	"github.com/oralvis/apiserver/internal/services"
	"github.com/oralvis/apiserver/internal/store"
	"github.com/spf13/cobra"
)

// seedCmd creates the fixed technician and dentist accounts.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the default technician and dentist accounts if absent",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := newLogger(cfg)

		tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
		if err != nil {
			return fmt.Errorf("JWT_SECRET: %w", err)
		}

		conn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		users := services.NewUserService(store.NewUserRepository(conn), tokens)
		created, err := users.Seed(cmd.Context(), server.SeedAccounts(cfg.Seed))
		if err != nil {
			return err
		}
		logger.Info(cmd.Context(), "seed complete", "created", created)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
