package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Startup-Consulting-Inc/newsletter/internal/app"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Outbound relay commands",
}

var relayVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the configured relay is reachable and accepts our credentials",
	RunE:  runRelayVerify,
}

func init() {
	relayCmd.AddCommand(relayVerifyCmd)
	rootCmd.AddCommand(relayCmd)
}

func runRelayVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := app.NewRelay(cfg, store, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Printf("Relay: %s\n", r.Name())
	if err := r.Validate(); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	fmt.Println("Configuration: OK")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Relay.Timeout)
	defer cancel()
	if err := r.Verify(ctx); err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	fmt.Println("Connection: OK")
	return nil
}
