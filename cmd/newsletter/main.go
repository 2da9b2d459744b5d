package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Startup-Consulting-Inc/newsletter/internal/app"
	"github.com/Startup-Consulting-Inc/newsletter/internal/config"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "newsletter",
	Short: "Newsletter - delivery and tracking service",
	Long:  `Newsletter sends HTML newsletters to recipient groups through an outbound relay and tracks opens, clicks and unsubscribes.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the newsletter service",
	Long:  `Start the HTTP API, tracking endpoints and the scheduled-send loop.`,
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("newsletter version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  API:       %s (%d keys)\n", cfg.API.ListenAddr, len(cfg.API.Keys))
	fmt.Printf("  Tracking:  %s\n", cfg.Tracking.BaseURL)
	fmt.Printf("  Relay:     %s (from %s)\n", cfg.Relay.Provider, cfg.Relay.From)
	fmt.Printf("  DKIM:      %v\n", cfg.Relay.DKIM.Enabled)
	fmt.Printf("  Dispatch:  batch %d, concurrency %d, delay %s\n", cfg.Dispatch.BatchSize, cfg.Dispatch.Concurrency, cfg.Dispatch.BatchDelay)
	fmt.Printf("  Scheduler: %v (every %s)\n", cfg.SchedulerEnabled(), cfg.Scheduler.Interval)
	fmt.Printf("  Storage:   %s\n", cfg.Storage.Path)
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics:   %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}

	return nil
}
