package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"crm-backend/internal/config"
	"crm-backend/internal/logging"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "crm",
	Short: "CRM backend: HTTP API, realtime hub and automation worker",
	Long: `crm serves the workspace CRM API (conversations, leads, jobs, time tracking)
on top of a shared query cache kept fresh by realtime change events.

Available commands:
  serve   - Run the HTTP API and websocket hub
  worker  - Run the automation worker and the change event relay
  migrate - Apply the database schema`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_FILE"), "YAML config file (env vars override it)")
	rootCmd.AddCommand(serveCmd, workerCmd, migrateCmd)
}

// bootstrap loads .env and the configuration and builds the process logger.
func bootstrap() (*config.Config, *logrus.Logger, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "Could not load .env:", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
