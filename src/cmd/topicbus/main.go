// Package main provides the topicbus CLI: provision topics, publish JSON,
// subscribe with a consumer group, watch the latest value per topic in a TUI
// and serve the cache over MCP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"topicbus/src/config"
)

var (
	// Application configuration, loaded before any subcommand runs
	appConfig *config.Config
	// Use the in-process broker instead of Kafka
	useLocal bool
	// Overrides LOG_LEVEL when set
	logLevelFlag string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "topicbus",
	Short: "topicbus - JSON pub/sub over Kafka with a last-value cache",
	Long: `topicbus publishes JSON documents to Kafka topics and consumes them
through consumer groups, keeping the latest value of every topic in memory.

Broker addresses come from BROKER_HOSTS (comma separated) or BROKER_HOST.
A .env file in the working directory is loaded first if present.
Use --local to run against an in-process broker instead.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is normal; the environment alone is enough.
		_ = godotenv.Load()

		cfg, err := config.LoadFromEnv()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		if logLevelFlag != "" {
			cfg.LogLevel = logLevelFlag
		}
		appConfig = cfg
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&useLocal, "local", false, "use an in-process broker instead of Kafka")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn or error (default from LOG_LEVEL)")

	rootCmd.AddCommand(provisionCmd, publishCmd, subscribeCmd, watchCmd, mcpCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
