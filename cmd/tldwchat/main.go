// Command tldwchat chats with a tldw server from the terminal or serves the
// chat session over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Desarso/tldwchat"
)

var (
	// Global flags
	verbose    bool
	configPath string
	serverURL  string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tldwchat",
	Short: "Chat with a tldw server",
	Long: `tldwchat streams answers from models served by tldw.

Answers can be grounded in a knowledge base (--rag), a web search (--web)
or local files (--file). Conversations are stored and can be listed with
"tldwchat history list".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "tldwchat.toml", "path to the TOML config file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "tldw server URL (overrides config)")

	rootCmd.AddCommand(serveCmd, chatCmd, healthCmd, modelsCmd, historyCmd)
}

// loadApp reads the configuration and assembles the application.
func loadApp(ctx context.Context) (*tldwchat.App, error) {
	cfg, err := tldwchat.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.WithServerURL(serverURL)
	}
	return tldwchat.NewApp(ctx, cfg, logger)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
