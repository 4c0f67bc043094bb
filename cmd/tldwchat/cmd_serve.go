package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat session over HTTP, SSE and WebSocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.StartJobs(ctx); err != nil {
			return err
		}
		addr := app.Config.ListenAddr
		if listenAddr != "" {
			addr = listenAddr
		}
		logger.Info("starting server", zap.String("tldw", app.Client.BaseURL()), zap.String("addr", addr))
		return app.Server().ListenAndServe(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address (overrides config)")
}
