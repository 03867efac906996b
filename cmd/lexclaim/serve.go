package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local companion UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.build(cmd, false)
			if err != nil {
				return err
			}
			defer closeApp(res)

			cfg := res.Config
			logger := res.Logger
			httpServer := &http.Server{
				Addr:    cfg.BindAddr,
				Handler: res.API.Router(),
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server listening", "addr", cfg.BindAddr, "api", cfg.APIBaseURL)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
				logger.Info("shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown failed", "error", err)
				_ = httpServer.Close()
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
}
