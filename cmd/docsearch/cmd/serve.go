package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/knoguchi/docsearch/internal/server"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(g *globalOptions) *cobra.Command {
	var origins []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP search API and gRPC health checks",
		Long: `Serve the JSON API on HTTP_PORT and gRPC health and reflection on
GRPC_PORT. Index and refresh endpoints are available in owner mode only.
Set JWT_SECRET to require bearer tokens on /v1; see 'docsearch token'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(g)
			if err != nil {
				return err
			}
			level := g.logLevel
			if level == "" {
				level = e.cfg.LogLevel
			}
			if err := setupLogging(cmd.ErrOrStderr(), level, true); err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), e, false)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServe(cmd.Context(), a, origins)
		},
	}
	cmd.Flags().StringSliceVar(&origins, "allowed-origins", nil, "CORS allowed origins (default all)")
	return cmd
}

func runServe(ctx context.Context, a *app, origins []string) error {
	logger := slog.Default()
	jwt := a.jwtManager()

	logger.Info("starting docsearch service",
		"grpc_port", a.cfg.GRPCPort,
		"http_port", a.cfg.HTTPPort,
		"environment", a.cfg.Environment,
		"mode", a.state.Mode,
		"auth", jwt != nil,
	)

	httpCfg := server.HTTPServerConfig{
		Port:           a.cfg.HTTPPort,
		Logger:         logger,
		AllowedOrigins: origins,
		Search:         a.search,
		Status:         a.index,
		Auth:           jwt,
	}
	if a.state.IsOwner() {
		if err := a.index.EnsureIndexes(ctx); err != nil {
			return err
		}
		httpCfg.Indexer = a.index
	}

	grpcServer, err := server.NewGRPCServer(server.GRPCServerConfig{
		Port:   a.cfg.GRPCPort,
		Logger: logger,
		Auth:   jwt,
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}
	httpServer, err := server.NewHTTPServer(httpCfg)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := grpcServer.Start(); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown gRPC server", "error", err)
	}

	logger.Info("servers stopped")
	return nil
}
