package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	grpcapi "github.com/clintrovert/wfsync/internal/api/grpc"
	"github.com/clintrovert/wfsync/internal/api/rest"
)

const (
	healthRefreshInterval = 5 * time.Second
	shutdownTimeout       = 10 * time.Second
)

func runCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(ctx, c, a)
		},
	}
}

func onceCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single sync cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.orchestrator.RunOnce(ctx)
		},
	}
}

// serve runs the orchestrator with its status servers and shuts everything
// down once ctx is cancelled or the loop fails.
func serve(ctx context.Context, c *cli, a *app) error {
	logger := c.logger
	api := c.cfg.API

	var restServer *http.Server
	if api.RESTAddr != "" {
		restServer = &http.Server{
			Addr:              api.RESTAddr,
			Handler:           newRouter(rest.NewHandler(a.orchestrator, a.store, logger.Named("rest"))),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			logger.Info("starting REST API server", zap.String("address", api.RESTAddr))
			if err := restServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("REST server failed", zap.Error(err))
			}
		}()
	}

	var grpcSrv *grpc.Server
	if api.GRPCAddr != "" {
		lis, err := net.Listen("tcp", api.GRPCAddr)
		if err != nil {
			return err
		}

		health := grpcapi.NewServer(a.orchestrator, logger.Named("grpc"))
		grpcSrv = grpc.NewServer()
		health.Register(grpcSrv)

		go health.Run(ctx, healthRefreshInterval)
		go func() {
			logger.Info("starting gRPC server", zap.String("address", api.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("gRPC server failed", zap.Error(err))
			}
		}()
	}

	runErr := a.orchestrator.Run(ctx)
	if runErr != nil {
		logger.Error("sync loop failed", zap.Error(runErr))
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if restServer != nil {
		if err := restServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("REST server shutdown", zap.Error(err))
		}
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}

	logger.Info("shutdown complete")
	return runErr
}

func newRouter(handler *rest.Handler) http.Handler {
	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		handler.RegisterRoutes(r)
	})
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return router
}
