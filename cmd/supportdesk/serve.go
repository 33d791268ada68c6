package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
	"github.com/zhouzirui/supportdesk/backend/internal/handler"
)

func NewServeCommand() *cobra.Command {
	backend := NewBackendFlags()
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the support desk HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				if cfg.Server.Addr, err = config.NormalizeAddr(addr); err != nil {
					return err
				}
			}
			if err := backend.Apply(cfg); err != nil {
				return err
			}

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			// Chats left in the queue by a previous run are offered again.
			if result, err := a.services.Engine.Sweep(ctx); err != nil {
				log.WithError(err).Warn("startup sweep failed")
			} else if len(result.Assigned) > 0 || result.Queued > 0 {
				log.WithFields(log.Fields{"assigned": len(result.Assigned), "queued": result.Queued}).Info("startup sweep done")
			}

			return startServer(ctx, cfg.Server, handler.NewRouter(a.services))
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, e.g. :8080; overrides PORT")
	backend.BindFlags(cmd.Flags())
	return cmd
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.WithField("addr", serverCfg.Addr).Info("support desk listening")
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
