/*
main.go - Application entry point

PURPOSE:
  Starts the points ledger HTTP server and offers one-off maintenance
  commands against the same store.

COMMANDS:
  points-server serve [--config points.yaml]
  points-server reconcile --group family-42 [--user kid-1] [--config points.yaml]

STARTUP SEQUENCE (serve):
  1. Load configuration (file, then POINTS_* environment)
  2. Build the zap logger
  3. Open the store selected by store.driver
  4. Connect the NATS decision publisher, if events.nats_url is set
  5. Wire the points service and HTTP router
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Drain NATS, close the store, flush logs

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/points-ledger/api"
	"github.com/warp/points-ledger/config"
	"github.com/warp/points-ledger/events"
	"github.com/warp/points-ledger/logging"
	"github.com/warp/points-ledger/metrics"
	"github.com/warp/points-ledger/points"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "points-server",
		Short:         "Household points ledger and approval engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	cmd.AddCommand(newServeCommand(&configPath))
	cmd.AddCommand(newReconcileCommand(&configPath))
	return cmd
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	backend, closeBackend, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeBackend()
	logger.Info("store opened", zap.String("driver", cfg.Store.Driver))

	opts := points.Options{
		Logger:       logger,
		Recorder:     metrics.Recorder{},
		MaxRetries:   &cfg.Ledger.MaxRetries,
		PersistRanks: cfg.Ledger.PersistRanks,
	}
	if cfg.Events.NATSURL != "" {
		pub, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger.Named("events"))
		if err != nil {
			return err
		}
		defer pub.Close()
		opts.Notifier = pub
	}

	svc := points.NewService(backend, opts)
	handler := api.NewHandler(svc, backend, logger.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestLogging: true,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// =============================================================================
// RECONCILE
// =============================================================================

func newReconcileCommand(configPath *string) *cobra.Command {
	var userID, groupID string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild cached balances from approved history",
		Long: `Rebuild cached balances from approved history and report drift.

Examples:
  # One member
  points-server reconcile --group family-42 --user kid-1

  # Every member with a balance in the group
  points-server reconcile --group family-42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer logging.Sync(logger)

			backend, closeBackend, err := openBackend(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer closeBackend()

			svc := points.NewService(backend, points.Options{Logger: logger})
			return reconcile(cmd.Context(), svc, points.UserID(userID), points.GroupID(groupID), json.NewEncoder(cmd.OutOrStdout()))
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "member to reconcile (default: every member of the group)")
	cmd.Flags().StringVar(&groupID, "group", "", "group to reconcile")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

// reconcileLine is one line of reconcile output.
type reconcileLine struct {
	UserID   string `json:"user_id"`
	GroupID  string `json:"group_id"`
	Previous *int64 `json:"previous_total,omitempty"`
	Total    int64  `json:"total"`
	Drift    int64  `json:"drift"`
	Drifted  bool   `json:"drifted"`
}

func reconcile(ctx context.Context, svc *points.Service, userID points.UserID, groupID points.GroupID, out *json.Encoder) error {
	users := []points.UserID{userID}
	if userID == "" {
		ranked, err := svc.GetGroupRanking(ctx, groupID)
		if err != nil {
			return err
		}
		users = users[:0]
		for _, b := range ranked {
			users = append(users, b.UserID)
		}
	}

	for _, u := range users {
		report, err := svc.Reconcile(ctx, u, groupID)
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", u, err)
		}
		line := reconcileLine{
			UserID:  string(u),
			GroupID: string(groupID),
			Total:   report.Recomputed.TotalPoints,
			Drift:   report.Drift,
			Drifted: report.Drifted(),
		}
		if report.Previous != nil {
			prev := report.Previous.TotalPoints
			line.Previous = &prev
		}
		if err := out.Encode(line); err != nil {
			return err
		}
	}
	return nil
}
