package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fleetnotify/internal/config"
	"fleetnotify/internal/database"
	"fleetnotify/internal/handler"
	"fleetnotify/internal/logging"
	"fleetnotify/internal/metrics"
	"fleetnotify/internal/mw"
	"fleetnotify/internal/service"
	"fleetnotify/internal/worker"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleet-notifications <config-file>",
		Short: "Phone notifications for fleet order lifecycle events",
		Long: `Watches the fleet management server for order state changes and calls
the car admin when a car starts a new mission and the customer when an
order is done.

Database connection flags override the values from the config file.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args[0], cmd)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			if err := run(cmd.Context(), cfg); err != nil {
				slog.Error("fleet notifications stopped with error", "error", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().String("username", "", "the username for the database server")
	cmd.Flags().String("password", "", "the password for the database server")
	cmd.Flags().StringP("location", "l", "", "the location/address of the database")
	cmd.Flags().IntP("port", "p", 0, "the database port number")
	cmd.Flags().String("database-name", "", "the name of the database")
	cmd.Flags().String("driver", "", "database driver (pgx|sqlite3)")

	cmd.AddCommand(newTokenCommand())
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:           "token <config-file>",
		Short:         "Print a bearer token for the status API",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args[0], cmd)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			token, err := mw.IssueToken(cfg.HTTPServer.JWTSecret, subject, ttl)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "status-reader", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func loadConfig(path string, cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			return nil, fmt.Errorf("configuration file not found: %w", err)
		}
		return nil, fmt.Errorf("check the configuration file (%q): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("check the configuration file (%q): %w", path, err)
	}
	return cfg, nil
}

func run(parent context.Context, cfg *config.Config) error {
	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer closeLog()
	slog.SetDefault(logger)

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	db, err := database.NewDB(ctx, cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer database.CloseDB(db)

	ledger := service.NewLedgerService(db, logger)
	if err := ledger.InitSchema(ctx); err != nil {
		return err
	}

	reg := metrics.NewRegistry()

	fleet := service.NewFleetClient(
		cfg.FleetManagementServer.BaseURI,
		cfg.FleetManagementServer.APIKey,
		cfg.FleetManagementServer.RequestTimeout(),
	)
	if cars, err := fleet.ListCars(ctx); err != nil {
		logger.Warn("fleet management server is not reachable", "base_uri", cfg.FleetManagementServer.BaseURI, "error", err)
	} else {
		logger.Info("fleet management server reachable", "cars", len(cars))
	}

	notifications := cfg.Twilio.Notifications
	caller := service.NewNotificationClient(
		service.NewTwilioTelephony(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken),
		service.NotificationConfig{
			FromNumber:        cfg.Twilio.FromNumber,
			PlaySoundURL:      notifications.PlaySoundURL,
			RepeatedCalls:     notifications.RepeatedCalls,
			CallStatusTimeout: notifications.CallStatusTimeout(),
			PollInterval:      notifications.PollInterval(),
		},
		logger,
		reg,
	)

	dispatcher := worker.NewDispatcher(caller, cfg.Dispatcher.Workers, cfg.Dispatcher.QueueSize, logger, reg)
	watcher := worker.NewOrderWatcher(fleet, ledger, dispatcher, logger, reg)
	watcher.SetErrorBackoff(cfg.Engine.ErrorBackoff())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dispatcher.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		watcher.Start(ctx)
	}()

	var srv *http.Server
	if cfg.HTTPServer.Port > 0 {
		srv = &http.Server{
			Addr:         ":" + strconv.Itoa(cfg.HTTPServer.Port),
			Handler:      handler.NewRouter(watcher, reg.Handler(), cfg.HTTPServer.JWTSecret),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		logger.Info("starting server", "addr", srv.Addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server failed", "error", err)
				cancel()
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("shutting down...", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("shutting down...")
	}

	cancel() // stop watcher and dispatcher
	if srv != nil {
		ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShut()
		if err := srv.Shutdown(ctxShut); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}
	wg.Wait()

	logger.Info("fleet notifications stopped")
	return nil
}
