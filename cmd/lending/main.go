// cmd/lending/main.go
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jules-labs/lending/internal/catalog"
	"github.com/jules-labs/lending/internal/circulation"
	"github.com/jules-labs/lending/internal/clients"
	"github.com/jules-labs/lending/internal/config"
	"github.com/jules-labs/lending/internal/jobs"
	"github.com/jules-labs/lending/internal/journal"
	"github.com/jules-labs/lending/internal/ledger"
	"github.com/jules-labs/lending/internal/logger"
	"github.com/jules-labs/lending/internal/membership"
	"github.com/jules-labs/lending/internal/notify"
	"github.com/jules-labs/lending/internal/reservation"
	"github.com/jules-labs/lending/internal/server"
	"github.com/jules-labs/lending/internal/telemetry"
)

func main() {
	cfg, err := config.Load(config.Path(""))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	appLog := logger.WithService("lending")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLog); err != nil {
		appLog.Error("Lending service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, appLog *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer flush(appLog, "telemetry", shutdownTelemetry)

	roles, err := cfg.RoleTable()
	if err != nil {
		return err
	}
	pol, err := cfg.Policy(roles)
	if err != nil {
		return err
	}
	rules, err := cfg.Circulation()
	if err != nil {
		return err
	}

	items := catalog.NewRegistry()
	users := membership.NewDirectory()
	added, err := cfg.Seed.Apply(ctx, items, users)
	if err != nil {
		return err
	}
	appLog.Info("Seed applied", "added", added)

	sinks := []notify.Sink{notify.LogSink{Logger: logger.WithService("notify")}}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, clients.NewWebhookSink(clients.WebhookConfig{
			URL:           cfg.Notify.WebhookURL,
			Timeout:       cfg.Notify.DeliveryTimeout,
			RetryAttempts: cfg.Notify.RetryAttempts,
			MaxFailures:   cfg.Notify.Breaker.MaxFailures,
			OpenTimeout:   cfg.Notify.Breaker.OpenTimeout,
		}, logger.WithService("webhook")))
	}
	dispatcher := notify.NewDispatcher(sinks,
		notify.WithBuffer(cfg.Notify.Buffer),
		notify.WithDeliveryTimeout(cfg.Notify.DeliveryTimeout),
	)
	dispatcher.Start()
	defer flush(appLog, "notifications", dispatcher.Close)

	events := journal.NewMemoryStore()
	svc := circulation.NewService(circulation.Dependencies{
		Items:    items,
		Users:    users,
		Loans:    ledger.New(),
		Holds:    reservation.NewScheduler(),
		Policy:   pol,
		Notifier: dispatcher,
	}, rules, circulation.WithJournal(events), circulation.WithLogger(logger.WithService("circulation")))

	var replicator jobs.Replicator
	if cfg.Database.URL != "" {
		replica, err := journal.Open(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer replica.Close()
		if err := replica.Migrate(ctx); err != nil {
			return err
		}
		replicator = journal.NewReplicator(events, replica, cfg.Database.ReplicateBatch, logger.WithService("replicator"))
		appLog.Info("Journal replication enabled")
	}

	if cfg.Jobs.Enabled {
		scheduler, err := jobs.NewScheduler(jobs.NewRunner(svc, replicator, logger.WithService("jobs")), cfg.Jobs, logger.WithService("scheduler"))
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	router := server.NewRouter(server.Dependencies{
		Service: svc,
		Items:   items,
		Users:   users,
		Policy:  pol,
		Logger:  logger.WithService("http"),
	})
	return server.New(cfg.Address(), router, cfg.Server.ShutdownTimeout, appLog).Run(ctx)
}

// flush runs a shutdown hook with a fresh deadline.
func flush(appLog *slog.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		appLog.Warn("Shutdown incomplete", "component", name, "error", err)
	}
}
