// cmd/chaos/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jules-labs/lending/internal/catalog"
	"github.com/jules-labs/lending/internal/chaos"
	"github.com/jules-labs/lending/internal/circulation"
	"github.com/jules-labs/lending/internal/config"
	"github.com/jules-labs/lending/internal/ledger"
	"github.com/jules-labs/lending/internal/logger"
	"github.com/jules-labs/lending/internal/membership"
	"github.com/jules-labs/lending/internal/notify"
	"github.com/jules-labs/lending/internal/reservation"
	"github.com/jules-labs/lending/internal/telemetry"
)

func main() {
	cfg, err := config.Load(config.Path(""))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	chaosLog := logger.WithService("chaos")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName+"-chaos", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Failed to set up telemetry: %v", err)
	}
	defer shutdown(context.Background())

	roles, err := cfg.RoleTable()
	if err != nil {
		log.Fatalf("Invalid role table: %v", err)
	}
	pol, err := cfg.Policy(roles)
	if err != nil {
		log.Fatalf("Invalid access policy: %v", err)
	}
	rules, err := cfg.Circulation()
	if err != nil {
		log.Fatalf("Invalid lending rules: %v", err)
	}

	target := &chaos.Target{
		Items:  catalog.NewRegistry(),
		Users:  membership.NewDirectory(),
		Loans:  ledger.New(),
		Holds:  reservation.NewScheduler(),
		Policy: pol,
	}
	target.Service = circulation.NewService(circulation.Dependencies{
		Items:    target.Items,
		Users:    target.Users,
		Loans:    target.Loans,
		Holds:    target.Holds,
		Policy:   target.Policy,
		Notifier: notify.Nop{},
	}, rules, circulation.WithLogger(logger.Discard()))

	engine := chaos.NewEngine(chaosLog)
	engine.RegisterExperiments(target, chaos.Options{})

	gameDay := chaos.GameDay{
		Name:      "Lending Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
		Pause:     time.Second,
	}

	held, err := engine.ExecuteGameDay(ctx, gameDay)
	if err != nil {
		log.Fatalf("Chaos Game Day failed: %v", err)
	}
	if !held {
		chaosLog.Error("At least one hypothesis was violated")
		os.Exit(1)
	}
	chaosLog.Info("Every hypothesis held", "experiments", len(gameDay.Scenarios))
}
