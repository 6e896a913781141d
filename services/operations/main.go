package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/middleware"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/delivery/pkg/actor"
	"github.com/appetiteclub/delivery/pkg/enums/actorrole"
	"github.com/appetiteclub/delivery/pkg/remittance"
	"github.com/appetiteclub/delivery/services/operations/internal/feed"
	"github.com/appetiteclub/delivery/services/operations/internal/operations"
	"github.com/appetiteclub/delivery/services/operations/internal/orderstream"
	"github.com/appetiteclub/delivery/services/operations/internal/session"
)

const (
	appNamespace = "OPERATIONS"
	appName      = "operations"
	appVersion   = "0.1.0"
)

func main() {
	_ = godotenv.Load()

	config, err := aqm.LoadConfig(appNamespace, os.Args[1:])
	if err != nil {
		log.Fatalf("%s(%s) cannot setup: %v", appName, appVersion, err)
	}

	logLevel, _ := config.GetString("log.level")
	logger := aqm.NewLogger(logLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	cfg, err := sessionConfig(config)
	if err != nil {
		log.Fatalf("%s(%s) invalid configuration: %v", appName, appVersion, err)
	}

	orderURL, _ := config.GetString("services.order.url")
	orderGRPC, _ := config.GetString("services.order.grpc")
	if orderURL == "" || orderGRPC == "" {
		log.Fatalf("%s(%s) services.order.url and services.order.grpc are required", appName, appVersion)
	}

	orderData := operations.NewOrderDataAccess(orderURL, cfg.Token, &http.Client{Timeout: 10 * time.Second}, logger)
	streamClient := orderstream.NewClient(orderGRPC, cfg.Actor.ID.String(), logger)

	hub := feed.NewHub(0, logger)
	alerts := session.MultiSink{session.NewLogSink(logger)}

	sess := session.New(cfg, session.Deps{
		Transport: streamClient,
		Source:    orderData,
		Actions:   orderData,
		Alerts:    alerts,
		Signals:   hub,
	}, logger)

	var reconciler *operations.Reconciler
	if cfg.Actor.Is(actorrole.Roles.Courier) {
		tolerance := remittance.DefaultTolerance
		if raw, _ := config.GetString("remittance.tolerance"); raw != "" {
			if tolerance, err = decimal.NewFromString(raw); err != nil {
				log.Fatalf("%s(%s) invalid remittance.tolerance: %v", appName, appVersion, err)
			}
		}
		reconciler = operations.NewReconciler(orderData, cfg.Actor.ID, tolerance, logger)
	}

	handler := operations.NewHandler(operations.HandlerDeps{
		Session:    sess,
		Available:  orderData,
		Reconciler: reconciler,
		Audit:      operations.NewAuditLogger(0, logger),
		Feed:       feed.NewWSHandler(hub, logger),
		Events:     feed.NewSSEHandler(hub, logger),
	}, logger)

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      logger,
		DisableCORS: true,
	})

	runner := &sessionRunner{session: sess, logger: logger}

	options := []aqm.Option{
		aqm.WithConfig(config),
		aqm.WithLogger(logger),
		aqm.WithHTTPMiddleware(stack...),
		aqm.WithHTTPServerModules("web.port", handler),
		aqm.WithLifecycle(
			streamClient,
			runner,
			aqm.LifecycleHooks{OnStop: func(context.Context) error {
				hub.Close()
				return nil
			}},
		),
		aqm.WithHealthChecks(appName),
	}

	ms := aqm.NewMicro(options...)
	logger.Infof("Starting %s(%s) for %s %s", appName, appVersion, cfg.Actor.Role, cfg.Actor.ID)

	if err := ms.Run(ctx); err != nil {
		log.Fatalf("%s(%s) stopped: %v", appName, appVersion, err)
	}

	logger.Infof("%s(%s) stopped", appName, appVersion)
}

// sessionRunner ties the session task group to the service lifecycle.
type sessionRunner struct {
	session *session.Session
	logger  aqm.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (r *sessionRunner) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.session.Run(runCtx); err != nil {
			r.logger.Error("session stopped", "error", err)
		}
	}()
	return nil
}

func (r *sessionRunner) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sessionConfig(config *aqm.Config) (session.Config, error) {
	var cfg session.Config

	rawID, _ := config.GetString("actor.id")
	id, err := uuid.Parse(rawID)
	if err != nil {
		return cfg, fmt.Errorf("actor.id: %w", err)
	}
	role, _ := config.GetString("actor.role")
	if actorrole.ByName(role) == nil {
		return cfg, fmt.Errorf("actor.role: unknown role %q", role)
	}
	token, _ := config.GetString("actor.token")
	if token == "" {
		return cfg, errors.New("actor.token is required")
	}

	cfg.Actor = actor.Actor{ID: id, Role: role}
	cfg.Token = token

	if cfg.Channel.Attempts, err = intOrDef(config, "channel.retry.attempts", 5); err != nil {
		return cfg, err
	}
	if cfg.Channel.Delay, err = durationOrDef(config, "channel.retry.delay", 3*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Channel.RecoveryInterval, err = durationOrDef(config, "channel.recovery.interval", 0); err != nil {
		return cfg, err
	}
	if cfg.ReconcileAttempts, err = intOrDef(config, "reconcile.retry.attempts", session.DefaultReconcileAttempts); err != nil {
		return cfg, err
	}
	if cfg.ReconcileDelay, err = durationOrDef(config, "reconcile.retry.delay", session.DefaultReconcileDelay); err != nil {
		return cfg, err
	}
	if cfg.ReconcileRecovery, err = durationOrDef(config, "reconcile.recovery.interval", session.DefaultReconcileRecovery); err != nil {
		return cfg, err
	}
	if cfg.CompletedWindow, err = durationOrDef(config, "reconcile.completed.window", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.Deadline, err = durationOrDef(config, "escalation.deadline", session.DefaultDeadline); err != nil {
		return cfg, err
	}
	if cfg.SweepInterval, err = durationOrDef(config, "escalation.sweep", session.DefaultSweepInterval); err != nil {
		return cfg, err
	}

	defEnabled := strconv.FormatBool(role == actorrole.Roles.Restaurant.Code())
	if cfg.EscalationEnabled, err = strconv.ParseBool(config.GetStringOrDef("escalation.enabled", defEnabled)); err != nil {
		return cfg, fmt.Errorf("escalation.enabled: %w", err)
	}
	return cfg, nil
}

func intOrDef(config *aqm.Config, key string, def int) (int, error) {
	raw, _ := config.GetString(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func durationOrDef(config *aqm.Config, key string, def time.Duration) (time.Duration, error) {
	raw, _ := config.GetString(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
