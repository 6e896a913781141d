package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/events"
	"github.com/aquamarinepk/aqm/middleware"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/delivery/pkg"
	"github.com/appetiteclub/delivery/pkg/event"
	"github.com/appetiteclub/delivery/services/order/internal/mongo"
	"github.com/appetiteclub/delivery/services/order/internal/order"
	"github.com/appetiteclub/delivery/services/order/internal/postgres"
)

const (
	appNamespace = "ORDER"
	appName      = "order"
	appVersion   = "0.1.0"
)

type eventBus interface {
	events.Publisher
	events.Subscriber
	Close() error
}

type natsBus struct {
	*pkg.NATSPublisher
	*pkg.NATSSubscriber
}

func (b natsBus) Close() error {
	return errors.Join(b.NATSSubscriber.Close(), b.NATSPublisher.Close())
}

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

	seedCtx, cancelSeeds := context.WithCancel(ctx)
	defer cancelSeeds()

	var (
		orderRepo      order.OrderRepo
		remittanceRepo order.RemittanceRepo
		storeStop      func(context.Context) error
		demoHooks      []interface{}
	)

	driver := config.GetStringOrDef("db.driver", "mongo")
	switch driver {
	case "mongo":
		baseRepo := mongo.NewBaseRepo(config, logger)
		if err := baseRepo.Start(ctx); err != nil {
			log.Fatalf("%s(%s) cannot start base repository: %v", appName, appVersion, err)
		}
		db := baseRepo.GetDatabase()
		if db == nil {
			log.Fatalf("%s(%s) cannot initialize repository database: %v", appName, appVersion, errors.New("repository database is nil"))
		}
		orderRepo = mongo.NewOrderRepo(db)
		remittanceRepo = mongo.NewRemittanceRepo(db)
		storeStop = baseRepo.Stop

		if config.GetStringOrDef("db.seed.demo", "false") == "true" {
			logger.Info("Demo seeding enabled for order service")
			demoHooks = append(demoHooks, aqm.LifecycleHooks{
				OnStart: order.DemoSeedingFunc(seedCtx, orderRepo, db, logger),
				OnStop: func(context.Context) error {
					cancelSeeds()
					return nil
				},
			})
		}

	case "postgres":
		pg := postgres.NewDB(config, logger)
		if err := pg.Start(ctx); err != nil {
			log.Fatalf("%s(%s) cannot start postgres: %v", appName, appVersion, err)
		}
		orderRepo = postgres.NewOrderRepo(pg)
		remittanceRepo = postgres.NewRemittanceRepo(pg)
		storeStop = pg.Stop

	default:
		log.Fatalf("%s(%s) unknown db.driver %q", appName, appVersion, driver)
	}

	bus, err := newEventBus(config, logger)
	if err != nil {
		log.Fatalf("%s(%s) cannot connect to NATS: %v", appName, appVersion, err)
	}

	svcCfg, err := serviceConfig(config)
	if err != nil {
		log.Fatalf("%s(%s) invalid configuration: %v", appName, appVersion, err)
	}

	service := order.NewService(orderRepo, remittanceRepo, bus, svcCfg, logger)

	jwtSecret, _ := config.GetString("auth.jwt.secret")
	if jwtSecret == "" {
		log.Fatalf("%s(%s) auth.jwt.secret is required", appName, appVersion)
	}

	buffer, _ := strconv.Atoi(config.GetStringOrDef("grpc.subscriber.buffer", "100"))
	orderEvents := order.NewOrderEventStreamServer(jwtSecret, buffer, logger)
	lifecycleSub := order.NewLifecycleSubscriber(bus, orderEvents, logger)

	handler := order.NewHandler(order.HandlerDeps{Service: service}, config, logger)

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      logger,
		DisableCORS: true,
	})

	lifecycles := []interface{}{
		aqm.LifecycleHooks{OnStop: storeStop},
		lifecycleSub,
		aqm.LifecycleHooks{OnStop: func(context.Context) error { return bus.Close() }},
	}
	lifecycles = append(lifecycles, demoHooks...)

	options := []aqm.Option{
		aqm.WithConfig(config),
		aqm.WithLogger(logger),
		aqm.WithHTTPMiddleware(stack...),
		aqm.WithHTTPServerModules("web.port", handler),
		aqm.WithGRPCServerModules("grpc.port", orderEvents),
		aqm.WithLifecycle(lifecycles...),
		aqm.WithHealthChecks(appName),
	}

	ms := aqm.NewMicro(options...)
	logger.Infof("Starting %s(%s) with %s store", appName, appVersion, driver)

	err = ms.Run(ctx)
	if err != nil {
		_ = storeStop(context.Background())
		log.Fatalf("%s(%s) stopped: %v", appName, appVersion, err)
	}

	logger.Infof("%s(%s) stopped", appName, appVersion)
}

// newEventBus uses JetStream when nats.stream.enabled is set, so lifecycle
// envelopes survive a broker restart; plain NATS otherwise. Every replica
// gets its own consumer since each one serves its own subscribers.
func newEventBus(config *aqm.Config, logger aqm.Logger) (eventBus, error) {
	natsURL := config.GetStringOrDef("nats.url", "nats://localhost:4222")

	if config.GetStringOrDef("nats.stream.enabled", "false") == "true" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "local"
		}
		return pkg.NewNATSStream(pkg.NATSStreamConfig{
			URL:          natsURL,
			StreamName:   config.GetStringOrDef("nats.stream.name", "ORDER_LIFECYCLE"),
			Topic:        event.LifecycleTopic,
			ConsumerName: "order-" + hostname,
			MaxAge:       24 * time.Hour,
			Logger:       logger,
		})
	}

	pub, err := pkg.NewNATSPublisher(natsURL)
	if err != nil {
		return nil, err
	}
	sub, err := pkg.NewNATSSubscriber(natsURL, logger)
	if err != nil {
		pub.Close()
		return nil, err
	}
	return natsBus{NATSPublisher: pub, NATSSubscriber: sub}, nil
}

func serviceConfig(config *aqm.Config) (order.ServiceConfig, error) {
	var cfg order.ServiceConfig
	var err error

	if raw, _ := config.GetString("orders.commission.rate"); raw != "" {
		if cfg.CommissionRate, err = decimal.NewFromString(raw); err != nil {
			return cfg, err
		}
	}
	if raw, _ := config.GetString("remittance.tolerance"); raw != "" {
		if cfg.Tolerance, err = decimal.NewFromString(raw); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}
