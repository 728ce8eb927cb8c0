package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/beacon-signal-engine/internal/config"
	"github.com/iliyamo/beacon-signal-engine/internal/database"
	"github.com/iliyamo/beacon-signal-engine/internal/fanout"
	"github.com/iliyamo/beacon-signal-engine/internal/geo"
	"github.com/iliyamo/beacon-signal-engine/internal/handler"
	"github.com/iliyamo/beacon-signal-engine/internal/middleware"
	"github.com/iliyamo/beacon-signal-engine/internal/queue"
	"github.com/iliyamo/beacon-signal-engine/internal/ratelimit"
	"github.com/iliyamo/beacon-signal-engine/internal/repository"
	"github.com/iliyamo/beacon-signal-engine/internal/router"
	"github.com/iliyamo/beacon-signal-engine/internal/service"
	"github.com/iliyamo/beacon-signal-engine/internal/telemetry"
	"github.com/iliyamo/beacon-signal-engine/internal/token"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load() // .env is optional; real environment wins

	cfg := config.Load()
	engine := config.LoadEngineConfig()
	limits := config.LoadSignalLimits()
	brokers := config.LoadBrokerConfig()

	telemetry.SetupLogger(cfg.Env, cfg.LogLevel)
	logger := telemetry.Component("server")

	shutdownTracing, err := telemetry.InitTracing(config.LoadTracingConfig(cfg.Env))
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	tracer := telemetry.Tracer()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}
	stopStats := make(chan struct{})
	telemetry.StartDBStatsCollector(db, stopStats)
	defer close(stopStats)

	// Redis backs the counters; without it every replica keeps its own.
	redisCfg := config.LoadRedisConfig()
	rdb := config.NewRedisClient(redisCfg, engine.StoreTimeout)
	var (
		limiter      ratelimit.Limiter
		heat         geo.HeatStore
		scanFallback ratelimit.Limiter
	)
	if rdb != nil {
		defer rdb.Close()
		limiter = ratelimit.NewRedisLimiter(rdb, limits.Prefix)
		heat = geo.NewRedisHeatStore(rdb, redisCfg.HeatPrefix)
	} else {
		logger.Warn("redis unavailable, using in-process rate limits and heat bins (single replica only)")
		limiter = ratelimit.NewMemoryLimiter()
		heat = geo.NewMemoryHeatStore()
		scanFallback = ratelimit.NewMemoryLimiter()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// Fan-out: with a broker every replica publishes to RabbitMQ and feeds its
	// own hub from the consumer; without one the hub is a direct sink.
	hub := fanout.NewHub()
	var sinks []fanout.Sink
	if brokers.AMQPURL != "" {
		amqpSink := fanout.NewAMQPSink(brokers.AMQPURL, brokers.Exchange, engine.FanoutTimeout)
		defer amqpSink.Close()
		sinks = append(sinks, amqpSink)
		g.Go(func() error {
			err := queue.StartSignalConsumer(gctx, brokers.AMQPURL, brokers.Exchange, func(ev queue.SignalCreatedEvent) {
				hub.Broadcast(ev.City, ev.Post)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		sinks = append(sinks, hub)
	}
	if brokers.MQTTURL != "" {
		mqttSink, err := fanout.NewMQTTSink(brokers.MQTTURL, brokers.MQTTClientID, brokers.MQTTTopic, engine.FanoutTimeout)
		if err != nil {
			logger.Warn("mqtt sink disabled", "broker", brokers.MQTTURL, "error", err)
		} else {
			defer mqttSink.Close()
			sinks = append(sinks, mqttSink)
		}
	}
	bus := fanout.NewBus(engine.FanoutBuffer, engine.FanoutTimeout, sinks...)

	signer := token.NewHMACSigner(cfg.SigningSecret)
	beacons := repository.NewBeaconRepo(db)
	xp := repository.NewXPRepo(db)

	scans := service.NewScanDispatcher(service.ScanDeps{
		Signer: signer, Beacons: beacons, XP: xp, Scans: repository.NewScanRepo(db),
		Heat: heat, Config: engine, Tracer: tracer,
	})
	feed := service.NewSignalFeed(service.FeedDeps{
		Profiles: repository.NewProfileRepo(db), Posts: repository.NewPostRepo(db), XP: xp,
		Heat: heat, Limiter: limiter, Limits: limits, Publisher: bus, Config: engine, Tracer: tracer,
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.Tracing(tracer), middleware.Metrics())

	router.RegisterRoutes(e, db, rdb)
	router.RegisterScan(e, handler.NewScanHandler(scans), cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, scanFallback))
	router.RegisterSignals(e, handler.NewSignalHandler(feed, hub), cfg.JWTSecret)
	router.RegisterBeacons(e, handler.NewBeaconHandler(
		service.NewLinkMinter(signer, beacons, engine, nil),
		service.NewHeatMap(heat, engine, nil),
	), cfg.JWTSecret, middleware.NewResponseCache(config.LoadCacheConfig(), rdb))

	addr := ":" + cfg.Port
	g.Go(func() error {
		logger.Info("listening", "addr", addr, "env", cfg.Env, "redis", rdb != nil, "amqp", brokers.AMQPURL != "")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(sctx); err != nil {
			logger.Error("http shutdown", "error", err)
		}
		if err := feed.Wait(sctx); err != nil {
			logger.Error("pending signal side effects abandoned", "error", err)
		}
		if err := bus.Close(sctx); err != nil {
			logger.Error("fan-out drain incomplete", "error", err)
		}
		if shutdownTracing != nil {
			_ = shutdownTracing(sctx)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
