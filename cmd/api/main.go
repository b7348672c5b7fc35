package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/quayhook/quayhook/internal/auth"
	"github.com/quayhook/quayhook/internal/cache"
	"github.com/quayhook/quayhook/internal/config"
	"github.com/quayhook/quayhook/internal/db"
	"github.com/quayhook/quayhook/internal/health"
	"github.com/quayhook/quayhook/internal/ingest"
	"github.com/quayhook/quayhook/internal/logging"
	"github.com/quayhook/quayhook/internal/metrics"
	"github.com/quayhook/quayhook/internal/queue"
	"github.com/quayhook/quayhook/internal/store"
	"github.com/quayhook/quayhook/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("quayhook-api")

	shutdown, err := tracing.Init(ctx, "quayhook-api")
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Plain().WithError(err).Fatal("db migrate failed")
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer producer.Stop()

	subscriptions := store.NewSubscriptions(pool)
	subCache := cache.NewSubscriptionCache(subscriptions, rdb, cfg.Redis.CacheTTL, logger)
	scheduler := queue.NewScheduler(producer, cfg.NSQ.DeliveriesTopic)

	api := ingest.NewAPI(
		subscriptions,
		store.NewDeliveries(pool),
		store.NewAttempts(pool),
		subCache,
		scheduler,
		cfg.Retention,
		logger,
	)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool, rdb))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	api.Register(mux)

	var handler http.Handler = mux
	if cfg.API.JWTPublicKey != "" {
		validator, err := auth.NewJWTValidator(cfg.API.JWTPublicKey, cfg.API.JWTIssuer, cfg.API.JWTAudience)
		if err != nil {
			logger.Plain().WithError(err).Fatal("jwt validator setup failed")
		}
		handler = validator.HTTPMiddleware(mux)
	} else {
		logger.Plain().Warn("JWT_PUBLIC_KEY not set, API auth disabled")
	}

	httpSrv := &http.Server{Addr: cfg.API.HTTPPort, Handler: handler}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("api server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("api server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down api server")
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("api server stopped")
}
