package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/quayhook/quayhook/internal/backoff"
	"github.com/quayhook/quayhook/internal/cache"
	"github.com/quayhook/quayhook/internal/config"
	"github.com/quayhook/quayhook/internal/db"
	"github.com/quayhook/quayhook/internal/dispatch"
	"github.com/quayhook/quayhook/internal/health"
	"github.com/quayhook/quayhook/internal/logging"
	"github.com/quayhook/quayhook/internal/metrics"
	"github.com/quayhook/quayhook/internal/queue"
	"github.com/quayhook/quayhook/internal/retention"
	"github.com/quayhook/quayhook/internal/store"
	"github.com/quayhook/quayhook/internal/tracing"
)

// requeueDelay is how long the queue holds a task after an infrastructure
// failure before redelivering it.
const requeueDelay = 30 * time.Second

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New("quayhook-worker")

	shutdown, err := tracing.Init(ctx, "quayhook-worker")
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

	deliveries := store.NewDeliveries(pool)
	subscriptions := store.NewSubscriptions(pool)
	subCache := cache.NewSubscriptionCache(subscriptions, rdb, cfg.Redis.CacheTTL, logger)

	producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer producer.Stop()
	scheduler := queue.NewScheduler(producer, cfg.NSQ.DeliveriesTopic)

	dispatcher := dispatch.New(deliveries, subCache, scheduler, dispatch.Config{
		MaxRetries:      cfg.Worker.MaxRetries,
		Timeout:         cfg.Worker.Timeout,
		SignatureHeader: cfg.Worker.SignatureHeader,
		Backoff:         backoff.New(cfg.Worker.BackoffSchedule),
	}, logger)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool, rdb))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	sweeper := retention.New(deliveries, time.Hour, logger)
	go sweeper.Run(ctx)

	conf := nsq.NewConfig()
	conf.MaxInFlight = 1000
	consumer, err := nsq.NewConsumer(cfg.NSQ.DeliveriesTopic, cfg.NSQ.WorkerChannel, conf)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}

	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		m.DisableAutoResponse() // we manually requeue or finish
		defer func() {
			if !m.HasResponded() {
				m.Finish()
			}
		}()

		var task queue.Task
		if err := json.Unmarshal(m.Body, &task); err != nil {
			logger.Plain().WithError(err).Error("bad task payload")
			m.Finish() // terminal: don't retry bad payloads
			return nil
		}

		msgCtx := tracing.ExtractTask(ctx, task.TraceHeaders)
		result, err := dispatcher.Dispatch(msgCtx, task)
		if err != nil {
			// Infrastructure failure: the cycle never completed, so the
			// queue's own redelivery policy gets another shot at it.
			logger.WithContext(msgCtx).WithDelivery(task.DeliveryID).WithError(err).Error("dispatch cycle failed, requeueing")
			m.Requeue(requeueDelay)
			return nil
		}

		if result.Status != dispatch.StatusSuccess {
			logger.WithContext(msgCtx).WithDelivery(task.DeliveryID).WithFields(map[string]any{
				"result":      string(result.Status),
				"status_code": result.StatusCode,
				"message":     result.Message,
			}).Debug("dispatch cycle finished")
		}
		m.Finish()
		return nil
	}))

	// Connecting directly to nsqd forces channel creation instead of waiting
	// for lazy creation on first publish.
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsqd failed")
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to lookupd failed")
	}

	logger.Plain().Info("worker service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down worker service")
	consumer.Stop()
	<-consumer.StopChan
	cancel()
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker service stopped")
}
