package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/doctor-queue/internal/broadcast"
	"qms/doctor-queue/internal/config"
	"qms/doctor-queue/internal/estimate"
	"qms/doctor-queue/internal/httpapi"
	"qms/doctor-queue/internal/hub"
	"qms/doctor-queue/internal/logger"
	"qms/doctor-queue/internal/models"
	"qms/doctor-queue/internal/queue"
	"qms/doctor-queue/internal/store/postgres"
	"qms/doctor-queue/internal/suggest"
	"qms/doctor-queue/internal/telemetry"

	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const serviceName = "doctor-queue"

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	shutdownTracing := telemetry.Setup(serviceName, log)

	ctx := context.Background()
	hubInstance := hub.New(log)
	sinks := []broadcast.Sink{broadcast.NewHubSink(hubInstance)}

	var (
		pool        *pgxpool.Pool
		pgStore     *postgres.Store
		loader      queue.Loader
		handlerOpts = httpapi.Options{Logger: log}
	)
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()

		pgStore = postgres.NewStore(pool)
		handlerOpts.Appointments = pgStore
		handlerOpts.Events = pgStore
		sinks = append(sinks, broadcast.NewJournalSink(pgStore))
		if cfg.HydrateFromJournal {
			loader = pgStore
		}
	} else {
		log.Warn("DB_DSN not set; queues are kept in memory only")
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("redis connect", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		sinks = append(sinks, broadcast.NewRedisSink(redisClient, cfg.RedisChannelPrefix))
	}

	var producer sarama.SyncProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = broadcast.NewKafkaProducer(broadcast.KafkaConfig{
			Brokers:      cfg.KafkaBrokers,
			RetryMax:     cfg.KafkaRetryMax,
			RequiredAcks: cfg.KafkaRequiredAcks,
		})
		if err != nil {
			log.Fatal("kafka producer", zap.Strings("brokers", cfg.KafkaBrokers), zap.Error(err))
		}
		sinks = append(sinks, broadcast.NewKafkaSink(producer, cfg.KafkaTopic))
	}

	broadcaster := broadcast.New(broadcast.Options{
		Buffer:      cfg.BroadcastBuffer,
		SinkTimeout: cfg.SinkTimeout,
		Logger:      log,
	}, sinks...)

	engine := queue.NewEngine(queue.Options{
		Estimate: estimate.Config{
			DefaultDuration:  cfg.ConsultDefault,
			FollowUpDuration: cfg.ConsultFollowUp,
			Alpha:            cfg.ConsultEMAAlpha,
			Window:           cfg.ConsultEMAWindow,
			DelayThreshold:   cfg.DelayThreshold,
		},
		Suggest: suggest.Config{
			PullNextFactor: cfg.PullNextFactor,
			MaterialDelay:  cfg.MaterialDelay,
		},
		DefaultBreak: cfg.DefaultBreak,
		Publisher:    broadcaster,
		Loader:       loader,
		Logger:       log,
	})

	handler := httpapi.NewHandler(engine, handlerOpts)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		DoctorPerMinute: cfg.DoctorRateLimitPerMinute,
		DoctorBurst:     cfg.DoctorRateLimitBurst,
	})

	mux := handler.Routes()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/realtime/", httpapi.NewRealtimeHandler("/realtime", hubInstance, engine, log))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(log, limiter.Middleware(mux)), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("doctor-queue listening", zap.String("addr", server.Addr), zap.Int("sinks", len(sinks)))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	go sweepPastDays(sweepCtx, engine, broadcaster, cfg, log)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}

	// Drain lanes while sink connections are still open.
	broadcaster.Close()
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Warn("kafka close", zap.Error(err))
		}
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
}

// sweepPastDays drops in-memory boards and broadcast lanes for clinic days
// older than the retention window. The journal keeps their history.
func sweepPastDays(ctx context.Context, engine *queue.Engine, broadcaster *broadcast.Broadcaster, cfg config.Config, log *zap.Logger) {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cutoff := now.AddDate(0, 0, -cfg.RetainDays).Format(models.DateLayout)
			evicted := engine.Evict(cutoff)
			lanes := broadcaster.CloseBefore(cutoff)
			if len(evicted) > 0 || lanes > 0 {
				log.Info("evicted past queues", zap.String("before", cutoff), zap.Int("boards", len(evicted)), zap.Int("lanes", lanes))
			}
		}
	}
}
