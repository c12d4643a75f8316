package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/dice-settlement/internal/dice-logs/cache"
	"github.com/radieske/dice-settlement/internal/dice-logs/consumer"
	"github.com/radieske/dice-settlement/internal/dice-logs/pubsub"
	"github.com/radieske/dice-settlement/internal/dice-logs/ws"
	sharedcache "github.com/radieske/dice-settlement/internal/shared/cache"
	"github.com/radieske/dice-settlement/internal/shared/config"
	skafka "github.com/radieske/dice-settlement/internal/shared/kafka"
	"github.com/radieske/dice-settlement/internal/shared/logger"
	"github.com/radieske/dice-settlement/internal/shared/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	redisClient, err := sharedcache.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	// Consumer group único para recibos e resultados
	reader := skafka.NewReader(cfg.Brokers(), "dice-logs", cfg.TopicBetReceipt, cfg.TopicBetResult)
	defer reader.Close()

	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dice_logs_messages_consumed_total", Help: "mensagens consumidas"}, []string{"topic"})
	notified := prometheus.NewCounter(prometheus.CounterOpts{Name: "dice_logs_notifications_total", Help: "notificações enviadas ao jogador"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dice_logs_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, notified, errorsBy)

	proc := &consumer.Processor{
		Log:          log,
		Reader:       reader,
		Cache:        cache.NewResultCache(redisClient, cfg.ResultTTL),
		Broadcaster:  pubsub.NewRedisBroadcaster(redisClient, cfg.RedisPubSubChannel),
		TopicReceipt: cfg.TopicBetReceipt,
		TopicResult:  cfg.TopicBetResult,
		OnConsumed:   func(topic string) { consumed.WithLabelValues(topic).Inc() },
		OnNotified:   func() { notified.Inc() },
		OnError:      func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	defer metricsSrv.Close()

	// WebSocket: jogadores acompanham recibos/resultados das próprias apostas
	hub := ws.NewHub(log, func(r *http.Request) bool { return true })
	ws.StartRedisSubscriber(ctx, log, redisClient, cfg.RedisPubSubChannel, hub)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.HandleWS)
	wsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("ws listening", zap.String("addr", wsSrv.Addr))
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ws srv", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = wsSrv.Shutdown(shutdownCtx)
	}()

	log.Info("dice-logs-worker started")
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("processor stopped with error", zap.Error(err))
	}
	log.Info("dice-logs-worker stopped")
}
