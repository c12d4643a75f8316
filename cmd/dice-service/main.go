package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/dice-settlement/internal/dice"
	dicelogcache "github.com/radieske/dice-settlement/internal/dice-logs/cache"
	dhttp "github.com/radieske/dice-settlement/internal/dice-service/http"
	kpub "github.com/radieske/dice-settlement/internal/dice-service/producer"
	"github.com/radieske/dice-settlement/internal/dice/auth"
	"github.com/radieske/dice-settlement/internal/dice/settlement"
	"github.com/radieske/dice-settlement/internal/dice/store"
	"github.com/radieske/dice-settlement/internal/dice/wager"
	sharedcache "github.com/radieske/dice-settlement/internal/shared/cache"
	"github.com/radieske/dice-settlement/internal/shared/config"
	"github.com/radieske/dice-settlement/internal/shared/db"
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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Store: postgres em produção, memória para testes locais
	var st store.Store
	switch cfg.Store {
	case "memory":
		st = store.NewMemory()
	default:
		pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("postgres connect", zap.Error(err))
		}
		ps := store.NewPostgres(pg)
		if err := ps.Migrate(ctx); err != nil {
			log.Fatal("postgres migrate", zap.Error(err))
		}
		st = ps
	}
	defer st.Close()

	// Redis: leitura dos resultados gravados pelo dice-logs-worker
	rdb, err := sharedcache.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()
	results := dicelogcache.NewResultCache(rdb, cfg.ResultTTL)

	// Kafka writer sem tópico fixo (a outbox informa o tópico)
	writer := skafka.NewWriter(cfg.Brokers())
	publ := kpub.NewKafkaPublisher(writer)
	defer publ.Close()

	// Métricas
	placed := prometheus.NewCounter(prometheus.CounterOpts{Name: "dice_bets_placed_total", Help: "apostas registradas"})
	resolved := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dice_bets_resolved_total", Help: "apostas liquidadas"}, []string{"outcome"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dice_ops_rejected_total", Help: "operações rejeitadas"}, []string{"op", "reason"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dice_outbox_published_total", Help: "mensagens publicadas"}, []string{"topic"})
	outboxErr := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dice_outbox_errors_total", Help: "erros da outbox por fase"}, []string{"stage"})
	prometheus.MustRegister(placed, resolved, rejected, published, outboxErr)

	dispatcher := settlement.NewDispatcher(log, st, publ, cfg.OutboxInterval)
	dispatcher.OnPublished = func(topic string) { published.WithLabelValues(topic).Inc() }
	dispatcher.OnError = func(stage string) { outboxErr.WithLabelValues(stage).Inc() }

	svc := settlement.NewService(log, st, auth.NewScopeAuthenticator(cfg.Permission), settlement.Config{
		BankAccount:      cfg.BankAccount,
		HouseAccount:     cfg.HouseAccount,
		TokenAccount:     cfg.TokenAccount,
		NativeCode:       cfg.NativeSymbol,
		AllowNative:      cfg.AllowNative,
		IssuerCommission: wager.Rate{Num: cfg.IssuerCommission.Num, Den: cfg.IssuerCommission.Den},
		SystemCommission: wager.Rate{Num: cfg.SystemCommission.Num, Den: cfg.SystemCommission.Den},
		VerifySeed:       cfg.VerifySeed,
		TopicReceipt:     cfg.TopicBetReceipt,
		TopicResult:      cfg.TopicBetResult,
		TopicTransfer:    cfg.TopicTokenTransfer,
	}, nil, settlement.Hooks{
		OnPlaced: func(dice.Bet) { placed.Inc() },
		OnResolved: func(r dice.Result) {
			outcome := "lost"
			if r.Won() {
				outcome = "won"
			}
			resolved.WithLabelValues(outcome).Inc()
		},
		OnRejected:  func(op string, err error) { rejected.WithLabelValues(op, reason(err)).Inc() },
		OnCommitted: dispatcher.Notify,
	})

	keys, err := auth.ParseKeys(cfg.APIKeys, cfg.Permission)
	if err != nil {
		log.Fatal("api keys", zap.Error(err))
	}

	// HTTP público
	api := dhttp.NewServer(log, svc, keys, results)
	apiSrv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// metrics/health
	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, func(ctx context.Context) error {
		if err := st.Ping(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	})

	go func() {
		if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("outbox dispatcher stopped", zap.Error(err))
		}
	}()

	go func() {
		log.Info("dice-service listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("api", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	// última drenagem da outbox antes de fechar o writer
	if _, err := dispatcher.Flush(shutdownCtx); err != nil {
		log.Warn("final outbox flush", zap.Error(err))
	}
	log.Info("dice-service stopped")
}

// reason reduz o erro a um label de baixa cardinalidade
func reason(err error) string {
	for _, k := range []struct {
		err   error
		label string
	}{
		{dice.ErrUnauthorized, "unauthorized"},
		{dice.ErrSymbolMismatch, "symbol_mismatch"},
		{dice.ErrInvalidAsset, "invalid_asset"},
		{dice.ErrRange, "range"},
		{dice.ErrInsufficientPool, "insufficient_pool"},
		{dice.ErrInsufficientFunds, "insufficient_funds"},
		{dice.ErrDuplicateID, "duplicate_id"},
		{dice.ErrNotFound, "not_found"},
		{dice.ErrSeedMismatch, "seed_mismatch"},
		{dice.ErrOverdraw, "overdraw"},
		{dice.ErrPoolOverdraw, "pool_overdraw"},
	} {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	return "other"
}
