package main

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/dice-settlement/internal/shared/config"
	"github.com/radieske/dice-settlement/internal/shared/logger"
)

func rp(log *zap.Logger, to string) *httputil.ReverseProxy {
	u, err := url.Parse(to)
	if err != nil {
		log.Fatal("invalid upstream", zap.String("url", to), zap.Error(err))
	}
	return httputil.NewSingleHostReverseProxy(u)
}

// accessLog registra método, caminho, status e duração de cada requisição
func accessLog(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap permite ao ResponseController achar o Hijacker (upgrade do /ws)
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

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

	// targets
	dice := rp(log, cfg.DiceURL)
	logs := rp(log, cfg.LogsURL)

	mux := http.NewServeMux()

	// dice (ex.: /api/dice/bets -> dice-service /bets)
	mux.Handle("/api/dice/", http.StripPrefix("/api/dice", dice))

	// notificações (ex.: /api/logs/ws -> dice-logs-worker /ws)
	mux.Handle("/api/logs/", http.StripPrefix("/api/logs", logs))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           accessLog(log, withCORS(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		log.Info("api-gateway listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("gateway", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("api-gateway stopped")
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Account, X-Api-Key")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}
