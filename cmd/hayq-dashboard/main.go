package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hayq-io/hayq-dashboard/internal/cache"
	"github.com/hayq-io/hayq-dashboard/internal/chainerr"
	"github.com/hayq-io/hayq-dashboard/internal/config"
	"github.com/hayq-io/hayq-dashboard/internal/contract"
	"github.com/hayq-io/hayq-dashboard/internal/httpapi"
	"github.com/hayq-io/hayq-dashboard/internal/metrics"
	"github.com/hayq-io/hayq-dashboard/internal/provider"
	"github.com/hayq-io/hayq-dashboard/internal/session"
	"github.com/hayq-io/hayq-dashboard/internal/store"
	"github.com/hayq-io/hayq-dashboard/internal/txflow"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("hayq-dashboard",
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("build_date", BuildDate),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to parse config", zap.Error(err))
	}

	st, err := store.Open(cfg.DataDir, log)
	if err != nil {
		log.Fatal("failed to open state store", zap.Error(err))
	}

	prov, err := provider.Dial(ctx, cfg.WalletRPCURL, cfg.RPCURL, log)
	if err != nil {
		log.Fatal("failed to dial wallet provider", zap.Error(err))
	}
	defer prov.Close()

	resolver := contract.NewResolver(cfg, prov, log)

	balances := cache.New(func() cache.Reader {
		b, _ := resolver.Current()
		if b == nil {
			return nil
		}
		return b
	}, log)

	sessions := session.NewManager(cfg, prov, st, balances, resolver, log)
	defer sessions.Close()

	txs := txflow.NewController(cfg, prov, sessions, func() (txflow.Binding, *chainerr.Error) {
		b, cerr := resolver.Current()
		if b == nil {
			return nil, cerr
		}
		return b, cerr
	}, balances, log)

	sampler := metrics.New(st, func() metrics.SupplyReader {
		b, _ := resolver.Current()
		if b == nil {
			return nil
		}
		return b
	}, log)

	go balances.Run(ctx)
	go sessions.Run(ctx)
	go sampler.Run(ctx)

	sessions.Resume(ctx)

	handler := httpapi.NewServer(cfg, sessions, balances, resolver, txs, sampler, log)
	defer handler.Close()

	server := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: handler,
	}

	go func() {
		log.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	} else {
		log.Info("HTTP server gracefully stopped")
	}
}
