package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snapsafe/internal/config"
	"snapsafe/internal/keystore"
	"snapsafe/internal/service/app"
	redisSvc "snapsafe/internal/service/redis"
	"snapsafe/internal/utils/log"

	"github.com/alexflint/go-arg"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	var cfg config.ClientConfig
	p := arg.MustParse(&cfg)
	if err := cfg.Validate(); err != nil {
		p.Fail(err.Error())
	}

	// the terminal belongs to the UI
	if err := log.Init(log.Options{Debug: cfg.Debug, OutputPath: cfg.LogFile}); err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := keystore.NewEncryptedFileStore(cfg.DataDir, []byte(cfg.Passphrase))
	if err != nil {
		log.Fatal("open key store failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	identity, err := keystore.Identity(ctx, store, cfg.Identity)
	if err != nil {
		log.Fatal("resolve identity failed", zap.Error(err))
	}
	if cfg.Identity == "" {
		fmt.Printf("Running as %s\n", identity)
	}

	api, err := app.NewAPI(cfg.Server, cfg.RequestTimeout)
	if err != nil {
		log.Fatal("invalid server url", zap.Error(err))
	}

	opts := app.SessionOptions{
		PollInterval: cfg.PollInterval,
		Push:         !cfg.NoPush,
	}

	if cfg.CacheAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.CacheAddr,
			Password: cfg.CachePassword,
		})
		redis := redisSvc.NewRedis(rdb)
		defer redis.Close()

		cacheKey, err := keystore.CacheKey(ctx, store)
		if err != nil {
			log.Fatal("load cache key failed", zap.Error(err))
		}
		opts.Cache = app.NewThreadCache(redis, cacheKey, cfg.CacheTTL)
	}

	session := app.NewSession(identity, api, keystore.New(store), opts)
	ui := app.NewApp(session)

	if err := session.Start(ctx); err != nil {
		// no keypair means nothing can be sent or read
		fmt.Fprintln(os.Stderr, "cannot start session:", err)
		log.Fatal("start session failed", zap.Error(err))
	}

	go func() {
		done := make(chan os.Signal, 1)
		signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
		<-done
		cancel()
	}()

	if err := ui.Run(ctx, cfg.Peer); err != nil {
		log.Error("ui stopped", zap.Error(err))
	}
	cancel()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := session.Close(closeCtx); err != nil {
		log.Error("save threads failed", zap.Error(err))
	}
}
