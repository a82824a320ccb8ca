package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snapsafe/internal/config"
	"snapsafe/internal/repository/mailbox"
	"snapsafe/internal/repository/sqlite"
	"snapsafe/internal/repository/user"
	redisSvc "snapsafe/internal/service/redis"
	"snapsafe/internal/service/server"
	"snapsafe/internal/utils/log"

	"github.com/alexflint/go-arg"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	var cfg config.ServerConfig
	p := arg.MustParse(&cfg)
	if err := cfg.Validate(); err != nil {
		p.Fail(err.Error())
	}

	if err := log.Init(log.Options{Debug: cfg.Debug, JSON: cfg.JSON}); err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	directory, mailbox, closeBackend, err := openBackend(&cfg)
	if err != nil {
		log.Fatal("open storage backend failed", zap.String("backend", cfg.Backend), zap.Error(err))
	}
	defer closeBackend()

	c := server.NewHttpServer(directory, mailbox)
	go func() {
		if err := c.Run(cfg.Addr); err != nil {
			log.Fatal("relay stopped", zap.Error(err))
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
}

func openBackend(cfg *config.ServerConfig) (server.Directory, server.Mailbox, func(), error) {
	switch cfg.Backend {
	case config.BackendMongo:
		mongoDBClient, err := initMongo(cfg.MongoURI)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect mongo: %w", err)
		}

		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		redis := redisSvc.NewRedis(rdb)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := redis.Ping(ctx); err != nil {
			mongoDBClient.Disconnect(ctx)
			return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
		}

		log.Info("using mongo directory and redis mailboxes",
			zap.String("mongo_db", cfg.MongoDB),
			zap.String("redis", cfg.RedisAddr))

		closer := func() {
			redis.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mongoDBClient.Disconnect(ctx)
		}
		return user.NewUserRepo(mongoDBClient.Database(cfg.MongoDB)), mailbox.NewMailbox(redis), closer, nil

	default:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("using sqlite directory and mailboxes", zap.String("path", cfg.SQLitePath))
		return store, store, func() { store.Close() }, nil
	}
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
