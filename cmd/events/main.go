// The events binary is the long-running domain event consumer: it reads
// events from the Redis Stream, matches them against active EVENT_BASED
// rules, and raises issues through the shared engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"wisefido-notify/internal/config"
	"wisefido-notify/internal/consumer"
	"wisefido-notify/internal/database"
	"wisefido-notify/internal/engine"
	"wisefido-notify/internal/logger"
	"wisefido-notify/internal/redisx"
	"wisefido-notify/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "events")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database",
			zap.Error(err),
		)
	}
	defer db.Close()

	redisClient := redisx.NewClient(&cfg.Redis)
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisx.Ping(ctx, redisClient); err != nil {
		log.Fatal("Failed to connect to redis",
			zap.Error(err),
		)
	}

	rulesRepo := repository.NewRulesRepository(db, log)
	issuesRepo := repository.NewIssuesRepository(db, log)
	notificationsRepo := repository.NewNotificationsRepository(db, log)
	usersRepo := repository.NewUsersRepository(db, log)
	heartbeats := repository.NewHeartbeatsRepository(db, log)

	eng := engine.New(rulesRepo, issuesRepo, notificationsRepo, usersRepo, engine.DefaultOptions(), log)
	c := consumer.NewEventConsumer(redisClient, cfg.Events, eng, heartbeats, log)

	errChan := make(chan error, 1)
	go func() {
		if err := c.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
		cancel()
	case err := <-errChan:
		log.Fatal("Event consumer error",
			zap.Error(err),
		)
	}

	log.Info("Event consumer stopped")
}
