// The dispatcher binary drains the pending notification queue once and
// exits: it claims PENDING notifications, delivers them through the
// channel senders, and writes the NOTIF_DISPATCHER heartbeat. Intended to
// be invoked from cron every minute.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"wisefido-notify/internal/config"
	"wisefido-notify/internal/database"
	"wisefido-notify/internal/dispatcher"
	"wisefido-notify/internal/logger"
	"wisefido-notify/internal/models"
	"wisefido-notify/internal/repository"
)

func main() {
	token := flag.String("token", "", "job invocation token (must match JOB_TOKEN when set)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "dispatcher")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	if cfg.JobToken != "" && *token != cfg.JobToken {
		log.Error("Invalid job token, refusing to run")
		os.Exit(1)
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database",
			zap.Error(err),
		)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Dispatcher.RunTimeout)*time.Second)
	defer cancel()

	notificationsRepo := repository.NewNotificationsRepository(db, log)
	heartbeats := repository.NewHeartbeatsRepository(db, log)

	senders := dispatcher.NewSenderRegistry(
		dispatcher.NewInAppSender(),
		dispatcher.NewEmailSender(cfg.SMTP, log),
		dispatcher.NewWebhookSender(cfg.Webhook.URL, time.Duration(cfg.Webhook.Timeout)*time.Second, log),
	)

	d := dispatcher.New(notificationsRepo, senders, dispatcher.Options{
		BatchSize:   cfg.Dispatcher.BatchSize,
		Workers:     cfg.Dispatcher.Workers,
		SendTimeout: time.Duration(cfg.Dispatcher.SendTimeout) * time.Second,
		StaleClaim:  time.Duration(cfg.Dispatcher.StaleClaimed) * time.Second,
	}, log)

	start := time.Now()
	stats, runErr := d.Drain(ctx)

	status := models.JobStatusOK
	details := stats.Details()
	switch {
	case runErr != nil:
		status = models.JobStatusError
		details = fmt.Sprintf("%s; error: %v", details, runErr)
	case stats.Failed > 0:
		status = models.JobStatusWarning
	}

	hbCtx, hbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer hbCancel()
	if err := heartbeats.Upsert(hbCtx, models.JobCodeDispatcher, status, details, time.Now()); err != nil {
		log.Error("Failed to write heartbeat",
			zap.Error(err),
		)
	}

	if runErr != nil {
		log.Error("Dispatcher run failed",
			zap.Error(runErr),
			zap.Duration("elapsed", time.Since(start)),
		)
		os.Exit(1)
	}

	log.Info("Dispatcher run finished",
		zap.Int("sent", stats.Sent),
		zap.Int("failed", stats.Failed),
		zap.Int64("requeued", stats.Requeued),
		zap.Duration("elapsed", time.Since(start)),
	)
}
