// The scheduler binary runs one rule-runner pass and exits: it executes
// every due scheduled rule, raises issues, queues notifications, and
// writes the RULE_RUNNER heartbeat. Intended to be invoked from cron
// every minute.
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
	"wisefido-notify/internal/engine"
	"wisefido-notify/internal/logger"
	"wisefido-notify/internal/models"
	"wisefido-notify/internal/repository"
	"wisefido-notify/internal/scheduler"
)

func main() {
	token := flag.String("token", "", "job invocation token (must match JOB_TOKEN when set)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "scheduler")
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

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Scheduler.RunTimeout)*time.Second)
	defer cancel()

	rulesRepo := repository.NewRulesRepository(db, log)
	issuesRepo := repository.NewIssuesRepository(db, log)
	notificationsRepo := repository.NewNotificationsRepository(db, log)
	usersRepo := repository.NewUsersRepository(db, log)
	heartbeats := repository.NewHeartbeatsRepository(db, log)
	detector := repository.NewDetectionRunner(db, log,
		time.Duration(cfg.Scheduler.QueryTimeout)*time.Second, cfg.Scheduler.MaxRows)

	eng := engine.New(rulesRepo, issuesRepo, notificationsRepo, usersRepo, engine.DefaultOptions(), log)
	sched := scheduler.New(rulesRepo, detector, eng, log)

	start := time.Now()
	stats, runErr := sched.Tick(ctx, start)

	status := models.JobStatusOK
	details := stats.Details()
	switch {
	case runErr != nil:
		status = models.JobStatusError
		details = fmt.Sprintf("%s; error: %v", details, runErr)
	case stats.RulesFailed > 0:
		status = models.JobStatusWarning
	}

	// Heartbeats go through a fresh context so a run-timeout still gets
	// its failure recorded.
	hbCtx, hbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer hbCancel()
	if err := heartbeats.Upsert(hbCtx, models.JobCodeRuleRunner, status, details, time.Now()); err != nil {
		log.Error("Failed to write heartbeat",
			zap.Error(err),
		)
	}

	if runErr != nil {
		log.Error("Scheduler run failed",
			zap.Error(runErr),
			zap.Duration("elapsed", time.Since(start)),
		)
		os.Exit(1)
	}

	log.Info("Scheduler run finished",
		zap.Int("rules_due", stats.RulesDue),
		zap.Int("rules_failed", stats.RulesFailed),
		zap.Int("issues_raised", stats.IssuesRaised),
		zap.Int("notifications_created", stats.NotificationsCreated),
		zap.Duration("elapsed", time.Since(start)),
	)
}
