package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"github.com/dealflow/internal/api"
	"github.com/dealflow/internal/auth"
	"github.com/dealflow/internal/config"
	"github.com/dealflow/internal/database"
	"github.com/dealflow/internal/generator"
	"github.com/dealflow/internal/jobqueue"
	"github.com/dealflow/internal/notify"
	"github.com/dealflow/internal/report"
	"github.com/dealflow/internal/series"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	// Initialize configuration
	cfg := config.LoadConfig()
	auth.SetSecret(cfg.Auth.JWTSecret)

	// Initialize database
	if err := database.Initialize(cfg.Database.Path); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer database.Close()

	db := database.GetDB()

	// The deferred-job queue. The send executor behind it is out of scope
	// here: a fired job is logged and left for the delivery pipeline.
	queue := jobqueue.NewMemoryQueue(func(job *jobqueue.Job) {
		logger.Info().Str("job_id", job.ID).Uint("deal_id", job.DealID).Msg("send job fired")
	}, logger)
	defer queue.Stop()
	coordinator := jobqueue.NewCoordinator(queue, logger)

	// Notification sinks are optional per config
	var sinks []notify.Sink
	if cfg.Notify.Slack.Token != "" {
		sinks = append(sinks, notify.NewSlackSink(cfg.Notify.Slack.Token, cfg.Notify.Slack.Channel))
	}
	if cfg.Notify.Email.SMTPHost != "" {
		sinks = append(sinks, notify.NewEmailSink(
			cfg.Notify.Email.SMTPHost, cfg.Notify.Email.SMTPPort,
			cfg.Notify.Email.From, cfg.Notify.Email.Password,
			cfg.Notify.Email.ToReceivers))
	}
	events := notify.NewService(logger, sinks...)
	defer events.Flush()

	seriesManager := series.NewManager(db, coordinator, events, logger)

	// Start occurrence generation
	worker := generator.NewWorker(db, queue, events,
		time.Duration(cfg.Generator.IntervalSeconds)*time.Second, logger)
	if err := worker.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start generator")
	}
	defer worker.Stop()

	if cfg.Report.Enabled && cfg.Notify.Email.SMTPHost != "" {
		dialer := gomail.NewDialer(cfg.Notify.Email.SMTPHost, cfg.Notify.Email.SMTPPort,
			cfg.Notify.Email.From, cfg.Notify.Email.Password)
		reporter := report.NewGenerator(db, dialer, cfg.Notify.Email.From, logger)
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for range ticker.C {
				end := time.Now()
				if err := reporter.Send(end.AddDate(0, 0, -1), end, cfg.Report.ToReceivers); err != nil {
					logger.Error().Err(err).Msg("failed to send daily report")
				}
			}
		}()
	}

	// Initialize and start API server
	server := api.NewServer(db, seriesManager, logger)
	if err := server.Start(cfg.Server.Port); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}
}
