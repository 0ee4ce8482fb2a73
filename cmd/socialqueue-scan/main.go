// Command socialqueue-scan runs one scanner tick per Lambda invocation. It is
// triggered by a once-a-minute EventBridge schedule.
package main

import (
	"context"
	"os"
	"time"

	"socialqueue/internal/bootstrap"
	"socialqueue/internal/config"
	"socialqueue/internal/models"
	"socialqueue/internal/service"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"
)

const configPathEnv = "SOCIALQUEUE_CONFIG"

type tickRunner interface {
	Run(ctx context.Context, tick time.Time) (service.ScanReport, error)
}

type scanResponse struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Matched    int    `json:"matched"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	Unrecorded int    `json:"unrecorded"`
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := loadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger = bootstrap.NewLogger(cfg.LogLevel, false)

	app, err := bootstrap.New(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize queue pipeline")
	}
	// The process is frozen between invocations and killed without notice,
	// so the app is never closed.

	lambda.Start(newHandler(app.Scanner, logger))
}

func loadConfig() (*models.Config, error) {
	if path := os.Getenv(configPathEnv); path != "" {
		return config.LoadConfig(path)
	}
	return config.LoadFromEnvironment()
}

// newHandler returns the invocation handler. The tick is the schedule
// event's time, or the current time when the event carries none.
//
// Entries whose status could not be written are not reported as an error:
// a failed invocation is retried and would dispatch them a second time.
func newHandler(scanner tickRunner, logger *logrus.Logger) func(context.Context, events.CloudWatchEvent) (scanResponse, error) {
	return func(ctx context.Context, event events.CloudWatchEvent) (scanResponse, error) {
		tick := event.Time
		if tick.IsZero() {
			tick = time.Now()
		}

		report, err := scanner.Run(ctx, tick)
		if err != nil {
			logger.WithError(err).WithField("tick", tick.UTC().Format(time.RFC3339)).Error("Scan failed")
			return scanResponse{}, err
		}

		if report.Unrecorded > 0 {
			logger.WithField("unrecorded", report.Unrecorded).Warn("Some dispatched entries are still PENDING")
		}
		return scanResponse{
			From:       report.From.Format(time.RFC3339),
			To:         report.To.Format(time.RFC3339),
			Matched:    report.Matched,
			Succeeded:  report.Succeeded,
			Failed:     report.Failed,
			Unrecorded: report.Unrecorded,
		}, nil
	}
}
