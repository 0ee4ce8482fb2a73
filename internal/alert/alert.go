// Package alert delivers operational alerts to the support mailbox.
package alert

import (
	"context"

	"socialqueue/internal/privacy"

	"github.com/sirupsen/logrus"
)

// Notifier sends one alert. Delivery failures are returned but callers
// treat them as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// LogNotifier writes alerts to the log. It is used when no mail transport
// is configured.
type LogNotifier struct {
	logger *logrus.Logger
	to     string
}

func NewLogNotifier(logger *logrus.Logger, to string) *LogNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogNotifier{logger: logger, to: to}
}

func (n *LogNotifier) Notify(_ context.Context, subject, body string) error {
	n.logger.WithFields(logrus.Fields{
		"alert_to": privacy.MaskEmail(n.to),
		"subject":  subject,
		"body":     body,
	}).Error("Operational alert")
	return nil
}
