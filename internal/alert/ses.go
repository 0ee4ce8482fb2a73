package alert

import (
	"context"
	"fmt"

	"socialqueue/internal/privacy"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/sirupsen/logrus"
)

const charset = "UTF-8"

// SESAPI is the subset of the SES v2 client SESNotifier calls.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier mails alerts as plain text.
type SESNotifier struct {
	api    SESAPI
	from   string
	to     string
	logger *logrus.Logger
}

func NewSESNotifier(api SESAPI, from, to string, logger *logrus.Logger) (*SESNotifier, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("alert sender and recipient are required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SESNotifier{api: api, from: from, to: to, logger: logger}, nil
}

func (n *SESNotifier) Notify(ctx context.Context, subject, body string) error {
	out, err := n.api.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination: &types.Destination{
			ToAddresses: []string{n.to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String(charset)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String(charset)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}

	n.logger.WithFields(logrus.Fields{
		"alert_to":   privacy.MaskEmail(n.to),
		"subject":    subject,
		"message_id": aws.ToString(out.MessageId),
	}).Info("Alert sent")
	return nil
}
