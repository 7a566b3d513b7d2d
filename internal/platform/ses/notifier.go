// Package ses sends completion notices through Amazon SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/notify"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
)

// Errors returned by the notifier.
var (
	ErrEmptyFrom   = errors.New("SES from address cannot be empty")
	ErrNoRecipient = errors.New("email has no sender address to notify")
	ErrNilClient   = errors.New("SES client cannot be nil")
)

// sendAPI is the subset of the SES v2 client the notifier uses.
type sendAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Notifier implements notify.Notifier by mailing the original sender.
type Notifier struct {
	client    sendAPI
	fromEmail string
	logger    *slog.Logger
}

var _ notify.Notifier = (*Notifier)(nil)

// NewNotifier loads the default AWS configuration for region and creates a
// Notifier sending from fromEmail.
func NewNotifier(ctx context.Context, region, fromEmail string, log *slog.Logger) (*Notifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newNotifier(sesv2.NewFromConfig(cfg), fromEmail, log)
}

func newNotifier(client sendAPI, fromEmail string, log *slog.Logger) (*Notifier, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if fromEmail == "" {
		return nil, ErrEmptyFrom
	}
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		client:    client,
		fromEmail: fromEmail,
		logger:    log.With(slog.String("component", "ses_notifier")),
	}, nil
}

// Notify implements notify.Notifier.
func (n *Notifier) Notify(
	ctx context.Context,
	email domain.EmailInfo,
	summary domain.CompletionSummary,
	outcomes []domain.TaskOutcome,
) error {
	if email.SenderEmail == "" {
		return ErrNoRecipient
	}

	msg, err := notify.Render(email, summary, outcomes)
	if err != nil {
		return err
	}

	out, err := n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.fromEmail),
		Destination: &types.Destination{
			ToAddresses: []string{email.SenderEmail},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send completion notice: %w", err)
	}

	var messageID string
	if out != nil {
		messageID = aws.ToString(out.MessageId)
	}
	logger.FromContextOrDefault(ctx, n.logger).InfoContext(ctx, "completion notice sent",
		slog.String("email_id", email.ID.String()),
		slog.String("message_id", messageID))
	return nil
}
