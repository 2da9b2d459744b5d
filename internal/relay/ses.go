package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESAPI is the subset of the SES v2 client used by the relay
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// SESConfig configures the Amazon SES relay
type SESConfig struct {
	Region         string
	AccessKey      string
	SecretKey      string
	MaxConnections int
	// ConfigurationSet is attached to every message when set
	ConfigurationSet string
}

// SESRelay delivers raw MIME messages through the Amazon SES v2 API
type SESRelay struct {
	cfg    SESConfig
	client SESAPI
	logger *slog.Logger
}

// NewSESRelay creates an SES relay. Static credentials are used when both keys are
// configured, otherwise the default AWS credential chain applies.
func NewSESRelay(ctx context.Context, cfg SESConfig, logger *slog.Logger) (*SESRelay, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return NewSESRelayWithClient(cfg, sesv2.NewFromConfig(awsCfg), logger), nil
}

// NewSESRelayWithClient creates an SES relay around an existing client
func NewSESRelayWithClient(cfg SESConfig, client SESAPI, logger *slog.Logger) *SESRelay {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	return &SESRelay{cfg: cfg, client: client, logger: logger}
}

// Name implements Relay
func (r *SESRelay) Name() string { return "ses" }

// Limits implements Relay. SES has no per-connection message cap.
func (r *SESRelay) Limits() Limits {
	return Limits{MaxConnections: r.cfg.MaxConnections}
}

// Validate implements Relay
func (r *SESRelay) Validate() error {
	if r.cfg.Region == "" {
		return errors.New("ses region is required")
	}
	if (r.cfg.AccessKey == "") != (r.cfg.SecretKey == "") {
		return errors.New("ses access_key and secret_key must be set together")
	}
	return nil
}

// Verify implements Relay by checking that sending is enabled for the account
func (r *SESRelay) Verify(ctx context.Context) error {
	out, err := r.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return classifySESError(err, "GetAccount")
	}
	if !out.SendingEnabled {
		return &DeliveryError{Temporary: false, Message: "ses sending is disabled for this account"}
	}
	return nil
}

// Send implements Relay
func (r *SESRelay) Send(ctx context.Context, msg *Message) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: msg.Data},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("newsletter_id"), Value: aws.String(sesTagValue(msg.NewsletterID))},
			{Name: aws.String("recipient_id"), Value: aws.String(sesTagValue(msg.RecipientID))},
		},
	}
	if r.cfg.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(r.cfg.ConfigurationSet)
	}

	out, err := r.client.SendEmail(ctx, input)
	if err != nil {
		return classifySESError(err, "SendEmail")
	}

	r.logger.Debug("message relayed",
		"newsletter_id", msg.NewsletterID,
		"recipient_id", msg.RecipientID,
		"ses_message_id", aws.ToString(out.MessageId),
	)
	return nil
}

// Close implements Relay
func (r *SESRelay) Close() error { return nil }

// classifySESError maps SES exceptions to delivery errors: throttling is
// temporary, rejections and account problems are permanent
func classifySESError(err error, op string) *DeliveryError {
	msg := fmt.Sprintf("%s failed: %v", op, err)

	var (
		tooMany    *types.TooManyRequestsException
		limit      *types.LimitExceededException
		rejected   *types.MessageRejected
		notVerify  *types.MailFromDomainNotVerifiedException
		suspended  *types.AccountSuspendedException
		paused     *types.SendingPausedException
		badRequest *types.BadRequestException
	)
	switch {
	case errors.As(err, &tooMany), errors.As(err, &limit):
		return &DeliveryError{Temporary: true, Message: msg}
	case errors.As(err, &rejected), errors.As(err, &notVerify),
		errors.As(err, &suspended), errors.As(err, &paused), errors.As(err, &badRequest):
		return &DeliveryError{Temporary: false, Message: msg}
	}
	return &DeliveryError{Temporary: true, Message: msg}
}

// sesTagValue keeps tag values within the characters SES accepts
func sesTagValue(v string) string {
	if v == "" {
		return "none"
	}
	out := []rune(v)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
