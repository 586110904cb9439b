package mailer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/abc-bedarieux/newsletter/internal/config"
	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
)

// sesAPI is the subset of *sesv2.Client used here.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESTransport sends through Amazon SES v2.
type SESTransport struct {
	client           sesAPI
	configurationSet string
}

// NewSESTransport loads AWS config. Static keys are used when set, the
// default credential chain otherwise.
func NewSESTransport(ctx context.Context, cfg config.SESConfig) (*SESTransport, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ses: load aws config: %w", err)
	}
	return &SESTransport{client: sesv2.NewFromConfig(awsCfg), configurationSet: cfg.ConfigurationSet}, nil
}

// Send uses a simple message, or a raw MIME message built by gomail when
// the message carries attachments or custom headers.
func (t *SESTransport) Send(ctx context.Context, msg *domain.EmailMessage) (string, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(tagValue(msg.CampaignID))},
		},
	}
	if t.configurationSet != "" {
		input.ConfigurationSetName = aws.String(t.configurationSet)
	}

	if len(msg.Attachments) > 0 || len(msg.Headers) > 0 {
		m, _, err := buildMessage(msg)
		if err != nil {
			return "", err
		}
		var buf bytes.Buffer
		if _, err := m.WriteTo(&buf); err != nil {
			return "", fmt.Errorf("ses: build raw message: %w", err)
		}
		input.Content = &types.EmailContent{Raw: &types.RawMessage{Data: buf.Bytes()}}
	} else {
		if msg.To == "" {
			return "", ErrNoRecipient
		}
		body := &types.Body{
			Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
		}
		if msg.TextContent != "" {
			body.Text = &types.Content{Data: aws.String(msg.TextContent), Charset: aws.String("UTF-8")}
		}
		input.Content = &types.EmailContent{Simple: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body:    body,
		}}
		if msg.ReplyTo != "" {
			input.ReplyToAddresses = []string{msg.ReplyTo}
		}
	}

	out, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}
	id := aws.ToString(out.MessageId)
	logger.Debug("ses: sent", "to", msg.To, "message_id", id)
	return id, nil
}

// tagValue keeps SES tag values within [A-Za-z0-9_-].
func tagValue(s string) string {
	if s == "" {
		return "none"
	}
	b := []byte(s)
	for i, c := range b {
		ok := c == '-' || c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if !ok {
			b[i] = '_'
		}
	}
	return string(b)
}
