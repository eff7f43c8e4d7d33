package ses

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/quantonganh/optin"
)

const (
	defaultRegion  = "us-east-1"
	defaultTimeout = 10 * time.Second
	charset        = "UTF-8"
)

type client interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Gateway implements optin.NotificationGateway on top of AWS SES v2.
type Gateway struct {
	from    string
	timeout time.Duration
	client  client
}

// NewGateway loads the AWS configuration and returns a gateway. Static
// credentials are used when both keys are set, otherwise the default
// provider chain applies.
func NewGateway(ctx context.Context, config *optin.Config) (*Gateway, error) {
	region := config.SES.Region
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if config.SES.AccessKey != "" && config.SES.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.SES.AccessKey, config.SES.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "loading AWS config")
	}

	return newGateway(config, sesv2.NewFromConfig(awsCfg)), nil
}

func newGateway(config *optin.Config, c client) *Gateway {
	timeout := config.Email.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Gateway{
		from:    config.Email.From,
		timeout: timeout,
		client:  c,
	}
}

// SendEmail delivers a single message. The request runs on its own deadline
// so that a client hanging up does not abort a send already under way.
func (g *Gateway) SendEmail(ctx context.Context, recipient optin.Email, subject, htmlBody, textBody string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(g.from),
		Destination:      &types.Destination{ToAddresses: []string{recipient.String()}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String(charset)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(htmlBody), Charset: aws.String(charset)},
					Text: &types.Content{Data: aws.String(textBody), Charset: aws.String(charset)},
				},
			},
		},
	}

	out, err := g.client.SendEmail(ctx, input)
	if err != nil {
		return errors.Wrapf(err, "failed to send mail to %s", recipient)
	}

	zerolog.Ctx(ctx).Debug().Str("message_id", aws.ToString(out.MessageId)).Msg("Email accepted by SES")
	return nil
}
