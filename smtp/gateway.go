package smtp

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/gomail.v2"

	"github.com/quantonganh/optin"
)

const defaultTimeout = 10 * time.Second

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Gateway implements optin.NotificationGateway over SMTP.
type Gateway struct {
	from    string
	timeout time.Duration
	dialer  sender
}

// NewGateway returns a gateway using the SMTP settings in config.
func NewGateway(config *optin.Config) *Gateway {
	timeout := config.Email.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Gateway{
		from:    config.Email.From,
		timeout: timeout,
		dialer:  gomail.NewDialer(config.SMTP.Host, config.SMTP.Port, config.SMTP.Username, config.SMTP.Password),
	}
}

// SendEmail sends a multipart text/html message. The caller waits at most
// the configured timeout; a send already handed to the SMTP server runs to
// completion in the background.
//
// gomail sets no deadline on the connection once dialed, so a server that
// stalls mid-conversation keeps that background goroutine and its
// connection alive until the server replies or drops the connection.
func (g *Gateway) SendEmail(ctx context.Context, recipient optin.Email, subject, htmlBody, textBody string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "send aborted before dialing")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", g.from)
	m.SetHeader("To", recipient.String())
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)
	m.AddAlternative("text/html", htmlBody)

	done := make(chan error, 1)
	go func() {
		done <- g.dialer.DialAndSend(m)
	}()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return errors.Errorf("failed to send mail to %s: %v", recipient, err)
		}
		return nil
	case <-timer.C:
		return errors.Errorf("sending mail to %s timed out after %s", recipient, g.timeout)
	}
}
