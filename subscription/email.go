package subscription

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/matcornic/hermes/v2"
	"github.com/pkg/errors"

	"github.com/quantonganh/optin"
)

const tokenParam = "subscription_token"

// Message is a rendered email ready for a NotificationGateway.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

// Composer renders the emails sent to subscribers.
type Composer struct {
	hermes  hermes.Hermes
	product string
	baseURL string
}

// NewComposer returns a Composer whose links point at baseURL.
func NewComposer(product, productLink, baseURL string) *Composer {
	return &Composer{
		hermes: hermes.Hermes{
			Product: hermes.Product{
				Name: product,
				Link: productLink,
			},
		},
		product: product,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// ConfirmationLink returns the link that confirms the subscription owning token.
func (c *Composer) ConfirmationLink(token optin.Token) string {
	return c.link("/subscriptions/confirm", token)
}

// RevocationLink returns the link that revokes the subscription owning token.
func (c *Composer) RevocationLink(token optin.Token) string {
	return c.link("/subscriptions/revoke", token)
}

func (c *Composer) link(path string, token optin.Token) string {
	q := url.Values{}
	q.Set(tokenParam, token.String())
	return c.baseURL + path + "?" + q.Encode()
}

// Welcome renders the email asking a subscriber to confirm.
func (c *Composer) Welcome(name optin.Name, token optin.Token) (*Message, error) {
	email := hermes.Email{
		Body: hermes.Body{
			Name: name.String(),
			Intros: []string{
				fmt.Sprintf("Welcome to %s!", c.product),
			},
			Actions: []hermes.Action{
				{
					Instructions: "To start receiving the newsletter, please confirm your subscription:",
					Button: hermes.Button{
						Color: "#22BC66",
						Text:  "Confirm your subscription",
						Link:  c.ConfirmationLink(token),
					},
				},
				{
					Instructions: "Changed your mind? You can revoke your subscription at any time:",
					Button: hermes.Button{
						Color: "#DC4D2F",
						Text:  "Unsubscribe",
						Link:  c.RevocationLink(token),
					},
				},
			},
			Outros: []string{
				"If you did not ask to subscribe, you can ignore this email.",
			},
		},
	}

	htmlBody, err := c.hermes.GenerateHTML(email)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate HTML email")
	}
	textBody, err := c.hermes.GeneratePlainText(email)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate plain text email")
	}

	return &Message{
		Subject: fmt.Sprintf("Confirm your subscription to %s", c.product),
		HTML:    htmlBody,
		Text:    textBody,
	}, nil
}

// Newsletter adds a revocation link to issue for the subscriber owning token.
// In a full HTML document the link goes right before the closing body tag.
func (c *Composer) Newsletter(issue *optin.Issue, token optin.Token) *Message {
	link := c.RevocationLink(token)
	footer := fmt.Sprintf(`<p style="font-size:12px"><a href="%s">Unsubscribe</a></p>`, html.EscapeString(link))

	return &Message{
		Subject: issue.Subject,
		HTML:    insertFooter(issue.HTML, footer),
		Text:    issue.Text + "\n\nUnsubscribe: " + link + "\n",
	}
}

var closingBody = regexp.MustCompile(`(?i)</body\s*>`)

func insertFooter(body, footer string) string {
	locs := closingBody.FindAllStringIndex(body, -1)
	if len(locs) == 0 {
		return body + footer
	}
	i := locs[len(locs)-1][0]
	return body[:i] + footer + body[i:]
}
