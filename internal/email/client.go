package email

import (
	"context"

	"github.com/freeflowhq/billing-engine/internal/config"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/resend/resend-go/v2"
)

// EmailClient wraps the resend API client. When disabled (no API key or
// explicitly off in config) sends become no-ops so local and test
// deployments never need provider credentials.
type EmailClient struct {
	client      *resend.Client
	fromAddress string
	enabled     bool
}

// NewEmailClient creates the resend-backed email client
func NewEmailClient(cfg *config.Configuration) *EmailClient {
	enabled := cfg.Email.Enabled && cfg.Email.APIKey != ""

	var client *resend.Client
	if enabled {
		client = resend.NewClient(cfg.Email.APIKey)
	}

	return &EmailClient{
		client:      client,
		fromAddress: cfg.Email.FromAddress,
		enabled:     enabled,
	}
}

func (c *EmailClient) IsEnabled() bool {
	return c.enabled
}

func (c *EmailClient) GetFromAddress() string {
	return c.fromAddress
}

// SendEmail sends a single email and returns the provider message id.
// Either html or text may be empty; html wins when both are set.
func (c *EmailClient) SendEmail(ctx context.Context, from, to, subject, html, text string) (string, error) {
	params := &resend.SendEmailRequest{
		From:    from,
		To:      []string{to},
		Subject: subject,
		Html:    html,
		Text:    text,
	}

	sent, err := c.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("Email provider rejected the send").
			WithReportableDetails(map[string]interface{}{
				"to":      to,
				"subject": subject,
			}).
			Mark(ierr.ErrHTTPClient)
	}

	return sent.Id, nil
}
