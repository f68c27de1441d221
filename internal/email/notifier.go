package email

import (
	"context"
	"fmt"
	"time"

	"github.com/freeflowhq/billing-engine/internal/domain/invoice"
	"github.com/freeflowhq/billing-engine/internal/logger"
)

// Notifier sends customer-facing billing notifications. All sends are best
// effort: failures are logged and swallowed so a broken email provider never
// blocks a payment attempt or a state transition.
type Notifier interface {
	PaymentFailed(ctx context.Context, toAddress string, inv *invoice.Invoice)
	CardUpdateRequired(ctx context.Context, toAddress string, inv *invoice.Invoice)
}

type notifier struct {
	email  *Email
	logger *logger.Logger
}

// NewNotifier creates the email-backed billing notifier
func NewNotifier(email *Email, log *logger.Logger) Notifier {
	return &notifier{
		email:  email,
		logger: log,
	}
}

func (n *notifier) PaymentFailed(ctx context.Context, toAddress string, inv *invoice.Invoice) {
	if toAddress == "" {
		n.logger.Debugw("no customer email on file, skipping payment failed notification",
			"invoice_id", inv.ID)
		return
	}

	data := map[string]interface{}{
		"invoice_number": inv.InvoiceNumber,
		"amount":         inv.AmountRemaining.String(),
		"currency":       inv.Currency,
	}
	if inv.NextAttemptAt != nil {
		data["next_attempt_at"] = inv.NextAttemptAt.UTC().Format(time.RFC1123)
	}

	_, err := n.email.SendEmailWithTemplate(ctx, SendEmailWithTemplateRequest{
		ToAddress:    toAddress,
		Subject:      fmt.Sprintf("Payment failed for invoice %s", inv.InvoiceNumber),
		TemplatePath: "payment-failed-email.html",
		Data:         data,
	})
	if err != nil {
		n.logger.Errorw("failed to send payment failed notification",
			"invoice_id", inv.ID,
			"error", err)
	}
}

func (n *notifier) CardUpdateRequired(ctx context.Context, toAddress string, inv *invoice.Invoice) {
	if toAddress == "" {
		n.logger.Debugw("no customer email on file, skipping card update notification",
			"invoice_id", inv.ID)
		return
	}

	_, err := n.email.SendEmailWithTemplate(ctx, SendEmailWithTemplateRequest{
		ToAddress:    toAddress,
		Subject:      "Action required: update your payment method",
		TemplatePath: "card-update-email.html",
		Data: map[string]interface{}{
			"invoice_number": inv.InvoiceNumber,
		},
	})
	if err != nil {
		n.logger.Errorw("failed to send card update notification",
			"invoice_id", inv.ID,
			"error", err)
	}
}
