package testutil

import (
	"context"
	"sync"

	"github.com/freeflowhq/billing-engine/internal/domain/invoice"
)

// NotifierCall records one notification the fake notifier received
type NotifierCall struct {
	Kind      string
	ToAddress string
	InvoiceID string
}

// FakeNotifier is an email.Notifier that records calls instead of sending
type FakeNotifier struct {
	mu    sync.Mutex
	calls []NotifierCall
}

// NewFakeNotifier creates an empty fake notifier
func NewFakeNotifier() *FakeNotifier {
	return &FakeNotifier{}
}

func (n *FakeNotifier) PaymentFailed(_ context.Context, toAddress string, inv *invoice.Invoice) {
	n.record("payment_failed", toAddress, inv)
}

func (n *FakeNotifier) CardUpdateRequired(_ context.Context, toAddress string, inv *invoice.Invoice) {
	n.record("card_update_required", toAddress, inv)
}

func (n *FakeNotifier) record(kind, toAddress string, inv *invoice.Invoice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	call := NotifierCall{Kind: kind, ToAddress: toAddress}
	if inv != nil {
		call.InvoiceID = inv.ID
	}
	n.calls = append(n.calls, call)
}

// Calls returns all recorded notifications
func (n *FakeNotifier) Calls() []NotifierCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]NotifierCall{}, n.calls...)
}

// CallsOfKind returns recorded notifications of the given kind
func (n *FakeNotifier) CallsOfKind(kind string) []NotifierCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	var result []NotifierCall
	for _, c := range n.calls {
		if c.Kind == kind {
			result = append(result, c)
		}
	}
	return result
}
