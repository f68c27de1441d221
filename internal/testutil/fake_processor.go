package testutil

import (
	"context"
	"sync"

	"github.com/freeflowhq/billing-engine/internal/domain/payment"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
)

// FakeProcessor is a scriptable payment.Processor. Tests enqueue outcomes
// with Script; each charge consumes the next scripted result. When the
// script runs out every charge succeeds. Results are replayed for repeated
// idempotency keys so the fake honors the processor contract.
type FakeProcessor struct {
	mu      sync.Mutex
	script  []payment.ChargeResult
	seen    map[string]payment.ChargeResult
	charges []payment.ChargeRequest
}

// NewFakeProcessor creates a fake processor that succeeds by default
func NewFakeProcessor() *FakeProcessor {
	return &FakeProcessor{
		seen: make(map[string]payment.ChargeResult),
	}
}

// Script enqueues charge outcomes to be returned in order
func (p *FakeProcessor) Script(results ...payment.ChargeResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, results...)
}

// ScriptDecline enqueues a declined charge with the given reason
func (p *FakeProcessor) ScriptDecline(reason types.DeclineReason) {
	p.Script(payment.ChargeResult{
		Outcome:       types.ChargeOutcomeDeclined,
		DeclineReason: reason,
	})
}

func (p *FakeProcessor) Charge(_ context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	if req.IdempotencyKey == "" {
		return nil, ierr.NewError("idempotency key is required").
			WithHint("Charges must carry an idempotency key").
			Mark(ierr.ErrValidation)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if result, ok := p.seen[req.IdempotencyKey]; ok {
		return &result, nil
	}

	p.charges = append(p.charges, req)

	result := payment.ChargeResult{
		Outcome:       types.ChargeOutcomeSucceeded,
		AmountCharged: req.Amount,
		ProviderRef:   "ch_" + req.IdempotencyKey,
	}
	if len(p.script) > 0 {
		result = p.script[0]
		p.script = p.script[1:]
		if result.Outcome == types.ChargeOutcomeSucceeded && result.AmountCharged.IsZero() {
			result.AmountCharged = req.Amount
		}
	}

	// Transient failures are not terminal; the same key may be retried and
	// must be allowed to consume the next scripted result.
	if result.Outcome != types.ChargeOutcomeTransient {
		p.seen[req.IdempotencyKey] = result
	}
	return &result, nil
}

// Charges returns the distinct charge requests the processor received
func (p *FakeProcessor) Charges() []payment.ChargeRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]payment.ChargeRequest{}, p.charges...)
}

// ChargeCount returns how many distinct charges were attempted
func (p *FakeProcessor) ChargeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.charges)
}
