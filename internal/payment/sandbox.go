package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type sandboxPayment struct {
	orderID         string
	amount          int64
	outcome         Outcome
	paymentRef      string
	refundRequested bool
}

// Sandbox is an in-process provider for local runs and tests. Payments stay
// pending until Settle is called.
type Sandbox struct {
	id       string
	mu       sync.Mutex
	payments map[string]*sandboxPayment
	// FailInitiate makes Initiate return this error when set.
	FailInitiate error
}

func NewSandbox(id string) *Sandbox {
	return &Sandbox{id: id, payments: map[string]*sandboxPayment{}}
}

func (s *Sandbox) ID() string { return s.id }

func (s *Sandbox) Initiate(_ context.Context, req InitiateRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInitiate != nil {
		return "", s.FailInitiate
	}
	ref := s.id + "-" + uuid.NewString()
	s.payments[ref] = &sandboxPayment{orderID: req.OrderID, amount: req.Amount, outcome: OutcomePending}
	return ref, nil
}

func (s *Sandbox) Refund(_ context.Context, providerRef string, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[providerRef]
	if !ok {
		return ErrUnknownReference
	}
	p.refundRequested = true
	return nil
}

func (s *Sandbox) Verify(_ context.Context, providerRef string) (Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[providerRef]
	if !ok {
		return Verification{}, ErrUnknownReference
	}
	return Verification{Outcome: p.outcome, Amount: p.amount, PaymentReference: p.paymentRef}, nil
}

// Settle records the provider-side outcome of a payment and returns the
// payment reference the provider would put on its callback.
func (s *Sandbox) Settle(providerRef string, outcome Outcome, amount int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[providerRef]
	if !ok {
		return "", ErrUnknownReference
	}
	p.outcome = outcome
	p.amount = amount
	if p.paymentRef == "" {
		p.paymentRef = "pay-" + uuid.NewString()
	}
	return p.paymentRef, nil
}

// RefundRequested reports whether Refund was called for providerRef.
func (s *Sandbox) RefundRequested(providerRef string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[providerRef]
	return ok && p.refundRequested
}
