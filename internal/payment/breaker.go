package payment

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

func executeWithBreaker[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return *new(T), err
	}
	return res.(T), nil
}

type breakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker
}

type breakerVerifierGateway struct {
	breakerGateway
	verifier Verifier
}

// WithBreaker wraps g in a circuit breaker that opens after five consecutive
// failures. The result implements Verifier when g does.
func WithBreaker(g Gateway) Gateway {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gateway-" + g.ID(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
	})
	bg := breakerGateway{next: g, cb: cb}
	if v, ok := g.(Verifier); ok {
		return &breakerVerifierGateway{breakerGateway: bg, verifier: v}
	}
	return &bg
}

func (b *breakerGateway) ID() string { return b.next.ID() }

func (b *breakerGateway) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	return executeWithBreaker(b.cb, func() (string, error) {
		return b.next.Initiate(ctx, req)
	})
}

func (b *breakerGateway) Refund(ctx context.Context, providerRef string, amount int64) error {
	_, err := executeWithBreaker(b.cb, func() (struct{}, error) {
		return struct{}{}, b.next.Refund(ctx, providerRef, amount)
	})
	return err
}

func (b *breakerVerifierGateway) Verify(ctx context.Context, providerRef string) (Verification, error) {
	return executeWithBreaker(b.cb, func() (Verification, error) {
		return b.verifier.Verify(ctx, providerRef)
	})
}
