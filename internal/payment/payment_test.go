package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyGateway struct {
	calls int
	err   error
}

func (f *flakyGateway) ID() string { return "flaky" }

func (f *flakyGateway) Initiate(context.Context, InitiateRequest) (string, error) {
	f.calls++
	return "", f.err
}

func (f *flakyGateway) Refund(context.Context, string, int64) error {
	f.calls++
	return f.err
}

func TestMethodValid(t *testing.T) {
	for _, m := range Methods {
		assert.True(t, m.Valid(), m)
	}
	assert.False(t, Method("cash").Valid())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	mm := NewSandbox("mm")
	r.Register(mm, MethodMobileMoneyA, MethodMobileMoneyB)

	g, err := r.ForMethod(MethodMobileMoneyB)
	require.NoError(t, err)
	assert.Equal(t, "mm", g.ID())

	_, err = r.ForMethod(MethodCard)
	assert.ErrorIs(t, err, ErrUnsupportedMethod)

	_, err = r.Provider("visa")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestSandboxLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewSandbox("ussd")

	ref, err := s.Initiate(ctx, InitiateRequest{OrderID: "o-1", Amount: 10_000, Method: MethodUSSD})
	require.NoError(t, err)

	v, err := s.Verify(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, v.Outcome)

	payRef, err := s.Settle(ref, OutcomeSucceeded, 10_000)
	require.NoError(t, err)
	again, err := s.Settle(ref, OutcomeSucceeded, 10_000)
	require.NoError(t, err)
	assert.Equal(t, payRef, again)

	v, err = s.Verify(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, Verification{Outcome: OutcomeSucceeded, Amount: 10_000, PaymentReference: payRef}, v)

	require.NoError(t, s.Refund(ctx, ref, 10_000))
	assert.True(t, s.RefundRequested(ref))

	_, err = s.Verify(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownReference)
}

func TestBreakerKeepsVerifier(t *testing.T) {
	wrapped := WithBreaker(NewSandbox("card"))
	_, ok := wrapped.(Verifier)
	assert.True(t, ok)

	plain := WithBreaker(&flakyGateway{})
	_, ok = plain.(Verifier)
	assert.False(t, ok)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyGateway{err: errors.New("provider down")}
	g := WithBreaker(inner)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := g.Initiate(ctx, InitiateRequest{OrderID: "o"})
		require.Error(t, err)
	}
	_, err := g.Initiate(ctx, InitiateRequest{OrderID: "o"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 5, inner.calls)
}
