package payment

import (
	"context"
	"errors"
)

var (
	ErrUnknownProvider   = errors.New("unknown payment provider")
	ErrUnsupportedMethod = errors.New("unsupported payment method")
	ErrUnknownReference  = errors.New("unknown provider reference")
)

type Method string

const (
	MethodMobileMoneyA  Method = "mobile_money_a"
	MethodMobileMoneyB  Method = "mobile_money_b"
	MethodAggregatorPay Method = "aggregator_pay"
	MethodUSSD          Method = "ussd"
	MethodCard          Method = "card"
)

var Methods = []Method{MethodMobileMoneyA, MethodMobileMoneyB, MethodAggregatorPay, MethodUSSD, MethodCard}

func (m Method) Valid() bool {
	for _, x := range Methods {
		if m == x {
			return true
		}
	}
	return false
}

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeRefunded  Outcome = "refunded"
	OutcomePending   Outcome = "pending"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSucceeded, OutcomeFailed, OutcomeRefunded, OutcomePending:
		return true
	}
	return false
}

type InitiateRequest struct {
	OrderID string
	Amount  int64
	Method  Method
}

// Gateway is one payment provider. Outcomes of Initiate and Refund arrive
// later as provider callbacks.
type Gateway interface {
	ID() string
	Initiate(ctx context.Context, req InitiateRequest) (providerRef string, err error)
	Refund(ctx context.Context, providerRef string, amount int64) error
}

// Verifier is implemented by providers that expose a status query endpoint.
type Verifier interface {
	Verify(ctx context.Context, providerRef string) (Verification, error)
}

type Verification struct {
	Outcome          Outcome
	Amount           int64
	PaymentReference string
}
