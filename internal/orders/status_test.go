package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := map[Status][]Status{
		StatusCreated:        {StatusPendingPayment, StatusCancelled},
		StatusPendingPayment: {StatusConfirmed, StatusPaymentFailed, StatusCancelled},
		StatusPaymentFailed:  {StatusCancelled},
		StatusConfirmed:      {StatusProcessing, StatusCancelled, StatusRefunded},
		StatusProcessing:     {StatusShipped, StatusRefunded},
		StatusShipped:        {StatusDelivered, StatusRefunded},
	}
	all := []Status{
		StatusCreated, StatusPendingPayment, StatusConfirmed, StatusPaymentFailed, StatusProcessing,
		StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded,
	}

	for _, from := range all {
		ok := map[Status]bool{}
		for _, to := range allowed[from] {
			ok[to] = true
		}
		for _, to := range all {
			assert.Equal(t, ok[to], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range TerminalStatuses {
		assert.True(t, s.Terminal(), s)
	}
	assert.False(t, StatusShipped.Terminal())
	assert.False(t, Status("LOST").Valid())
	assert.False(t, Status("LOST").Terminal())
}
