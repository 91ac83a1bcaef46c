package orders

type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusConfirmed      Status = "CONFIRMED"
	StatusPaymentFailed  Status = "PAYMENT_FAILED"
	StatusProcessing     Status = "PROCESSING"
	StatusShipped        Status = "SHIPPED"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
	StatusRefunded       Status = "REFUNDED"
)

var validNext = map[Status]map[Status]bool{
	StatusCreated:        {StatusPendingPayment: true, StatusCancelled: true},
	StatusPendingPayment: {StatusConfirmed: true, StatusPaymentFailed: true, StatusCancelled: true},
	StatusPaymentFailed:  {StatusCancelled: true},
	StatusConfirmed:      {StatusProcessing: true, StatusCancelled: true, StatusRefunded: true},
	StatusProcessing:     {StatusShipped: true, StatusRefunded: true},
	StatusShipped:        {StatusDelivered: true, StatusRefunded: true},
	StatusDelivered:      {},
	StatusCancelled:      {},
	StatusRefunded:       {},
}

// TerminalStatuses are eligible for retention sweeps.
var TerminalStatuses = []Status{StatusDelivered, StatusCancelled, StatusRefunded}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}
