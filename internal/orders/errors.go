package orders

import "errors"

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrAlreadyExists      = errors.New("order already exists")
	ErrInvalidOrder       = errors.New("invalid order")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrStaleWrite         = errors.New("stale write")
	ErrMaintenance        = errors.New("ordering is paused for maintenance")
	ErrPaymentInitiation  = errors.New("payment initiation failed")
	ErrRefundFailed       = errors.New("refund request failed")
	ErrRefundNotRequested = errors.New("refund not requested")
	ErrReservationTimeout = errors.New("reservation timeout")
)
