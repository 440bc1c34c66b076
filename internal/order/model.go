package order

import (
	"errors"
	"fmt"
	"time"
)

// Status enumerates the order lifecycle states this service transitions.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ErrNotFound is returned when an order id does not resolve to a stored order.
var ErrNotFound = errors.New("order: not found")

// Order is the slice of the platform order this service reads and transitions.
// Amounts are stored in minor units (cents).
type Order struct {
	ID         int64
	TotalMinor int64
	Currency   string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AmountString renders the order total as a fixed two-decimal string with no
// thousands separator, the format the gateway expects.
func (o Order) AmountString() string {
	minor := o.TotalMinor
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// Description is the human-readable order reference sent to the gateway.
func (o Order) Description() string {
	return fmt.Sprintf("Order #%d", o.ID)
}
