package order

import "fmt"

// DeliveryStatus is the fulfillment state of a single sub-order. Each store's
// sub-order moves through the states independently of its siblings.
type DeliveryStatus string

const (
	DeliveryOrderPlaced    DeliveryStatus = "Order Placed"
	DeliveryProcessing     DeliveryStatus = "Processing"
	DeliveryShipped        DeliveryStatus = "Shipped"
	DeliveryOutForDelivery DeliveryStatus = "Out for Delivery"
	DeliveryDelivered      DeliveryStatus = "Delivered"
	DeliveryCanceled       DeliveryStatus = "Canceled"
	DeliveryFailed         DeliveryStatus = "Failed Delivery"
	DeliveryReturned       DeliveryStatus = "Returned"
	DeliveryRefunded       DeliveryStatus = "Refunded"
)

// validDeliveryNext encodes the delivery state machine. Canceled and
// Failed Delivery branch off every pre-delivery state; Delivered permits the
// post-delivery reversals Returned and Refunded. Everything else is terminal.
var validDeliveryNext = map[DeliveryStatus]map[DeliveryStatus]bool{
	DeliveryOrderPlaced:    {DeliveryProcessing: true, DeliveryCanceled: true, DeliveryFailed: true},
	DeliveryProcessing:     {DeliveryShipped: true, DeliveryCanceled: true, DeliveryFailed: true},
	DeliveryShipped:        {DeliveryOutForDelivery: true, DeliveryCanceled: true, DeliveryFailed: true},
	DeliveryOutForDelivery: {DeliveryDelivered: true, DeliveryCanceled: true, DeliveryFailed: true},
	DeliveryDelivered:      {DeliveryReturned: true, DeliveryRefunded: true},
	DeliveryCanceled:       {},
	DeliveryFailed:         {},
	DeliveryReturned:       {},
	DeliveryRefunded:       {},
}

// CanTransitionDelivery reports whether a sub-order may move from one
// delivery status to another.
func CanTransitionDelivery(from, to DeliveryStatus) bool {
	return validDeliveryNext[from][to]
}

// PayoutStatus is the settlement state of a sub-order, independent of its
// delivery lifecycle. The zero value means the store has not requested a
// payout yet.
type PayoutStatus string

const (
	PayoutUnset      PayoutStatus = ""
	PayoutRequested  PayoutStatus = "Requested"
	PayoutProcessing PayoutStatus = "Processing"
	PayoutPaid       PayoutStatus = "Paid"
	PayoutFailed     PayoutStatus = "Failed"
)

var validPayoutNext = map[PayoutStatus]map[PayoutStatus]bool{
	PayoutUnset:      {PayoutRequested: true},
	PayoutRequested:  {PayoutProcessing: true, PayoutFailed: true},
	PayoutProcessing: {PayoutPaid: true, PayoutFailed: true},
	PayoutPaid:       {},
	PayoutFailed:     {},
}

// CanTransitionPayout reports whether a sub-order may move from one payout
// status to another.
func CanTransitionPayout(from, to PayoutStatus) bool {
	return validPayoutNext[from][to]
}

// InvalidTransitionError indicates a rejected lifecycle transition.
type InvalidTransitionError struct {
	From, To string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %q to %q", e.From, e.To)
}
