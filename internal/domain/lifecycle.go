package domain

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPendingTrigger  OrderStatus = "PENDING_TRIGGER"
	OrderStatusActive          OrderStatus = "ACTIVE"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// AllOrderStatuses lists every status in lifecycle order.
var AllOrderStatuses = []OrderStatus{
	OrderStatusNew,
	OrderStatusPendingTrigger,
	OrderStatusActive,
	OrderStatusPartiallyFilled,
	OrderStatusFilled,
	OrderStatusCancelled,
	OrderStatusRejected,
	OrderStatusExpired,
}

var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusNew: {
		OrderStatusActive:         true,
		OrderStatusRejected:       true,
		OrderStatusCancelled:      true,
		OrderStatusPendingTrigger: true,
	},
	OrderStatusPendingTrigger: {
		OrderStatusActive:    true,
		OrderStatusCancelled: true,
		OrderStatusExpired:   true,
	},
	OrderStatusActive: {
		OrderStatusPartiallyFilled: true,
		OrderStatusFilled:          true,
		OrderStatusCancelled:       true,
		OrderStatusExpired:         true,
	},
	OrderStatusPartiallyFilled: {
		OrderStatusFilled:    true,
		OrderStatusCancelled: true,
	},
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	for _, v := range AllOrderStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle table allows s → next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return allowedTransitions[s][next]
}

// IsMatchable reports whether orders in s are eligible for the matching path.
func (s OrderStatus) IsMatchable() bool {
	switch s {
	case OrderStatusNew, OrderStatusActive, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// IsResting reports whether orders in s are open on the market.
func (s OrderStatus) IsResting() bool {
	return s == OrderStatusActive || s == OrderStatusPartiallyFilled
}

// CanCancel reports whether the order may be cancelled in its current state.
func (o *Order) CanCancel() bool {
	switch o.Status {
	case OrderStatusNew, OrderStatusActive, OrderStatusPartiallyFilled, OrderStatusPendingTrigger:
		return true
	}
	return false
}

// CanUpdate reports whether price or quantity may be amended.
func (o *Order) CanUpdate() bool {
	return o.Status == OrderStatusActive || o.Status == OrderStatusPartiallyFilled
}

// TransitionTo moves the order to next, or returns an *InvalidTransitionError
// leaving the order untouched.
func (o *Order) TransitionTo(next OrderStatus) error {
	if !o.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{OrderID: o.OrderID, From: o.Status, To: next}
	}
	o.Status = next
	return nil
}

// FillStatus returns the status an order in the resting path should hold
// for its current filled quantity.
func (o *Order) FillStatus() OrderStatus {
	switch {
	case o.FilledQuantity >= o.Quantity:
		return OrderStatusFilled
	case o.FilledQuantity > 0:
		return OrderStatusPartiallyFilled
	default:
		return OrderStatusActive
	}
}
