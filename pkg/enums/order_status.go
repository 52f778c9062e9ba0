package enums

import "fmt"

// OrderStatus is the estadopedido column of pedidos. Values are stored
// verbatim, accents included.
type OrderStatus string

const (
	OrderStatusAwaitingConfirmation OrderStatus = "Esperando confirmación"
	OrderStatusConfirmed            OrderStatus = "Pedido confirmado"
	OrderStatusShipped              OrderStatus = "Pedido enviado"
	OrderStatusDelivered            OrderStatus = "Pedido entregado"
	OrderStatusCancelled            OrderStatus = "Pedido cancelado"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusAwaitingConfirmation,
	OrderStatusConfirmed,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// next lists the forward step of each non-terminal status.
var next = map[OrderStatus]OrderStatus{
	OrderStatusAwaitingConfirmation: OrderStatusConfirmed,
	OrderStatusConfirmed:            OrderStatusShipped,
	OrderStatusShipped:              OrderStatusDelivered,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo reports whether target is reachable from s in one step.
// Cancellation is allowed from every non-terminal status.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	if !s.IsValid() || !target.IsValid() || s.IsTerminal() {
		return false
	}
	if target == OrderStatusCancelled {
		return true
	}
	return next[s] == target
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
