package enums

import "testing"

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{OrderStatusAwaitingConfirmation, OrderStatusConfirmed, true},
		{OrderStatusConfirmed, OrderStatusShipped, true},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusAwaitingConfirmation, OrderStatusCancelled, true},
		{OrderStatusShipped, OrderStatusCancelled, true},
		{OrderStatusAwaitingConfirmation, OrderStatusShipped, false},
		{OrderStatusConfirmed, OrderStatusAwaitingConfirmation, false},
		{OrderStatusDelivered, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusConfirmed, false},
		{OrderStatus("bogus"), OrderStatusConfirmed, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Fatalf("%q -> %q: expected %v got %v", tt.from, tt.to, tt.allowed, got)
		}
	}
}

func TestParseOrderStatus(t *testing.T) {
	status, err := ParseOrderStatus("Esperando confirmación")
	if err != nil || status != OrderStatusAwaitingConfirmation {
		t.Fatalf("unexpected parse result %q %v", status, err)
	}
	if _, err := ParseOrderStatus("esperando confirmacion"); err == nil {
		t.Fatalf("expected exact match to be required")
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" Admin ")
	if err != nil || role != RoleAdmin {
		t.Fatalf("unexpected role %q %v", role, err)
	}
	if _, err := ParseRole("owner"); err == nil {
		t.Fatalf("expected invalid role error")
	}
}
