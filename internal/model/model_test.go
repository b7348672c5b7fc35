package model

import "testing"

func TestTerminal(t *testing.T) {
	tests := []struct {
		status   DeliveryStatus
		terminal bool
	}{
		{DeliveryPending, false},
		{DeliveryProcessing, false},
		{DeliveryDelivered, true},
		{DeliveryFailed, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    DeliveryStatus
		to      DeliveryStatus
		allowed bool
	}{
		{"claim for first attempt", DeliveryPending, DeliveryProcessing, true},
		{"pending cannot jump to delivered", DeliveryPending, DeliveryDelivered, false},
		{"pending cannot jump to failed", DeliveryPending, DeliveryFailed, false},
		{"failed attempt stays in flight", DeliveryProcessing, DeliveryProcessing, true},
		{"processing does not revert to pending", DeliveryProcessing, DeliveryPending, false},
		{"successful attempt", DeliveryProcessing, DeliveryDelivered, true},
		{"budget exhausted", DeliveryProcessing, DeliveryFailed, true},
		{"delivered is final", DeliveryDelivered, DeliveryProcessing, false},
		{"delivered cannot fail", DeliveryDelivered, DeliveryFailed, false},
		{"failed is final", DeliveryFailed, DeliveryProcessing, false},
		{"failed cannot deliver", DeliveryFailed, DeliveryDelivered, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.allowed {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestAcceptsEventType(t *testing.T) {
	tests := []struct {
		name      string
		types     []string
		eventType string
		want      bool
	}{
		{"empty filter accepts anything", nil, "order.created", true},
		{"empty filter accepts untagged", nil, "", true},
		{"listed type accepted", []string{"order.created", "order.updated"}, "order.updated", true},
		{"unlisted type rejected", []string{"order.created"}, "user.created", false},
		{"untagged event bypasses filter", []string{"order.created"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &Subscription{EventTypes: tt.types}
			if got := sub.AcceptsEventType(tt.eventType); got != tt.want {
				t.Errorf("AcceptsEventType(%q) = %v, want %v", tt.eventType, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	short := "response body"
	if got := Truncate(short); got != short {
		t.Errorf("Truncate() modified a short string: %q", got)
	}

	long := make([]byte, SnippetLimit+500)
	for i := range long {
		long[i] = 'x'
	}
	if got := Truncate(string(long)); len(got) != SnippetLimit {
		t.Errorf("Truncate() length = %d, want %d", len(got), SnippetLimit)
	}
}
