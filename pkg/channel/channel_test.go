package channel

import "testing"

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     *Message
		wantErr bool
	}{
		{"call", NewCall(1, "extensions", "allocateWorker", nil), false},
		{"call without method", &Message{Type: KindCall, ID: 1, Service: "extensions"}, true},
		{"call without service", &Message{Type: KindCall, ID: 1, Method: "m"}, true},
		{"result with nil value", NewResult(2, nil), false},
		{"error", NewError(3, "boom"), false},
		{"error without description", &Message{Type: KindError, ID: 3}, true},
		{"unknown type", &Message{Type: "ping", ID: 4}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("channel:channel_test - Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewError_EmptyDescription(t *testing.T) {
	m := NewError(5, "")
	if m.Error == "" {
		t.Fatal("channel:channel_test - expected a non-empty description")
	}
	if err := m.Validate(); err != nil {
		t.Errorf("channel:channel_test - unexpected error: %v", err)
	}
}
