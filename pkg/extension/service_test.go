package extension

import (
	"context"
	"strings"
	"testing"

	"github.com/morezero/extension-workers/pkg/dispatcher"
)

func TestNewService(t *testing.T) {
	info := Info{ID: "demo", Name: "Demo", Blocks: []Block{
		{Opcode: "hello", BlockType: BlockReporter, Text: "hello"},
	}}
	hello := func(context.Context, []interface{}) (interface{}, error) { return "hi", nil }

	svc, err := NewService(info, dispatcher.Service{"hello": hello})
	if err != nil {
		t.Fatalf("extension:service_test - NewService: %v", err)
	}
	if len(svc) != 2 {
		t.Errorf("extension:service_test - methods = %d, want 2", len(svc))
	}
	got, err := svc[MethodGetInfo](context.Background(), nil)
	if err != nil || got.(Info).ID != "demo" {
		t.Errorf("extension:service_test - getInfo = %v, %v", got, err)
	}

	tests := []struct {
		name    string
		methods dispatcher.Service
		want    string
	}{
		{"missing method", dispatcher.Service{}, "no method for opcode"},
		{"reserved getInfo", dispatcher.Service{"hello": hello, MethodGetInfo: hello}, "reserved"},
	}
	for _, tt := range tests {
		if _, err := NewService(info, tt.methods); err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("extension:service_test - %s: err = %v", tt.name, err)
		}
	}
}
