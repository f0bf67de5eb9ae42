package extension

import (
	"context"
	"fmt"

	"github.com/morezero/extension-workers/pkg/dispatcher"
)

// NewService builds the dispatcher service for an extension: methods keyed
// by opcode plus getInfo. Every runnable block must have a method.
func NewService(info Info, methods dispatcher.Service) (dispatcher.Service, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	svc := make(dispatcher.Service, len(methods)+1)
	for _, opcode := range info.Opcodes() {
		m, ok := methods[opcode]
		if !ok || m == nil {
			return nil, fmt.Errorf("extension %s: no method for opcode %s", info.ID, opcode)
		}
		svc[opcode] = m
	}
	if _, ok := methods[MethodGetInfo]; ok {
		return nil, fmt.Errorf("extension %s: %s is reserved", info.ID, MethodGetInfo)
	}
	svc[MethodGetInfo] = func(context.Context, []interface{}) (interface{}, error) {
		return info, nil
	}
	return svc, nil
}
