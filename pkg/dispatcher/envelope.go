// Package dispatcher layers request/response calls over a channel.Channel:
// outgoing calls are correlated by ID and resolved through futures, incoming
// calls are routed to locally registered services.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error descriptions sent back for calls that cannot be routed.
const (
	descServiceNotFound = "service not found"
	descMethodNotFound  = "method not found"
)

var (
	// ErrChannelClosed rejects calls that were pending when the channel went away.
	ErrChannelClosed = errors.New("dispatcher: channel closed")
	// ErrServiceExists is returned by SetService for a name already taken.
	ErrServiceExists = errors.New("dispatcher: service already registered")
	// ErrInvalidService is returned by SetService for an unusable service.
	ErrInvalidService = errors.New("dispatcher: invalid service")
)

// Method is one invocable entry of a service. Arguments arrive as decoded
// wire values (strings, float64 or integer numbers, bools, slices, maps).
type Method func(ctx context.Context, args []interface{}) (interface{}, error)

// Service maps method names to methods.
type Service map[string]Method

// RemoteError is a failure reported by the peer for one call.
type RemoteError struct {
	Service     string
	Method      string
	Description string
}

func (e *RemoteError) Error() string {
	return e.Description
}

// IsServiceNotFound reports whether err is the peer saying it has no such service.
func IsServiceNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && strings.HasPrefix(re.Description, descServiceNotFound)
}

// IsMethodNotFound reports whether err is the peer saying the service lacks the method.
func IsMethodNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && strings.HasPrefix(re.Description, descMethodNotFound)
}

func serviceNotFound(service string) string {
	return fmt.Sprintf("%s: %s", descServiceNotFound, service)
}

func methodNotFound(service, method string) string {
	return fmt.Sprintf("%s: %s.%s", descMethodNotFound, service, method)
}
