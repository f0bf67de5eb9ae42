// Package channel defines the message-passing endpoint shared by the host and
// its extension workers, and the transports that implement it.
package channel

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Send once the channel has been torn down.
var ErrClosed = errors.New("channel closed")

// Kind discriminates the three message shapes.
type Kind string

const (
	KindCall   Kind = "call"
	KindResult Kind = "result"
	KindError  Kind = "error"
)

// Message is the tagged union carried on a channel.
//
//	call   {id, service, method, args}
//	result {id, value}
//	error  {id, error}
type Message struct {
	Type    Kind          `json:"type"`
	ID      int64         `json:"id"`
	Service string        `json:"service,omitempty"`
	Method  string        `json:"method,omitempty"`
	Args    []interface{} `json:"args,omitempty"`
	Value   interface{}   `json:"value,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// NewCall builds a call message.
func NewCall(id int64, service, method string, args []interface{}) *Message {
	return &Message{Type: KindCall, ID: id, Service: service, Method: method, Args: args}
}

// NewResult builds a result message.
func NewResult(id int64, value interface{}) *Message {
	return &Message{Type: KindResult, ID: id, Value: value}
}

// NewError builds an error message. An empty description is replaced so the
// peer never sees a blank failure.
func NewError(id int64, description string) *Message {
	if description == "" {
		description = "unknown error"
	}
	return &Message{Type: KindError, ID: id, Error: description}
}

// Validate reports whether m is a well-formed member of the union.
func (m *Message) Validate() error {
	switch m.Type {
	case KindCall:
		if m.Service == "" || m.Method == "" {
			return fmt.Errorf("call %d: service and method are required", m.ID)
		}
	case KindResult:
	case KindError:
		if m.Error == "" {
			return fmt.Errorf("error %d: description is required", m.ID)
		}
	default:
		return fmt.Errorf("message %d: unknown type %q", m.ID, m.Type)
	}
	return nil
}

// Channel is a bidirectional, asynchronous message endpoint. Sends are
// delivered to the peer in order; there is no delivery guarantee across
// channel loss and no backpressure.
type Channel interface {
	// Send queues msg for the peer. It does not wait for delivery.
	Send(msg *Message) error
	// OnMessage installs the single inbound handler. Messages received
	// before a handler is installed are held and delivered in order.
	OnMessage(handler func(*Message))
	// Ready is closed once the channel can carry messages.
	Ready() <-chan struct{}
	// Done is closed when the channel is torn down.
	Done() <-chan struct{}
	Close() error
}
