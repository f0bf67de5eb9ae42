package channel

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/extension-workers/pkg/commsutil"
)

const pipeLogPrefix = "channel:pipe"

// Pipe is one end of an in-process channel pair. Messages are copied through
// a codec on send, so the two ends never share memory.
type Pipe struct {
	codec commsutil.Codec
	peer  *Pipe

	mu      sync.Mutex
	queue   []*Message
	handler func(*Message)
	wake    chan struct{}

	ready     chan struct{}
	done      chan struct{}
	closeOnce *sync.Once
}

// NewPipe returns two connected ends using the JSON codec.
func NewPipe() (*Pipe, *Pipe) {
	return NewPipeWithCodec(commsutil.JSONCodec{})
}

// NewPipeWithCodec returns two connected ends that copy messages through
// codec. A nil codec means JSON.
func NewPipeWithCodec(codec commsutil.Codec) (*Pipe, *Pipe) {
	if codec == nil {
		codec = commsutil.JSONCodec{}
	}
	ready := make(chan struct{})
	close(ready)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &Pipe{codec: codec, wake: make(chan struct{}, 1), ready: ready, done: done, closeOnce: once}
	b := &Pipe{codec: codec, wake: make(chan struct{}, 1), ready: ready, done: done, closeOnce: once}
	a.peer, b.peer = b, a

	go a.run()
	go b.run()
	return a, b
}

func (p *Pipe) Send(msg *Message) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	data, err := p.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("%s - failed to encode message %d: %w", pipeLogPrefix, msg.ID, err)
	}
	var cp Message
	if err := p.codec.Decode(data, &cp); err != nil {
		return fmt.Errorf("%s - failed to decode message %d: %w", pipeLogPrefix, msg.ID, err)
	}
	p.peer.enqueue(&cp)
	return nil
}

func (p *Pipe) OnMessage(handler func(*Message)) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
	p.signal()
}

func (p *Pipe) Ready() <-chan struct{} { return p.ready }

func (p *Pipe) Done() <-chan struct{} { return p.done }

// Close tears down both ends. Undelivered messages are dropped.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	return nil
}

func (p *Pipe) enqueue(msg *Message) {
	p.mu.Lock()
	p.queue = append(p.queue, msg)
	p.mu.Unlock()
	p.signal()
}

func (p *Pipe) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// run is the single delivery goroutine for this end.
func (p *Pipe) run() {
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}

		for {
			p.mu.Lock()
			if p.handler == nil || len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			msg := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			h := p.handler
			p.mu.Unlock()

			select {
			case <-p.done:
				slog.Debug(fmt.Sprintf("%s - dropping message %d after close", pipeLogPrefix, msg.ID))
				return
			default:
			}
			h(msg)
		}
	}
}
