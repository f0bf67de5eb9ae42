package channel

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/extension-workers/pkg/commsutil"
)

const natsLogPrefix = "channel:nats"

// NATSChannel carries one worker session over COMMS. Each side subscribes to
// its own session subject and publishes to the peer's; a subscription's
// handler runs sequentially, which keeps inbound delivery in send order.
type NATSChannel struct {
	nc         *comms.Conn
	codec      commsutil.Codec
	pubSubject string
	subSubject string
	sub        *comms.Subscription

	deliverMu sync.Mutex
	handler   func(*Message)
	backlog   []*Message

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewNATSChannel joins session as side (commsutil.SideHost or SideWorker).
func NewNATSChannel(nc *comms.Conn, session, side string, codec commsutil.Codec) (*NATSChannel, error) {
	if codec == nil {
		codec = commsutil.JSONCodec{}
	}
	c := &NATSChannel{
		nc:         nc,
		codec:      codec,
		pubSubject: commsutil.BuildSessionSubject(session, commsutil.PeerSide(side)),
		subSubject: commsutil.BuildSessionSubject(session, side),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}

	sub, err := nc.Subscribe(c.subSubject, c.receive)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", natsLogPrefix, c.subSubject, err)
	}
	c.sub = sub

	// The subscription is only usable once the server has seen it.
	if err := nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("%s - failed to flush subscription %s: %w", natsLogPrefix, c.subSubject, err)
	}
	close(c.ready)
	watchConn(nc, c)

	slog.Info(fmt.Sprintf("%s - Joined session %s as %s (codec=%s)", natsLogPrefix, session, side, codec.Name()))
	return c, nil
}

func (c *NATSChannel) Send(msg *Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := c.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("%s - failed to encode message %d: %w", natsLogPrefix, msg.ID, err)
	}
	if err := c.nc.Publish(c.pubSubject, data); err != nil {
		if errors.Is(err, comms.ErrConnectionClosed) {
			c.Close()
			return ErrClosed
		}
		return fmt.Errorf("%s - failed to publish to %s: %w", natsLogPrefix, c.pubSubject, err)
	}
	return nil
}

func (c *NATSChannel) OnMessage(handler func(*Message)) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.handler = handler
	backlog := c.backlog
	c.backlog = nil
	for _, m := range backlog {
		handler(m)
	}
}

func (c *NATSChannel) Ready() <-chan struct{} { return c.ready }

func (c *NATSChannel) Done() <-chan struct{} { return c.done }

// Close unsubscribes and signals Done. The COMMS connection stays open.
// Closing the connection closes every channel on it.
func (c *NATSChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		unwatchConn(c.nc, c)
		if c.sub != nil {
			err = c.sub.Unsubscribe()
		}
	})
	if err != nil && err != comms.ErrConnectionClosed && err != comms.ErrBadSubscription {
		return fmt.Errorf("%s - failed to unsubscribe %s: %w", natsLogPrefix, c.subSubject, err)
	}
	return nil
}

func (c *NATSChannel) receive(msg *comms.Msg) {
	var m Message
	if err := c.codec.Decode(msg.Data, &m); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode message on %s: %v", natsLogPrefix, c.subSubject, err))
		return
	}
	if err := m.Validate(); err != nil {
		slog.Error(fmt.Sprintf("%s - dropping malformed message on %s: %v", natsLogPrefix, c.subSubject, err))
		return
	}

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	select {
	case <-c.done:
		return
	default:
	}
	if c.handler == nil {
		c.backlog = append(c.backlog, &m)
		return
	}
	c.handler(&m)
}

// connWatch holds the open channels of one connection. A single CLOSED
// listener per connection closes all of them.
type connWatch struct {
	chans map[*NATSChannel]struct{}
	stop  chan struct{}
}

var (
	watchMu sync.Mutex
	watches = make(map[*comms.Conn]*connWatch)
)

func watchConn(nc *comms.Conn, c *NATSChannel) {
	watchMu.Lock()
	w, ok := watches[nc]
	if !ok {
		w = &connWatch{chans: make(map[*NATSChannel]struct{}), stop: make(chan struct{})}
		watches[nc] = w
		statuses := nc.StatusChanged(comms.CLOSED)
		go func() {
			select {
			case <-statuses:
				closeWatched(nc)
			case <-w.stop:
			}
		}()
	}
	w.chans[c] = struct{}{}
	watchMu.Unlock()

	// The connection may have closed before the listener was in place.
	if nc.IsClosed() {
		closeWatched(nc)
	}
}

func unwatchConn(nc *comms.Conn, c *NATSChannel) {
	watchMu.Lock()
	defer watchMu.Unlock()
	if w, ok := watches[nc]; ok {
		delete(w.chans, c)
	}
}

func closeWatched(nc *comms.Conn) {
	watchMu.Lock()
	w, ok := watches[nc]
	if ok {
		delete(watches, nc)
		close(w.stop)
	}
	watchMu.Unlock()
	if !ok {
		return
	}

	for c := range w.chans {
		slog.Warn(fmt.Sprintf("%s - connection closed, closing channel on %s", natsLogPrefix, c.subSubject))
		c.Close()
	}
}
