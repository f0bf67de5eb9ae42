// Package commsutil provides COMMS connection helpers, wire codecs and subject builders.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// ConnectOpts tunes Connect. The zero value is usable.
type ConnectOpts struct {
	Timeout       time.Duration
	ReconnectWait time.Duration
	MaxReconnects int
	// OnClosed runs once the connection is closed for good (reconnects
	// exhausted or Close called). Worker channels riding on the connection
	// are torn down from here.
	OnClosed func()
}

func (o *ConnectOpts) withDefaults() ConnectOpts {
	out := ConnectOpts{
		Timeout:       10 * time.Second,
		ReconnectWait: 2 * time.Second,
		MaxReconnects: 60,
	}
	if o == nil {
		return out
	}
	if o.Timeout > 0 {
		out.Timeout = o.Timeout
	}
	if o.ReconnectWait > 0 {
		out.ReconnectWait = o.ReconnectWait
	}
	if o.MaxReconnects != 0 {
		out.MaxReconnects = o.MaxReconnects
	}
	out.OnClosed = o.OnClosed
	return out
}

// Connect creates a COMMS connection to the given URL. Pass nil opts for defaults.
func Connect(url, name string, opts *ConnectOpts) (*comms.Conn, error) {
	o := opts.withDefaults()
	slog.Info(fmt.Sprintf("%s - Connecting to COMMS at %s as %s", logPrefix, url, name))

	nc, err := comms.Connect(url,
		comms.Name(name),
		comms.Timeout(o.Timeout),
		comms.ReconnectWait(o.ReconnectWait),
		comms.MaxReconnects(o.MaxReconnects),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - COMMS disconnected: %v", logPrefix, err))
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS reconnected to %s", logPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(_ *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS connection closed", logPrefix))
			if o.OnClosed != nil {
				o.OnClosed()
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}
