package commsutil

import (
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
)

const connectTestPrefix = "commsutil:connect_test"

func TestConnect_InvalidURL(t *testing.T) {
	nc, err := Connect("invalid://not-a-nats-server", "test-client", nil)
	if err == nil {
		if nc != nil {
			nc.Close()
		}
		t.Fatalf("%s - expected error for invalid URL", connectTestPrefix)
	}
	if nc != nil {
		t.Errorf("%s - expected nil connection on error", connectTestPrefix)
	}
}

func TestConnectOpts_Defaults(t *testing.T) {
	var opts *ConnectOpts
	got := opts.withDefaults()
	if got.Timeout != 10*time.Second || got.ReconnectWait != 2*time.Second || got.MaxReconnects != 60 {
		t.Errorf("%s - unexpected defaults: %+v", connectTestPrefix, got)
	}

	got = (&ConnectOpts{MaxReconnects: -1, Timeout: time.Second}).withDefaults()
	if got.MaxReconnects != -1 {
		t.Errorf("%s - MaxReconnects = %d, want -1", connectTestPrefix, got.MaxReconnects)
	}
	if got.Timeout != time.Second {
		t.Errorf("%s - Timeout = %v, want 1s", connectTestPrefix, got.Timeout)
	}
}

func TestConnect_OnClosedRunsOnClose(t *testing.T) {
	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   commsserver.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", connectTestPrefix, err)
	}
	go ns.Start()
	defer ns.Shutdown()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", connectTestPrefix)
	}

	closed := make(chan struct{})
	nc, err := Connect(ns.ClientURL(), "onclosed-test", &ConnectOpts{OnClosed: func() { close(closed) }})
	if err != nil {
		t.Fatalf("%s - Connect: %v", connectTestPrefix, err)
	}
	if !nc.IsConnected() {
		t.Fatalf("%s - expected a live connection", connectTestPrefix)
	}
	nc.Close()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - OnClosed was not called", connectTestPrefix)
	}
}
