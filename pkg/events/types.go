// Package events defines worker lifecycle events and the publishers that
// deliver them.
package events

// Worker lifecycle kinds.
const (
	KindAllocated         = "allocated"
	KindServiceRegistered = "service_registered"
	KindReady             = "ready"
	KindFailed            = "failed"
	KindExited            = "exited"
)

// WorkerEvent is emitted whenever the host observes a worker lifecycle change.
type WorkerEvent struct {
	WorkerID    int    `json:"workerId"`
	Kind        string `json:"kind"`
	Location    string `json:"location,omitempty"`
	ServiceName string `json:"serviceName,omitempty"`
	Error       string `json:"error,omitempty"`
	Timestamp   string `json:"timestamp"`
}
