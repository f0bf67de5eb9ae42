package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects and names.
const (
	SubjectSessionPrefix = "ext.session"
	SubjectWorkerEvents  = "extensions.worker"

	// ExtensionsService is the well-known host-side service name.
	ExtensionsService = "extensions"
)

// Channel sides. Each side subscribes to its own subject and publishes to the peer's.
const (
	SideHost   = "host"
	SideWorker = "worker"
)

// PeerSide returns the side opposite to side.
func PeerSide(side string) string {
	if side == SideHost {
		return SideWorker
	}
	return SideHost
}

// BuildSessionSubject builds the subject one side of a worker session listens on.
func BuildSessionSubject(session, side string) string {
	safe := strings.ReplaceAll(session, ".", "_")
	return fmt.Sprintf("%s.%s.%s", SubjectSessionPrefix, safe, side)
}

// BuildExtensionServiceName builds the dispatcher service name for one
// extension registered by one worker.
func BuildExtensionServiceName(workerID, extensionID int) string {
	return fmt.Sprintf("%s%d", ExtensionServicePrefix(workerID), extensionID)
}

// ExtensionServicePrefix is the prefix shared by every service name of one worker.
func ExtensionServicePrefix(workerID int) string {
	return fmt.Sprintf("extension.%d.", workerID)
}

// BuildWorkerEventSubject builds a granular worker lifecycle event subject.
func BuildWorkerEventSubject(prefix string, workerID int, state string) string {
	if prefix == "" {
		prefix = SubjectWorkerEvents
	}
	return fmt.Sprintf("%s.%d.%s", prefix, workerID, strings.ToLower(state))
}
