package worker

// State is a step of the worker lifecycle. States only move forward; Failed
// is terminal.
type State int

const (
	StateConnecting State = iota
	StateAllocating
	StateLoadingCode
	StateAwaitingFirstRegistration
	StateRegisteringInitialBatch
	StateReady
	StateFailed
)

var stateNames = [...]string{
	StateConnecting:                "Connecting",
	StateAllocating:                "Allocating",
	StateLoadingCode:               "LoadingCode",
	StateAwaitingFirstRegistration: "AwaitingFirstRegistration",
	StateRegisteringInitialBatch:   "RegisteringInitialBatch",
	StateReady:                     "Ready",
	StateFailed:                    "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}
