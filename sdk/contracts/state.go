package contracts

// SessionState is the control side's view of the initialization handshake.
type SessionState int

const (
	StateUninitialized SessionState = iota
	StateAwaitingModule
	StateAwaitingDetectorInit
	StateReady
	StateFaulted
)

var sessionStateNames = [...]string{
	StateUninitialized:        "uninitialized",
	StateAwaitingModule:       "awaiting-module",
	StateAwaitingDetectorInit: "awaiting-detector-init",
	StateReady:                "ready",
	StateFaulted:              "faulted",
}

func (s SessionState) String() string {
	if s < 0 || int(s) >= len(sessionStateNames) {
		return "unknown"
	}
	return sessionStateNames[s]
}
