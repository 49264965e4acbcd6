package worklet

// State is the coordinator's position in the initialization handshake.
// Transitions happen only while handling a message or a compile result.
type State int32

const (
	StateUninitialized State = iota
	StateCompilingModule
	StateAwaitingSampleRate
	// StateConstructingEngine means the engine is being built off the render
	// goroutine; blocks stay silent until it is ready.
	StateConstructingEngine
	StateReady
	// StateFaulted is terminal; every later block is silent.
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCompilingModule:
		return "compiling-module"
	case StateAwaitingSampleRate:
		return "awaiting-sample-rate"
	case StateConstructingEngine:
		return "constructing-engine"
	case StateReady:
		return "ready"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}
