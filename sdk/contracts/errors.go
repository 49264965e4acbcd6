package contracts

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingBank means init-detector arrived while no bank payload was held.
	ErrMissingBank = errors.New("bank payload missing at engine construction")
	// ErrAlreadyInitialized is returned by a second Initialize on the same node.
	ErrAlreadyInitialized = errors.New("session already initialized")
	// ErrMailboxFull is returned when a command cannot be enqueued without blocking.
	ErrMailboxFull = errors.New("processor mailbox full")
	// ErrInvalidNote rejects channel, key or velocity values outside the MIDI range.
	ErrInvalidNote = errors.New("invalid note event")
	// ErrSessionFaulted is returned by waits on a session that hit a processor fault.
	ErrSessionFaulted = errors.New("session faulted")
	// ErrProcessorPanic wraps a panic recovered inside the render callback.
	ErrProcessorPanic = errors.New("processor panicked")
	// ErrPortClosed is returned when posting to a torn down processor.
	ErrPortClosed = errors.New("processor port closed")
)

// ResourceFetchError reports a failure acquiring the module or bank bytes.
type ResourceFetchError struct {
	Resource string
	Err      error
}

func (e *ResourceFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Resource, e.Err)
}

func (e *ResourceFetchError) Unwrap() error { return e.Err }

// ContextEstablishError reports that the render context could not be created
// or the processor could not be registered under Name.
type ContextEstablishError struct {
	Name string
	Err  error
}

func (e *ContextEstablishError) Error() string {
	return fmt.Sprintf("failed to establish render context for processor %q: %v", e.Name, e.Err)
}

func (e *ContextEstablishError) Unwrap() error { return e.Err }

// CompileError reports malformed or incompatible module bytes.
type CompileError struct {
	Err error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile module: %v", e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// InvalidSelectionError reports a preset index outside the known table.
type InvalidSelectionError struct {
	Index int
	Count int
}

func (e *InvalidSelectionError) Error() string {
	return fmt.Sprintf("preset index %d out of range [0, %d)", e.Index, e.Count)
}
