package contracts

import "context"

// PresetHeader identifies a selectable instrument inside the bank.
type PresetHeader struct {
	Name   string `json:"name"`
	Preset uint16 `json:"preset"`
	Bank   uint16 `json:"bank"`
}

// Engine is the opaque synthesizer owned by the render side. Note and program
// calls must run in bounded time without allocating.
type Engine interface {
	NoteOn(channel, key, velocity uint8)
	NoteOff(channel, key uint8)
	ProgramSelect(channel uint8, preset, bank uint16)
	// PresetHeaders returns the engine's table ordered by bank, then preset.
	// The slice belongs to the engine.
	PresetHeaders() []PresetHeader
	// RenderBlock advances the engine by frames and returns one buffer per
	// output channel. Buffers are reused by the next call.
	RenderBlock(frames int) ([][]float32, error)
}

// Constructor builds an Engine from bank bytes at the given sample rate.
type Constructor func(bank []byte, sampleRate int) (Engine, error)

// Compiler turns a module payload into an engine Constructor. Compile may
// block; it never runs on the render path.
//
// Resources behind the returned Constructor live until it has been called or
// ctx is done, whichever comes first. Cancelling ctx after the Constructor
// returned an engine has no effect on that engine.
type Compiler interface {
	Compile(ctx context.Context, module []byte) (Constructor, error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(ctx context.Context, module []byte) (Constructor, error)

// Compile calls f.
func (f CompilerFunc) Compile(ctx context.Context, module []byte) (Constructor, error) {
	return f(ctx, module)
}
