package contracts

// Processor is invoked by a render context's clock once per block. outputs
// holds one buffer per output channel, all of the block's length. The return
// value asks the context to keep calling.
type Processor interface {
	Process(outputs [][]float32) bool
}

// RenderContext is a real-time audio context that periodically pulls blocks
// from registered processors.
type RenderContext interface {
	// SampleRate is the device sample rate in Hz.
	SampleRate() int
	// Register installs p under name and starts pulling blocks from it.
	Register(name string, p Processor) error
	// Suspend halts the clock. No blocks are pulled until Resume.
	Suspend() error
	// Resume restarts a suspended clock.
	Resume() error
	// Close stops the clock and tears down registered processors that
	// implement io.Closer.
	Close() error
}

// RenderConfig is what a ContextFactory needs to open a device.
type RenderConfig struct {
	SampleRate   int
	ChannelCount int
	BlockSize    int
	Logger       Logger
}

// ContextFactory opens a render context.
type ContextFactory func(cfg RenderConfig) (RenderContext, error)
