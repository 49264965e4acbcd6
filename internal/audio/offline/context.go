// Package offline provides a render context without an audio device. Blocks
// are pulled either manually with Render or by a ticker paced at the block's
// real-time duration.
package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/leandrodaf/sfworklet/internal/logger"
	"github.com/leandrodaf/sfworklet/sdk/contracts"
)

var (
	// ErrClosed is returned when registering on a closed context.
	ErrClosed = errors.New("render context closed")
	// ErrProcessorLimit is returned when a second processor is registered.
	ErrProcessorLimit = errors.New("render context already hosts a processor")
)

// Context implements contracts.RenderContext.
type Context struct {
	mu         sync.Mutex
	logger     contracts.Logger
	sampleRate int
	blockSize  int
	outputs    [][]float32
	name       string
	processor  contracts.Processor
	stopped    bool
	suspended  bool
	closed     bool
	blocks     uint64

	realtime bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a manually clocked context.
func New(cfg contracts.RenderConfig) (*Context, error) {
	if cfg.SampleRate <= 0 || cfg.BlockSize <= 0 || cfg.ChannelCount <= 0 {
		return nil, fmt.Errorf("invalid render config: rate=%d block=%d channels=%d",
			cfg.SampleRate, cfg.BlockSize, cfg.ChannelCount)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNopLogger()
	}
	outputs := make([][]float32, cfg.ChannelCount)
	for i := range outputs {
		outputs[i] = make([]float32, cfg.BlockSize)
	}
	return &Context{
		logger:     cfg.Logger,
		sampleRate: cfg.SampleRate,
		blockSize:  cfg.BlockSize,
		outputs:    outputs,
	}, nil
}

// Factory is a contracts.ContextFactory for manually clocked contexts.
func Factory(cfg contracts.RenderConfig) (contracts.RenderContext, error) {
	return New(cfg)
}

// RealtimeFactory is a contracts.ContextFactory whose contexts start a ticker
// once a processor is registered.
func RealtimeFactory(cfg contracts.RenderConfig) (contracts.RenderContext, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	c.realtime = true
	return c, nil
}

func (c *Context) SampleRate() int {
	return c.sampleRate
}

// Register installs p. Only one processor per context is supported.
func (c *Context) Register(name string, p contracts.Processor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.processor != nil {
		return fmt.Errorf("%w: %q", ErrProcessorLimit, c.name)
	}
	c.name = name
	c.processor = p
	c.logger.Debug("Processor registered", c.logger.Field().String("name", name))

	if c.realtime && !c.suspended {
		c.startClock()
	}
	return nil
}

// startClock runs the ticker. Callers hold c.mu.
func (c *Context) startClock() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.run(ctx)
}

// Suspend stops the ticker and waits for the block in flight. Render returns
// silence without calling the processor until Resume.
func (c *Context) Suspend() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.suspended {
		c.mu.Unlock()
		return nil
	}
	c.suspended = true
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.logger.Debug("Render context suspended")
	return nil
}

// Resume restarts the ticker of a suspended realtime context.
func (c *Context) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if !c.suspended {
		return nil
	}
	c.suspended = false
	if c.realtime && c.processor != nil {
		c.startClock()
	}
	c.logger.Debug("Render context resumed")
	return nil
}

// Render pulls one block and returns the output buffers, valid until the next
// call. Without a processor, after it asked to stop or while suspended, the
// block is silent. Suspended blocks are not counted.
func (c *Context) Render() [][]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.suspended {
		c.blocks++
	}
	if c.processor == nil || c.stopped || c.suspended || c.closed {
		for _, out := range c.outputs {
			clear(out)
		}
		return c.outputs
	}
	if !c.processor.Process(c.outputs) {
		c.stopped = true
	}
	return c.outputs
}

// Blocks reports how many blocks have been pulled.
func (c *Context) Blocks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks
}

func (c *Context) run(ctx context.Context) {
	defer c.wg.Done()

	period := time.Duration(c.blockSize) * time.Second / time.Duration(c.sampleRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Render()
		}
	}
}

// Close stops the clock and closes the processor if it is an io.Closer.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if closer, ok := c.processor.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
