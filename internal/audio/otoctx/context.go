// Package otoctx drives a contracts.Processor from the system audio device
// through oto. oto pulls PCM from an io.Reader on its own goroutine; that
// goroutine is the render context.
package otoctx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/leandrodaf/sfworklet/internal/logger"
	"github.com/leandrodaf/sfworklet/sdk/contracts"
	"go.uber.org/multierr"
)

const bytesPerSample = 4

var (
	// ErrClosed is returned when registering on a closed context.
	ErrClosed = errors.New("audio context closed")
	// ErrProcessorLimit is returned when a second processor is registered.
	ErrProcessorLimit = errors.New("audio context already hosts a processor")
)

// Context implements contracts.RenderContext on an oto device.
type Context struct {
	logger contracts.Logger
	otoCtx *oto.Context
	cfg    contracts.RenderConfig

	mu     sync.Mutex
	name   string
	player *oto.Player
	reader *blockReader
	closed bool
}

// New opens the default audio device. It blocks until the device is ready.
func New(cfg contracts.RenderConfig) (contracts.RenderContext, error) {
	if cfg.ChannelCount < 1 || cfg.ChannelCount > 2 {
		return nil, fmt.Errorf("unsupported channel count %d", cfg.ChannelCount)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNopLogger()
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.ChannelCount,
		Format:       oto.FormatFloat32LE,
		BufferSize:   4 * time.Duration(cfg.BlockSize) * time.Second / time.Duration(cfg.SampleRate),
	})
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	cfg.Logger.Info("Audio device opened",
		cfg.Logger.Field().Int("sampleRate", cfg.SampleRate),
		cfg.Logger.Field().Int("channels", cfg.ChannelCount),
		cfg.Logger.Field().Int("blockSize", cfg.BlockSize))

	return &Context{logger: cfg.Logger, otoCtx: otoCtx, cfg: cfg}, nil
}

func (c *Context) SampleRate() int {
	return c.cfg.SampleRate
}

// Register starts playback pulling from p.
func (c *Context) Register(name string, p contracts.Processor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.player != nil {
		return fmt.Errorf("%w: %q", ErrProcessorLimit, c.name)
	}
	if err := c.otoCtx.Err(); err != nil {
		return fmt.Errorf("audio device: %w", err)
	}

	c.name = name
	c.reader = newBlockReader(p, c.cfg.ChannelCount, c.cfg.BlockSize)
	c.player = c.otoCtx.NewPlayer(c.reader)
	c.player.Play()
	c.logger.Debug("Processor registered", c.logger.Field().String("name", name))
	return nil
}

// Suspend pauses the device clock; the player stops pulling blocks.
func (c *Context) Suspend() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	return c.otoCtx.Suspend()
}

// Resume restarts the device clock after Suspend.
func (c *Context) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	return c.otoCtx.Resume()
}

// Close stops playback, suspends the device and closes the processor if it
// is an io.Closer.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	if c.player != nil {
		err = multierr.Append(err, c.player.Close())
		c.reader.detach()
		if closer, ok := c.reader.processor.(io.Closer); ok {
			err = multierr.Append(err, closer.Close())
		}
	}
	return multierr.Append(err, c.otoCtx.Suspend())
}

// blockReader adapts a Processor to the io.Reader oto pulls from, splitting
// each request into blocks and interleaving planar output into float32 LE.
type blockReader struct {
	mu        sync.Mutex
	processor contracts.Processor
	channels  int
	outputs   [][]float32
	views     [][]float32
	done      bool
}

func newBlockReader(p contracts.Processor, channels, blockSize int) *blockReader {
	outputs := make([][]float32, channels)
	for i := range outputs {
		outputs[i] = make([]float32, blockSize)
	}
	return &blockReader{
		processor: p,
		channels:  channels,
		outputs:   outputs,
		views:     make([][]float32, channels),
	}
}

// detach makes every later Read return EOF. It waits for an in-flight Read.
func (r *blockReader) detach() {
	r.mu.Lock()
	r.done = true
	r.mu.Unlock()
}

func (r *blockReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return 0, io.EOF
	}

	frameBytes := bytesPerSample * r.channels
	frames := len(p) / frameBytes
	blockSize := len(r.outputs[0])

	written := 0
	for written < frames {
		n := min(blockSize, frames-written)
		for ch := range r.views {
			r.views[ch] = r.outputs[ch][:n]
		}
		keep := r.processor.Process(r.views)
		interleave(p[written*frameBytes:], r.views)
		written += n
		if !keep {
			r.done = true
			return written * frameBytes, io.EOF
		}
	}
	return written * frameBytes, nil
}

// interleave writes planar channels as interleaved little endian float32.
func interleave(dst []byte, planar [][]float32) {
	channels := len(planar)
	for ch, samples := range planar {
		for i, v := range samples {
			off := (i*channels + ch) * bytesPerSample
			binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(v))
		}
	}
}
