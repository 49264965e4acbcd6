// Package worklet holds the render side of a synth session: a Coordinator
// that owns the engine, drains its mailbox between render calls and keeps the
// audio clock fed with blocks no matter what state the handshake is in.
package worklet

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/leandrodaf/sfworklet/sdk/contracts"
)

type compileResult struct {
	construct contracts.Constructor
	err       error
}

type buildResult struct {
	engine     contracts.Engine
	sampleRate int
	err        error
}

// Coordinator implements contracts.Processor. Process, and through it every
// message handler, runs on the render context's goroutine only.
type Coordinator struct {
	logger   contracts.Logger
	compiler contracts.Compiler
	port     *Port

	state   atomic.Int32
	dropped atomic.Uint64

	// Owned by the render goroutine.
	bank      []byte
	construct contracts.Constructor
	release   context.CancelFunc // frees the compiled module while construct is unused
	engine    contracts.Engine
	compiled  chan compileResult
	built     chan buildResult

	ctx       context.Context
	cancel    context.CancelFunc
	workers   sync.WaitGroup
	closeOnce sync.Once
}

// NewCoordinator creates a coordinator in StateUninitialized with a mailbox of
// the given capacities.
func NewCoordinator(compiler contracts.Compiler, logger contracts.Logger, mailbox, statuses int) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		logger:   logger,
		compiler: compiler,
		port:     newPort(mailbox, statuses),
		compiled: make(chan compileResult, 1),
		built:    make(chan buildResult, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Port returns the control side's end of the mailbox.
func (c *Coordinator) Port() *Port {
	return c.port
}

// State reports the current handshake state. Safe from any goroutine.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Dropped counts note and program messages discarded because the engine was
// not ready.
func (c *Coordinator) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *Coordinator) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	c.logger.Debug("Coordinator state changed",
		c.logger.Field().String("from", prev.String()),
		c.logger.Field().String("to", s.String()))
}

// Process renders one block into outputs. It never blocks and always asks to
// be called again.
func (c *Coordinator) Process(outputs [][]float32) (keepAlive bool) {
	keepAlive = true
	defer func() {
		if r := recover(); r != nil {
			silence(outputs)
			c.fault(fmt.Errorf("%w: %v", contracts.ErrProcessorPanic, r))
		}
	}()

	c.drain()

	if c.engine == nil || len(outputs) == 0 {
		silence(outputs)
		return
	}

	block, err := c.engine.RenderBlock(len(outputs[0]))
	if err != nil {
		silence(outputs)
		c.fault(fmt.Errorf("render block: %w", err))
		return
	}

	for i, out := range outputs {
		if i < 2 && i < len(block) {
			n := copy(out, block[i])
			clear(out[n:])
			continue
		}
		clear(out)
	}
	return
}

func silence(outputs [][]float32) {
	for _, out := range outputs {
		clear(out)
	}
}

// drain applies a finished compilation or engine build first, then every
// queued command in send order.
func (c *Coordinator) drain() {
	select {
	case res := <-c.compiled:
		c.onCompiled(res)
	default:
	}
	select {
	case res := <-c.built:
		c.onBuilt(res)
	default:
	}

	for {
		select {
		case cmd := <-c.port.inbox:
			c.handle(cmd)
		default:
			return
		}
	}
}

func (c *Coordinator) handle(cmd contracts.Command) {
	switch m := cmd.(type) {
	case contracts.DeliverModule:
		c.deliverModule(m)
	case contracts.InitDetector:
		c.initDetector(m.SampleRate)
	case contracts.NoteOn:
		if c.State() != StateReady {
			c.dropped.Add(1)
			return
		}
		c.engine.NoteOn(m.Channel, m.Key, m.Velocity)
	case contracts.NoteOff:
		if c.State() != StateReady {
			c.dropped.Add(1)
			return
		}
		c.engine.NoteOff(m.Channel, m.Key)
	case contracts.ProgramSelect:
		if c.State() != StateReady {
			c.dropped.Add(1)
			return
		}
		c.engine.ProgramSelect(m.Channel, m.Preset, m.Bank)
	case contracts.GetPresetHeaders:
		if c.State() != StateReady {
			c.rejected(cmd)
			return
		}
		headers := append([]contracts.PresetHeader(nil), c.engine.PresetHeaders()...)
		c.post(contracts.PresetHeadersGot{Headers: headers})
	default:
		c.logger.Warn("Ignoring unknown command", c.logger.Field().String("type", fmt.Sprintf("%T", cmd)))
	}
}

func (c *Coordinator) rejected(cmd contracts.Command) {
	c.logger.Warn("Command dropped in wrong state",
		c.logger.Field().String("type", string(cmd.Type())),
		c.logger.Field().String("state", c.State().String()))
}

func (c *Coordinator) deliverModule(m contracts.DeliverModule) {
	if c.State() != StateUninitialized {
		c.rejected(m)
		return
	}
	c.bank = m.Bank
	c.setState(StateCompilingModule)

	ctx, release := context.WithCancel(c.ctx)
	c.release = release

	module := m.Module
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		var res compileResult
		defer func() {
			if r := recover(); r != nil {
				res = compileResult{err: fmt.Errorf("%w: %v", contracts.ErrProcessorPanic, r)}
			}
			c.compiled <- res
		}()
		res.construct, res.err = c.compiler.Compile(ctx, module)
	}()
}

func (c *Coordinator) onCompiled(res compileResult) {
	if c.State() != StateCompilingModule {
		return
	}
	if res.err != nil {
		c.fault(&contracts.CompileError{Err: res.err})
		return
	}
	if res.construct == nil {
		c.fault(&contracts.CompileError{Err: fmt.Errorf("compiler returned no constructor")})
		return
	}
	c.construct = res.construct
	c.setState(StateAwaitingSampleRate)
	c.post(contracts.ModuleLoaded{})
}

func (c *Coordinator) initDetector(sampleRate int) {
	if c.State() != StateAwaitingSampleRate {
		c.rejected(contracts.InitDetector{SampleRate: sampleRate})
		return
	}
	if len(c.bank) == 0 {
		c.fault(contracts.ErrMissingBank)
		return
	}
	if sampleRate <= 0 {
		c.fault(fmt.Errorf("invalid sample rate %d", sampleRate))
		return
	}

	construct, bank, release := c.construct, c.bank, c.release
	c.construct, c.bank, c.release = nil, nil, nil
	c.setState(StateConstructingEngine)

	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		res := buildResult{sampleRate: sampleRate}
		defer func() {
			if r := recover(); r != nil {
				res = buildResult{err: fmt.Errorf("%w: %v", contracts.ErrProcessorPanic, r)}
			}
			release()
			c.built <- res
		}()
		res.engine, res.err = construct(bank, sampleRate)
	}()
}

func (c *Coordinator) onBuilt(res buildResult) {
	if c.State() != StateConstructingEngine {
		closeEngine(res.engine, c.logger)
		return
	}
	if res.err != nil {
		c.fault(fmt.Errorf("construct engine: %w", res.err))
		return
	}

	c.engine = res.engine
	c.setState(StateReady)
	c.logger.Info("Synth initialized",
		c.logger.Field().Int("sampleRate", res.sampleRate),
		c.logger.Field().Int("presets", len(res.engine.PresetHeaders())))
	c.post(contracts.SynthInitialized{})
}

// releaseModule drops a compiled module that was never constructed.
func (c *Coordinator) releaseModule() {
	if c.release != nil {
		c.release()
		c.release = nil
	}
	c.construct = nil
}

// fault moves to StateFaulted, releases the engine and reports err upstream.
func (c *Coordinator) fault(err error) {
	if c.State() == StateFaulted {
		return
	}
	c.setState(StateFaulted)
	c.bank = nil
	c.releaseModule()
	closeEngine(c.engine, c.logger)
	c.engine = nil
	c.logger.Error("Processor fault", c.logger.Field().Error("error", err))
	c.post(contracts.ProcessorFault{Err: err})
}

func closeEngine(engine contracts.Engine, logger contracts.Logger) {
	if engine == nil {
		return
	}
	if closer, ok := engine.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("Failed to close engine", logger.Field().Error("error", err))
		}
	}
}

// post sends s upstream without blocking; a full channel drops the message.
func (c *Coordinator) post(s contracts.Status) {
	if c.port.closed.Load() {
		return
	}
	select {
	case c.port.outbox <- s:
	default:
		c.logger.Warn("Status channel full; message dropped",
			c.logger.Field().String("type", string(s.Type())))
	}
}

// Close tears the coordinator down, waiting for an in-flight compilation or
// engine build. The render context must have stopped calling Process before
// Close runs.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.workers.Wait()

		select {
		case res := <-c.built:
			closeEngine(res.engine, c.logger)
		default:
		}
		c.releaseModule()
		closeEngine(c.engine, c.logger)
		c.engine = nil
		c.bank = nil
		c.port.closed.Store(true)
		close(c.port.outbox)
	})
	return nil
}
