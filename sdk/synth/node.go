// Package synth is the control side of a synth session. Setup bootstraps a
// render context and a Node; the Node drives the initialization handshake and
// forwards note and program events to the render side.
package synth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/leandrodaf/sfworklet/sdk/contracts"
)

// ErrUnknownPreset is returned by SelectPreset when no header matches.
var ErrUnknownPreset = errors.New("unknown preset")

// SampleRater reports the sample rate of a render context.
type SampleRater interface {
	SampleRate() int
}

// Node is the control proxy for one registered coordinator. Status messages
// are handled on a single listener goroutine; public methods are safe for
// concurrent use.
type Node struct {
	logger  contracts.Logger
	rate    SampleRater
	port    contracts.MessagePort
	channel uint8

	onHeaders func([]contracts.PresetHeader)
	onFault   func(error)
	onState   func(contracts.SessionState)

	mu      sync.Mutex
	state   contracts.SessionState
	headers []contracts.PresetHeader
	err     error
	started bool
	paused  bool
	dropped uint64

	ready     chan struct{}
	done      chan struct{}
	readyOnce sync.Once
	doneOnce  sync.Once
}

// NewNode binds a node to the render context's sample rate and the
// coordinator's port. opts must already carry a logger.
func NewNode(rate SampleRater, port contracts.MessagePort, opts contracts.SessionOptions) *Node {
	return &Node{
		logger:    opts.Logger,
		rate:      rate,
		port:      port,
		channel:   opts.ProgramChannel,
		onHeaders: opts.OnPresetHeaders,
		onFault:   opts.OnFault,
		onState:   opts.OnStateChange,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Initialize hands both payloads to the render side and returns without
// waiting for the handshake. The node keeps no reference to either slice.
func (n *Node) Initialize(module, bank []byte) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return contracts.ErrAlreadyInitialized
	}
	n.started = true
	n.mu.Unlock()

	n.setState(contracts.StateAwaitingModule)
	go n.listen()

	n.logger.Debug("Delivering module",
		n.logger.Field().Int("moduleBytes", len(module)),
		n.logger.Field().Int("bankBytes", len(bank)))

	if err := n.port.PostMessage(contracts.DeliverModule{Module: module, Bank: bank}); err != nil {
		err = fmt.Errorf("deliver module: %w", err)
		n.fail(err)
		return err
	}
	return nil
}

func (n *Node) listen() {
	defer n.doneOnce.Do(func() { close(n.done) })

	for msg := range n.port.Messages() {
		switch m := msg.(type) {
		case contracts.ModuleLoaded:
			n.onModuleLoaded()
		case contracts.SynthInitialized:
			n.onSynthInitialized()
		case contracts.PresetHeadersGot:
			n.onPresetHeaders(m.Headers)
		case contracts.ProcessorFault:
			err := m.Err
			if err == nil {
				err = errors.New(m.Message())
			}
			n.fail(fmt.Errorf("%w: %w", contracts.ErrSessionFaulted, err))
		default:
			n.logger.Warn("Unexpected status message", n.logger.Field().String("type", string(msg.Type())))
		}
	}
	n.logger.Debug("Status channel closed")
}

func (n *Node) onModuleLoaded() {
	if s := n.State(); s != contracts.StateAwaitingModule {
		n.logger.Warn("module-loaded ignored", n.logger.Field().String("state", s.String()))
		return
	}
	n.setState(contracts.StateAwaitingDetectorInit)

	rate := n.rate.SampleRate()
	if err := n.port.PostMessage(contracts.InitDetector{SampleRate: rate}); err != nil {
		n.fail(fmt.Errorf("init detector: %w", err))
	}
}

func (n *Node) onSynthInitialized() {
	if s := n.State(); s != contracts.StateAwaitingDetectorInit {
		n.logger.Warn("synth-initialized ignored", n.logger.Field().String("state", s.String()))
		return
	}
	if err := n.port.PostMessage(contracts.GetPresetHeaders{}); err != nil {
		n.fail(fmt.Errorf("request preset headers: %w", err))
	}
}

func (n *Node) onPresetHeaders(headers []contracts.PresetHeader) {
	n.mu.Lock()
	if n.state != contracts.StateAwaitingDetectorInit {
		state := n.state
		n.mu.Unlock()
		n.logger.Warn("preset-headers-got ignored", n.logger.Field().String("state", state.String()))
		return
	}
	n.headers = append([]contracts.PresetHeader(nil), headers...)
	n.state = contracts.StateReady
	n.mu.Unlock()

	if n.onState != nil {
		n.onState(contracts.StateReady)
	}
	n.readyOnce.Do(func() { close(n.ready) })
	n.logger.Info("Synth ready", n.logger.Field().Int("presets", len(headers)))

	if n.onHeaders != nil {
		n.onHeaders(n.PresetHeaders())
	}
}

// fail moves the node to StateFaulted once and reports err.
func (n *Node) fail(err error) {
	n.mu.Lock()
	if n.state == contracts.StateFaulted {
		n.mu.Unlock()
		return
	}
	n.state = contracts.StateFaulted
	n.err = err
	n.mu.Unlock()

	n.logger.Error("Synth session faulted", n.logger.Field().Error("error", err))
	if n.onState != nil {
		n.onState(contracts.StateFaulted)
	}
	if n.onFault != nil {
		n.onFault(err)
	}
	n.doneOnce.Do(func() { close(n.done) })
}

func (n *Node) setState(s contracts.SessionState) {
	n.mu.Lock()
	if n.state == contracts.StateFaulted {
		n.mu.Unlock()
		return
	}
	n.state = s
	n.mu.Unlock()

	if n.onState != nil {
		n.onState(s)
	}
}

// SendNoteOn posts a note-on. Before the session is Ready, or while it is
// paused, the event is dropped and nil is returned.
func (n *Node) SendNoteOn(channel, key, velocity uint8) error {
	if channel > 15 || key > 127 || velocity > 127 {
		return fmt.Errorf("%w: channel=%d key=%d velocity=%d", contracts.ErrInvalidNote, channel, key, velocity)
	}
	return n.postWhenReady(contracts.NoteOn{Channel: channel, Key: key, Velocity: velocity})
}

// SendNoteOff posts a note-off, with the same drop rule as SendNoteOn.
func (n *Node) SendNoteOff(channel, key uint8) error {
	if channel > 15 || key > 127 {
		return fmt.Errorf("%w: channel=%d key=%d", contracts.ErrInvalidNote, channel, key)
	}
	return n.postWhenReady(contracts.NoteOff{Channel: channel, Key: key})
}

// SelectProgram switches the program channel to the preset at index in the
// header table. A valid selection made while paused is dropped.
func (n *Node) SelectProgram(index int) error {
	n.mu.Lock()
	if index < 0 || index >= len(n.headers) {
		count := len(n.headers)
		n.mu.Unlock()
		return &contracts.InvalidSelectionError{Index: index, Count: count}
	}
	if n.paused {
		n.dropped++
		n.mu.Unlock()
		return nil
	}
	h := n.headers[index]
	n.mu.Unlock()

	return n.port.PostMessage(contracts.ProgramSelect{Channel: n.channel, Preset: h.Preset, Bank: h.Bank})
}

// SelectPreset switches the program channel to the header with the given
// preset and bank numbers. Before Ready or while paused the request is
// dropped.
func (n *Node) SelectPreset(preset, bank uint16) error {
	n.mu.Lock()
	if n.state != contracts.StateReady || n.paused {
		n.dropped++
		n.mu.Unlock()
		return nil
	}
	found := false
	for _, h := range n.headers {
		if h.Preset == preset && h.Bank == bank {
			found = true
			break
		}
	}
	n.mu.Unlock()

	if !found {
		return fmt.Errorf("%w: preset=%d bank=%d", ErrUnknownPreset, preset, bank)
	}
	return n.port.PostMessage(contracts.ProgramSelect{Channel: n.channel, Preset: preset, Bank: bank})
}

func (n *Node) postWhenReady(cmd contracts.Command) error {
	n.mu.Lock()
	if n.state != contracts.StateReady || n.paused {
		n.dropped++
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()
	return n.port.PostMessage(cmd)
}

func (n *Node) setPaused(paused bool) {
	n.mu.Lock()
	n.paused = paused
	n.mu.Unlock()
	n.logger.Debug("Node pause changed", n.logger.Field().Bool("paused", paused))
}

// Paused reports whether events are being dropped for a paused session.
func (n *Node) Paused() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.paused
}

// PresetHeaders returns a copy of the preset table, empty before Ready.
func (n *Node) PresetHeaders() []contracts.PresetHeader {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]contracts.PresetHeader(nil), n.headers...)
}

// State reports the handshake state.
func (n *Node) State() contracts.SessionState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Dropped counts events discarded because the session was not Ready or was
// paused.
func (n *Node) Dropped() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Err returns the fault that ended the session, if any.
func (n *Node) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Ready is closed once the preset headers are known.
func (n *Node) Ready() <-chan struct{} {
	return n.ready
}

// Done is closed when the session faults or the render side is torn down.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// WaitReady blocks until the session is Ready, ends, or ctx is done.
func (n *Node) WaitReady(ctx context.Context) error {
	select {
	case <-n.ready:
		return nil
	case <-n.done:
		select {
		case <-n.ready:
			return nil
		default:
		}
		if err := n.Err(); err != nil {
			return err
		}
		return contracts.ErrPortClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
