// Package soundfont provides the built-in engine: a SoundFont 2 synthesizer
// backed by go-meltysynth.
package soundfont

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/leandrodaf/sfworklet/sdk/contracts"
	"github.com/sinshu/go-meltysynth/meltysynth"
)

const (
	// defaultFrames sizes the render buffers up front so typical block
	// sizes never allocate on the render path.
	defaultFrames = 4096

	controlChange = 0xB0
	programChange = 0xC0
	bankSelectMSB = 0x00
)

// Engine adapts a meltysynth.Synthesizer to contracts.Engine.
type Engine struct {
	synth   *meltysynth.Synthesizer
	headers []contracts.PresetHeader
	left    []float32
	right   []float32
	out     [][]float32
}

// New parses bank as a SoundFont and builds a synthesizer at sampleRate.
func New(bank []byte, sampleRate int) (contracts.Engine, error) {
	sf, err := meltysynth.NewSoundFont(bytes.NewReader(bank))
	if err != nil {
		return nil, fmt.Errorf("parse soundfont: %w", err)
	}

	settings := meltysynth.NewSynthesizerSettings(int32(sampleRate))
	synth, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return nil, fmt.Errorf("create synthesizer: %w", err)
	}

	headers := make([]contracts.PresetHeader, 0, len(sf.Presets))
	for _, p := range sf.Presets {
		headers = append(headers, contracts.PresetHeader{
			Name:   p.Name,
			Preset: uint16(p.PatchNumber),
			Bank:   uint16(p.BankNumber),
		})
	}
	sortHeaders(headers)

	e := &Engine{
		synth:   synth,
		headers: headers,
	}
	e.grow(defaultFrames)
	return e, nil
}

// sortHeaders orders by bank, then preset.
func sortHeaders(headers []contracts.PresetHeader) {
	sort.SliceStable(headers, func(i, j int) bool {
		if headers[i].Bank != headers[j].Bank {
			return headers[i].Bank < headers[j].Bank
		}
		return headers[i].Preset < headers[j].Preset
	})
}

func (e *Engine) grow(frames int) {
	e.left = make([]float32, frames)
	e.right = make([]float32, frames)
	e.out = [][]float32{e.left, e.right}
}

func (e *Engine) NoteOn(channel, key, velocity uint8) {
	e.synth.NoteOn(int32(channel), int32(key), int32(velocity))
}

func (e *Engine) NoteOff(channel, key uint8) {
	e.synth.NoteOff(int32(channel), int32(key))
}

// ProgramSelect sends a bank select followed by a program change.
func (e *Engine) ProgramSelect(channel uint8, preset, bank uint16) {
	e.synth.ProcessMidiMessage(int32(channel), controlChange, bankSelectMSB, int32(bank))
	e.synth.ProcessMidiMessage(int32(channel), programChange, int32(preset), 0)
}

func (e *Engine) PresetHeaders() []contracts.PresetHeader {
	return e.headers
}

// RenderBlock renders frames of stereo audio. Requests larger than any seen
// before reallocate once.
func (e *Engine) RenderBlock(frames int) ([][]float32, error) {
	if frames > len(e.left) {
		e.grow(frames)
	}
	left, right := e.left[:frames], e.right[:frames]
	e.synth.Render(left, right)
	e.out[0], e.out[1] = left, right
	return e.out, nil
}

// Compiler is the contracts.Compiler for the built-in engine. The synthesizer
// is linked into the binary, so the module payload carries no code and is
// accepted as is.
type Compiler struct {
	logger contracts.Logger
}

// NewCompiler returns a Compiler that logs through logger.
func NewCompiler(logger contracts.Logger) *Compiler {
	return &Compiler{logger: logger}
}

// Compile returns New.
func (c *Compiler) Compile(_ context.Context, module []byte) (contracts.Constructor, error) {
	c.logger.Debug("Using built-in SoundFont engine", c.logger.Field().Int("moduleBytes", len(module)))
	return New, nil
}
