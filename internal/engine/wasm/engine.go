package wasm

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/leandrodaf/sfworklet/sdk/contracts"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
)

const defaultFrames = 4096

// Engine is a guest synthesizer instance. Calls reuse a single stack so the
// note and render paths do not allocate.
type Engine struct {
	ctx     context.Context
	runtime wazero.Runtime
	mod     api.Module

	noteOn        api.Function
	noteOff       api.Function
	programSelect api.Function
	render        api.Function

	stack   []uint64
	headers []contracts.PresetHeader
	left    []float32
	right   []float32
	out     [][]float32

	// err holds the first trap raised by a fire-and-forget call; it surfaces
	// from the next RenderBlock.
	err error
}

func newEngine(ctx context.Context, rt wazero.Runtime, compiled wazero.CompiledModule, bank []byte, sampleRate int) (*Engine, error) {
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("instantiate: %w", err)
	}

	e := &Engine{
		ctx:           ctx,
		runtime:       rt,
		mod:           mod,
		noteOn:        mod.ExportedFunction("synth_note_on"),
		noteOff:       mod.ExportedFunction("synth_note_off"),
		programSelect: mod.ExportedFunction("synth_program_select"),
		render:        mod.ExportedFunction("synth_render"),
		stack:         make([]uint64, 3),
	}
	e.grow(defaultFrames)

	if err := e.load(bank, sampleRate); err != nil {
		return nil, multierr.Append(err, mod.Close(ctx))
	}
	return e, nil
}

func (e *Engine) load(bank []byte, sampleRate int) error {
	res, err := e.mod.ExportedFunction("synth_alloc").Call(e.ctx, api.EncodeU32(uint32(len(bank))))
	if err != nil {
		return fmt.Errorf("synth_alloc: %w", err)
	}
	ptr := api.DecodeU32(res[0])
	if !e.mod.Memory().Write(ptr, bank) {
		return fmt.Errorf("bank of %d bytes does not fit guest memory at %#x", len(bank), ptr)
	}

	res, err = e.mod.ExportedFunction("synth_new").Call(e.ctx,
		api.EncodeU32(ptr), api.EncodeU32(uint32(len(bank))), api.EncodeU32(uint32(sampleRate)))
	if err != nil {
		return fmt.Errorf("synth_new: %w", err)
	}
	if status := api.DecodeI32(res[0]); status != 0 {
		return fmt.Errorf("synth_new returned status %d", status)
	}

	headers, err := e.readPresets()
	if err != nil {
		return err
	}
	sort.SliceStable(headers, func(i, j int) bool {
		if headers[i].Bank != headers[j].Bank {
			return headers[i].Bank < headers[j].Bank
		}
		return headers[i].Preset < headers[j].Preset
	})
	e.headers = headers
	return nil
}

func (e *Engine) readPresets() ([]contracts.PresetHeader, error) {
	res, err := e.mod.ExportedFunction("synth_preset_count").Call(e.ctx)
	if err != nil {
		return nil, fmt.Errorf("synth_preset_count: %w", err)
	}
	count := int(api.DecodeI32(res[0]))

	nameFn := e.mod.ExportedFunction("synth_preset_name")
	numberFn := e.mod.ExportedFunction("synth_preset_number")
	bankFn := e.mod.ExportedFunction("synth_preset_bank")

	headers := make([]contracts.PresetHeader, 0, count)
	for i := 0; i < count; i++ {
		idx := api.EncodeI32(int32(i))

		packed, err := nameFn.Call(e.ctx, idx)
		if err != nil {
			return nil, fmt.Errorf("synth_preset_name(%d): %w", i, err)
		}
		name, err := e.readString(packed[0])
		if err != nil {
			return nil, fmt.Errorf("preset %d: %w", i, err)
		}
		number, err := numberFn.Call(e.ctx, idx)
		if err != nil {
			return nil, fmt.Errorf("synth_preset_number(%d): %w", i, err)
		}
		bank, err := bankFn.Call(e.ctx, idx)
		if err != nil {
			return nil, fmt.Errorf("synth_preset_bank(%d): %w", i, err)
		}

		headers = append(headers, contracts.PresetHeader{
			Name:   name,
			Preset: uint16(api.DecodeI32(number[0])),
			Bank:   uint16(api.DecodeI32(bank[0])),
		})
	}
	return headers, nil
}

func (e *Engine) readString(packed uint64) (string, error) {
	ptr, n := unpack(packed)
	b, ok := e.mod.Memory().Read(ptr, n)
	if !ok {
		return "", fmt.Errorf("string at %#x+%d outside guest memory", ptr, n)
	}
	return string(b), nil
}

// unpack splits a ptr<<32|len pair.
func unpack(v uint64) (ptr, n uint32) {
	return uint32(v >> 32), uint32(v)
}

func (e *Engine) call(fn api.Function, args ...uint32) {
	if e.err != nil {
		return
	}
	for i, a := range args {
		e.stack[i] = api.EncodeU32(a)
	}
	if err := fn.CallWithStack(e.ctx, e.stack); err != nil {
		e.err = fmt.Errorf("%s: %w", exportName(fn), err)
	}
}

// exportName names fn by its export; guests rarely ship a name section.
func exportName(fn api.Function) string {
	def := fn.Definition()
	if names := def.ExportNames(); len(names) > 0 {
		return names[0]
	}
	return def.DebugName()
}

func (e *Engine) NoteOn(channel, key, velocity uint8) {
	e.call(e.noteOn, uint32(channel), uint32(key), uint32(velocity))
}

func (e *Engine) NoteOff(channel, key uint8) {
	e.call(e.noteOff, uint32(channel), uint32(key))
}

func (e *Engine) ProgramSelect(channel uint8, preset, bank uint16) {
	e.call(e.programSelect, uint32(channel), uint32(bank), uint32(preset))
}

func (e *Engine) PresetHeaders() []contracts.PresetHeader {
	return e.headers
}

// RenderBlock asks the guest for frames of planar stereo audio and decodes it
// into reused buffers.
func (e *Engine) RenderBlock(frames int) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if frames > len(e.left) {
		e.grow(frames)
	}

	e.stack[0] = api.EncodeU32(uint32(frames))
	if err := e.render.CallWithStack(e.ctx, e.stack); err != nil {
		e.err = fmt.Errorf("synth_render: %w", err)
		return nil, e.err
	}
	ptr := api.DecodeU32(e.stack[0])

	raw, ok := e.mod.Memory().Read(ptr, uint32(frames*8))
	if !ok {
		e.err = fmt.Errorf("synth_render returned %#x outside guest memory", ptr)
		return nil, e.err
	}

	left, right := e.left[:frames], e.right[:frames]
	decodePlanar(raw, left, right)
	e.out[0], e.out[1] = left, right
	return e.out, nil
}

func (e *Engine) grow(frames int) {
	e.left = make([]float32, frames)
	e.right = make([]float32, frames)
	e.out = [][]float32{e.left, e.right}
}

// decodePlanar reads len(left) little endian floats into left, then as many
// into right.
func decodePlanar(raw []byte, left, right []float32) {
	n := len(left)
	for i := 0; i < n; i++ {
		left[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		right[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*(n+i):]))
	}
}

// Close releases the guest instance and its runtime.
func (e *Engine) Close() error {
	return multierr.Combine(e.mod.Close(e.ctx), e.runtime.Close(e.ctx))
}
