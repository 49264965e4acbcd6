// Package wasm compiles a WebAssembly synthesis module with wazero and drives
// it as a contracts.Engine.
//
// The guest must export a linear memory named "memory" and these functions:
//
//	synth_alloc(len i32) -> ptr i32
//	synth_new(bank_ptr i32, bank_len i32, sample_rate i32) -> status i32
//	synth_note_on(channel i32, key i32, velocity i32)
//	synth_note_off(channel i32, key i32)
//	synth_program_select(channel i32, bank i32, preset i32)
//	synth_preset_count() -> i32
//	synth_preset_name(index i32) -> i64   ; ptr << 32 | len
//	synth_preset_number(index i32) -> i32
//	synth_preset_bank(index i32) -> i32
//	synth_render(frames i32) -> ptr i32   ; planar f32 little endian, left then right
//
// A non-zero status from synth_new fails construction.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/leandrodaf/sfworklet/sdk/contracts"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/multierr"
)

var (
	// ErrMissingExport is returned when the module lacks part of the guest ABI.
	ErrMissingExport = errors.New("module does not implement the synth ABI")
	// ErrReleased is returned by a Constructor called twice or after its
	// compile context was done.
	ErrReleased = errors.New("compiled module released")
)

const memoryExport = "memory"

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

type signature struct {
	params  []api.ValueType
	results []api.ValueType
}

var abi = map[string]signature{
	"synth_alloc":          {params: []api.ValueType{i32}, results: []api.ValueType{i32}},
	"synth_new":            {params: []api.ValueType{i32, i32, i32}, results: []api.ValueType{i32}},
	"synth_note_on":        {params: []api.ValueType{i32, i32, i32}},
	"synth_note_off":       {params: []api.ValueType{i32, i32}},
	"synth_program_select": {params: []api.ValueType{i32, i32, i32}},
	"synth_preset_count":   {results: []api.ValueType{i32}},
	"synth_preset_name":    {params: []api.ValueType{i32}, results: []api.ValueType{i64}},
	"synth_preset_number":  {params: []api.ValueType{i32}, results: []api.ValueType{i32}},
	"synth_preset_bank":    {params: []api.ValueType{i32}, results: []api.ValueType{i32}},
	"synth_render":         {params: []api.ValueType{i32}, results: []api.ValueType{i32}},
}

// Compiler compiles module payloads ahead of engine construction.
type Compiler struct {
	logger contracts.Logger
	config wazero.RuntimeConfig
}

// NewCompiler returns a Compiler using wazero's default runtime configuration.
func NewCompiler(logger contracts.Logger) *Compiler {
	return &Compiler{logger: logger, config: wazero.NewRuntimeConfig()}
}

// Compile validates and compiles module. The returned Constructor may be
// called once; the engine it builds owns the runtime. If ctx is done before
// that, the runtime is closed.
func (c *Compiler) Compile(ctx context.Context, module []byte) (contracts.Constructor, error) {
	rt := wazero.NewRuntimeWithConfig(ctx, c.config)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, multierr.Append(fmt.Errorf("instantiate wasi: %w", err), rt.Close(ctx))
	}

	compiled, err := rt.CompileModule(ctx, module)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("compile: %w", err), rt.Close(ctx))
	}

	if err := checkExports(compiled); err != nil {
		return nil, multierr.Append(err, rt.Close(ctx))
	}

	c.logger.Info("Synthesis module compiled",
		c.logger.Field().Int("bytes", len(module)),
		c.logger.Field().Int("exports", len(compiled.ExportedFunctions())))

	var consumed atomic.Bool
	stop := context.AfterFunc(ctx, func() {
		if consumed.CompareAndSwap(false, true) {
			if err := rt.Close(context.Background()); err != nil {
				c.logger.Warn("Failed to release compiled module", c.logger.Field().Error("error", err))
			}
			c.logger.Debug("Compiled module released")
		}
	})

	return func(bank []byte, sampleRate int) (contracts.Engine, error) {
		if ctx.Err() != nil || !consumed.CompareAndSwap(false, true) {
			return nil, ErrReleased
		}
		stop()

		e, err := newEngine(context.Background(), rt, compiled, bank, sampleRate)
		if err != nil {
			return nil, multierr.Append(err, rt.Close(context.Background()))
		}
		return e, nil
	}, nil
}

func checkExports(compiled wazero.CompiledModule) error {
	if _, ok := compiled.ExportedMemories()[memoryExport]; !ok {
		return fmt.Errorf("%w: no exported %q", ErrMissingExport, memoryExport)
	}

	fns := compiled.ExportedFunctions()
	for name, want := range abi {
		def, ok := fns[name]
		if !ok {
			return fmt.Errorf("%w: no exported function %q", ErrMissingExport, name)
		}
		if !slices.Equal(def.ParamTypes(), want.params) || !slices.Equal(def.ResultTypes(), want.results) {
			return fmt.Errorf("%w: %q has signature %v -> %v", ErrMissingExport, name, def.ParamTypes(), def.ResultTypes())
		}
	}
	return nil
}
