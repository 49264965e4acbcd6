package worklet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leandrodaf/sfworklet/internal/logger"
	"github.com/leandrodaf/sfworklet/sdk/contracts"
	"github.com/stretchr/testify/require"
)

type call struct {
	name    string
	channel uint8
	key     uint8
	vel     uint8
	preset  uint16
	bank    uint16
}

type fakeEngine struct {
	calls    []call
	headers  []contracts.PresetHeader
	channels int
	level    float32
	renders  int
	err      error
	panicOn  bool
	closed   bool
	bufs     [][]float32
}

func (e *fakeEngine) NoteOn(channel, key, velocity uint8) {
	e.calls = append(e.calls, call{name: "note_on", channel: channel, key: key, vel: velocity})
}

func (e *fakeEngine) NoteOff(channel, key uint8) {
	e.calls = append(e.calls, call{name: "note_off", channel: channel, key: key})
}

func (e *fakeEngine) ProgramSelect(channel uint8, preset, bank uint16) {
	e.calls = append(e.calls, call{name: "program_select", channel: channel, preset: preset, bank: bank})
}

func (e *fakeEngine) PresetHeaders() []contracts.PresetHeader { return e.headers }

func (e *fakeEngine) RenderBlock(frames int) ([][]float32, error) {
	e.renders++
	if e.panicOn {
		panic("voice table corrupted")
	}
	if e.err != nil {
		return nil, e.err
	}
	if len(e.bufs) != e.channels || (e.channels > 0 && len(e.bufs[0]) < frames) {
		e.bufs = make([][]float32, e.channels)
		for i := range e.bufs {
			e.bufs[i] = make([]float32, frames)
		}
	}
	for ch := range e.bufs {
		for i := 0; i < frames; i++ {
			e.bufs[ch][i] = e.level * float32(ch+1)
		}
	}
	for ch := range e.bufs {
		e.bufs[ch] = e.bufs[ch][:frames]
	}
	return e.bufs, nil
}

func (e *fakeEngine) Close() error {
	e.closed = true
	return nil
}

type fakeCompiler struct {
	engine   *fakeEngine
	err      error
	buildErr error
	block    chan struct{} // holds Compile
	build    chan struct{} // holds the constructor
	ctx      context.Context
	gotBank  []byte
	gotRate  int
	modules  [][]byte
}

func (f *fakeCompiler) Compile(ctx context.Context, module []byte) (contracts.Constructor, error) {
	f.ctx = ctx
	f.modules = append(f.modules, module)
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return func(bank []byte, sampleRate int) (contracts.Engine, error) {
		if f.build != nil {
			<-f.build
		}
		f.gotBank = bank
		f.gotRate = sampleRate
		if f.buildErr != nil {
			return nil, f.buildErr
		}
		return f.engine, nil
	}, nil
}

func released(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func newTestCoordinator(c contracts.Compiler) *Coordinator {
	return NewCoordinator(c, logger.NewNopLogger(), 64, 64)
}

func stereo(frames int) [][]float32 {
	return [][]float32{make([]float32, frames), make([]float32, frames)}
}

// pump calls Process until cond holds or the deadline passes.
func pump(t *testing.T, c *Coordinator, cond func() bool) {
	t.Helper()
	out := stereo(128)
	require.Eventually(t, func() bool {
		c.Process(out)
		return cond()
	}, time.Second, time.Millisecond)
}

func recv(t *testing.T, c *Coordinator) contracts.Status {
	t.Helper()
	select {
	case s := <-c.Port().Messages():
		return s
	case <-time.After(time.Second):
		t.Fatal("no status message")
		return nil
	}
}

func readyCoordinator(t *testing.T, engine *fakeEngine) *Coordinator {
	t.Helper()
	c := newTestCoordinator(&fakeCompiler{engine: engine})
	require.NoError(t, c.Port().PostMessage(contracts.DeliverModule{Module: []byte{1}, Bank: []byte{2}}))
	pump(t, c, func() bool { return c.State() == StateAwaitingSampleRate })
	require.IsType(t, contracts.ModuleLoaded{}, recv(t, c))
	require.NoError(t, c.Port().PostMessage(contracts.InitDetector{SampleRate: 44100}))
	pump(t, c, func() bool { return c.State() == StateReady })
	require.IsType(t, contracts.SynthInitialized{}, recv(t, c))
	return c
}

func TestProcessBeforeDeliverIsSilent(t *testing.T) {
	c := newTestCoordinator(&fakeCompiler{})

	for _, frames := range []int{1, 64, 128, 512} {
		out := stereo(frames)
		for ch := range out {
			for i := range out[ch] {
				out[ch][i] = 0.5
			}
		}
		require.True(t, c.Process(out))
		for ch := range out {
			require.Len(t, out[ch], frames)
			for _, v := range out[ch] {
				require.Zero(t, v)
			}
		}
	}
	require.Equal(t, StateUninitialized, c.State())
}

func TestHandshakeOrdering(t *testing.T) {
	engine := &fakeEngine{channels: 2, headers: []contracts.PresetHeader{{Name: "Piano", Preset: 0, Bank: 0}}}
	compiler := &fakeCompiler{engine: engine}
	c := newTestCoordinator(compiler)

	module := make([]byte, 1<<20)
	bank := make([]byte, 500<<10)
	bank[0] = 1
	require.NoError(t, c.Port().PostMessage(contracts.DeliverModule{Module: module, Bank: bank}))

	pump(t, c, func() bool { return c.State() == StateAwaitingSampleRate })
	require.Equal(t, contracts.TypeModuleLoaded, recv(t, c).Type())
	require.Len(t, compiler.modules, 1)
	require.Len(t, compiler.modules[0], 1<<20)

	require.NoError(t, c.Port().PostMessage(contracts.InitDetector{SampleRate: 44100}))
	pump(t, c, func() bool { return c.State() == StateReady })
	require.Equal(t, contracts.TypeSynthInitialized, recv(t, c).Type())
	require.Equal(t, 44100, compiler.gotRate)
	require.Len(t, compiler.gotBank, 500<<10)

	require.NoError(t, c.Port().PostMessage(contracts.GetPresetHeaders{}))
	c.Process(stereo(128))
	got := recv(t, c)
	require.Equal(t, contracts.TypePresetHeadersGot, got.Type())
	require.Equal(t, engine.headers, got.(contracts.PresetHeadersGot).Headers)
}

func TestInitDetectorBeforeModuleLoadedIsDropped(t *testing.T) {
	block := make(chan struct{})
	c := newTestCoordinator(&fakeCompiler{engine: &fakeEngine{channels: 2}, block: block})

	require.NoError(t, c.Port().PostMessage(contracts.DeliverModule{Module: []byte{1}, Bank: []byte{2}}))
	require.NoError(t, c.Port().PostMessage(contracts.InitDetector{SampleRate: 44100}))
	c.Process(stereo(16))
	require.Equal(t, StateCompilingModule, c.State())

	close(block)
	pump(t, c, func() bool { return c.State() == StateAwaitingSampleRate })
	require.IsType(t, contracts.ModuleLoaded{}, recv(t, c))
	select {
	case s := <-c.Port().Messages():
		t.Fatalf("unexpected status %v", s.Type())
	default:
	}
}

func TestEventsBeforeReadyNeverReachEngine(t *testing.T) {
	engine := &fakeEngine{channels: 2}
	block := make(chan struct{})
	c := newTestCoordinator(&fakeCompiler{engine: engine, block: block})

	post := func() {
		require.NoError(t, c.Port().PostMessage(contracts.NoteOn{Channel: 0, Key: 60, Velocity: 100}))
		require.NoError(t, c.Port().PostMessage(contracts.NoteOff{Channel: 0, Key: 60}))
		require.NoError(t, c.Port().PostMessage(contracts.ProgramSelect{Preset: 1}))
	}

	post()
	c.Process(stereo(32))
	require.NoError(t, c.Port().PostMessage(contracts.DeliverModule{Module: []byte{1}, Bank: []byte{2}}))
	post()
	c.Process(stereo(32))
	close(block)
	pump(t, c, func() bool { return c.State() == StateAwaitingSampleRate })
	post()
	c.Process(stereo(32))

	require.NoError(t, c.Port().PostMessage(contracts.InitDetector{SampleRate: 48000}))
	pump(t, c, func() bool { return c.State() == StateReady })

	require.Empty(t, engine.calls)
	require.Equal(t, uint64(9), c.Dropped())
}

func TestNoteOnReachesEngineBeforeNextRender(t *testing.T) {
	engine := &fakeEngine{channels: 2}
	c := readyCoordinator(t, engine)
	renders := engine.renders

	require.NoError(t, c.Port().PostMessage(contracts.NoteOn{Channel: 0, Key: 60, Velocity: 100}))
	c.Process(stereo(128))

	require.Equal(t, []call{{name: "note_on", channel: 0, key: 60, vel: 100}}, engine.calls)
	require.Equal(t, renders+1, engine.renders)
}

func TestMessagesAppliedInSendOrder(t *testing.T) {
	engine := &fakeEngine{channels: 2}
	c := readyCoordinator(t, engine)

	require.NoError(t, c.Port().PostMessage(contracts.ProgramSelect{Channel: 0, Preset: 5, Bank: 1}))
	require.NoError(t, c.Port().PostMessage(contracts.NoteOn{Channel: 0, Key: 64, Velocity: 90}))
	require.NoError(t, c.Port().PostMessage(contracts.NoteOff{Channel: 0, Key: 64}))
	c.Process(stereo(64))

	require.Equal(t, []call{
		{name: "program_select", channel: 0, preset: 5, bank: 1},
		{name: "note_on", channel: 0, key: 64, vel: 90},
		{name: "note_off", channel: 0, key: 64},
	}, engine.calls)
}

func TestProcessCopiesChannels(t *testing.T) {
	engine := &fakeEngine{channels: 2, level: 0.25}
	c := readyCoordinator(t, engine)

	out := stereo(128)
	require.True(t, c.Process(out))
	require.Equal(t, float32(0.25), out[0][0])
	require.Equal(t, float32(0.5), out[1][127])
}

func TestProcessZeroesMissingEngineChannel(t *testing.T) {
	engine := &fakeEngine{channels: 1, level: 0.25}
	c := readyCoordinator(t, engine)

	out := stereo(64)
	for i := range out[1] {
		out[1][i] = 0.9
	}
	require.True(t, c.Process(out))
	require.Equal(t, float32(0.25), out[0][10])
	for _, v := range out[1] {
		require.Zero(t, v)
	}
}

func TestProcessMonoOutput(t *testing.T) {
	engine := &fakeEngine{channels: 2, level: 0.25}
	c := readyCoordinator(t, engine)

	out := [][]float32{make([]float32, 32)}
	require.True(t, c.Process(out))
	require.Equal(t, float32(0.25), out[0][31])
}

func TestCompileFailureFaults(t *testing.T) {
	c := newTestCoordinator(&fakeCompiler{err: errors.New("bad magic")})

	require.NoError(t, c.Port().PostMessage(contracts.DeliverModule{Module: []byte{1}, Bank: []byte{2}}))
	pump(t, c, func() bool { return c.State() == StateFaulted })

	fault, ok := recv(t, c).(contracts.ProcessorFault)
	require.True(t, ok)
	var compileErr *contracts.CompileError
	require.ErrorAs(t, fault.Err, &compileErr)
	require.Contains(t, fault.Message(), "bad magic")
}

func TestMissingBankFaults(t *testing.T) {
	c := newTestCoordinator(&fakeCompiler{engine: &fakeEngine{channels: 2}})

	require.NoError(t, c.Port().PostMessage(contracts.DeliverModule{Module: []byte{1}}))
	pump(t, c, func() bool { return c.State() == StateAwaitingSampleRate })
	recv(t, c)

	require.NoError(t, c.Port().PostMessage(contracts.InitDetector{SampleRate: 44100}))
	c.Process(stereo(8))

	require.Equal(t, StateFaulted, c.State())
	fault := recv(t, c).(contracts.ProcessorFault)
	require.ErrorIs(t, fault.Err, contracts.ErrMissingBank)
}

func TestRenderPanicIsIsolated(t *testing.T) {
	engine := &fakeEngine{channels: 2, level: 1}
	c := readyCoordinator(t, engine)
	engine.panicOn = true

	out := stereo(64)
	out[0][0] = 1
	require.True(t, c.Process(out))
	require.Zero(t, out[0][0])
	require.Equal(t, StateFaulted, c.State())
	require.True(t, engine.closed)

	fault := recv(t, c).(contracts.ProcessorFault)
	require.ErrorIs(t, fault.Err, contracts.ErrProcessorPanic)

	out[1][3] = 1
	require.True(t, c.Process(out))
	require.Zero(t, out[1][3])
}

func TestRenderErrorFaults(t *testing.T) {
	engine := &fakeEngine{channels: 2}
	c := readyCoordinator(t, engine)
	engine.err = errors.New("trap")

	require.True(t, c.Process(stereo(16)))
	require.Equal(t, StateFaulted, c.State())
	require.Contains(t, recv(t, c).(contracts.ProcessorFault).Message(), "trap")
}

func TestSecondDeliverIsIgnored(t *testing.T) {
	compiler := &fakeCompiler{engine: &fakeEngine{channels: 2}}
	c := newTestCoordinator(compiler)

	require.NoError(t, c.Port().PostMessage(contracts.DeliverModule{Module: []byte{1}, Bank: []byte{2}}))
	require.NoError(t, c.Port().PostMessage(contracts.DeliverModule{Module: []byte{3}, Bank: []byte{4}}))
	pump(t, c, func() bool { return c.State() == StateAwaitingSampleRate })

	require.Len(t, compiler.modules, 1)
}

func TestMailboxFull(t *testing.T) {
	c := NewCoordinator(&fakeCompiler{}, logger.NewNopLogger(), 1, 1)

	require.NoError(t, c.Port().PostMessage(contracts.GetPresetHeaders{}))
	require.ErrorIs(t, c.Port().PostMessage(contracts.GetPresetHeaders{}), contracts.ErrMailboxFull)
}

func TestCloseClosesStatusChannel(t *testing.T) {
	engine := &fakeEngine{channels: 2}
	c := readyCoordinator(t, engine)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.True(t, engine.closed)

	_, open := <-c.Port().Messages()
	require.False(t, open)
	require.ErrorIs(t, c.Port().PostMessage(contracts.NoteOn{}), contracts.ErrPortClosed)
}

func TestConstructionRunsOffRenderGoroutine(t *testing.T) {
	engine := &fakeEngine{channels: 2, level: 1}
	build := make(chan struct{})
	c := newTestCoordinator(&fakeCompiler{engine: engine, build: build})

	require.NoError(t, c.Port().PostMessage(contracts.DeliverModule{Module: []byte{1}, Bank: []byte{2}}))
	pump(t, c, func() bool { return c.State() == StateAwaitingSampleRate })
	recv(t, c)

	require.NoError(t, c.Port().PostMessage(contracts.InitDetector{SampleRate: 44100}))
	out := stereo(64)
	require.True(t, c.Process(out))
	require.Equal(t, StateConstructingEngine, c.State())
	require.Zero(t, out[0][0])

	require.NoError(t, c.Port().PostMessage(contracts.NoteOn{Channel: 0, Key: 60, Velocity: 100}))
	c.Process(out)
	require.Equal(t, uint64(1), c.Dropped())

	close(build)
	pump(t, c, func() bool { return c.State() == StateReady })
	require.IsType(t, contracts.SynthInitialized{}, recv(t, c))
	require.Empty(t, engine.calls)

	c.Process(out)
	require.Equal(t, float32(1), out[0][0])
}

func TestConstructErrorFaults(t *testing.T) {
	compiler := &fakeCompiler{buildErr: errors.New("bad soundfont")}
	c := newTestCoordinator(compiler)

	require.NoError(t, c.Port().PostMessage(contracts.DeliverModule{Module: []byte{1}, Bank: []byte{2}}))
	pump(t, c, func() bool { return c.State() == StateAwaitingSampleRate })
	recv(t, c)

	require.NoError(t, c.Port().PostMessage(contracts.InitDetector{SampleRate: 44100}))
	pump(t, c, func() bool { return c.State() == StateFaulted })

	fault := recv(t, c).(contracts.ProcessorFault)
	require.Contains(t, fault.Message(), "construct engine")
	require.Contains(t, fault.Message(), "bad soundfont")
	require.True(t, released(compiler.ctx))
}

func TestCompiledModuleReleasedOnFault(t *testing.T) {
	compiler := &fakeCompiler{engine: &fakeEngine{channels: 2}}
	c := newTestCoordinator(compiler)

	require.NoError(t, c.Port().PostMessage(contracts.DeliverModule{Module: []byte{1}}))
	pump(t, c, func() bool { return c.State() == StateAwaitingSampleRate })
	recv(t, c)
	require.False(t, released(compiler.ctx))

	require.NoError(t, c.Port().PostMessage(contracts.InitDetector{SampleRate: 44100}))
	c.Process(stereo(8))

	require.Equal(t, StateFaulted, c.State())
	require.True(t, released(compiler.ctx))
}

func TestCompiledModuleReleasedOnInvalidRate(t *testing.T) {
	compiler := &fakeCompiler{engine: &fakeEngine{channels: 2}}
	c := newTestCoordinator(compiler)

	require.NoError(t, c.Port().PostMessage(contracts.DeliverModule{Module: []byte{1}, Bank: []byte{2}}))
	pump(t, c, func() bool { return c.State() == StateAwaitingSampleRate })
	recv(t, c)

	require.NoError(t, c.Port().PostMessage(contracts.InitDetector{SampleRate: 0}))
	c.Process(stereo(8))

	require.Equal(t, StateFaulted, c.State())
	require.True(t, released(compiler.ctx))
}

func TestCompiledModuleReleasedOnClose(t *testing.T) {
	compiler := &fakeCompiler{engine: &fakeEngine{channels: 2}}
	c := newTestCoordinator(compiler)

	require.NoError(t, c.Port().PostMessage(contracts.DeliverModule{Module: []byte{1}, Bank: []byte{2}}))
	pump(t, c, func() bool { return c.State() == StateAwaitingSampleRate })
	require.False(t, released(compiler.ctx))

	require.NoError(t, c.Close())
	require.True(t, released(compiler.ctx))
}

func TestCompiledModuleReleasedAfterConstruct(t *testing.T) {
	compiler := &fakeCompiler{engine: &fakeEngine{channels: 2}}
	c := newTestCoordinator(compiler)

	require.NoError(t, c.Port().PostMessage(contracts.DeliverModule{Module: []byte{1}, Bank: []byte{2}}))
	pump(t, c, func() bool { return c.State() == StateAwaitingSampleRate })
	require.NoError(t, c.Port().PostMessage(contracts.InitDetector{SampleRate: 44100}))
	pump(t, c, func() bool { return c.State() == StateReady })

	require.True(t, released(compiler.ctx))
}

func TestCloseDuringConstructionClosesEngine(t *testing.T) {
	engine := &fakeEngine{channels: 2}
	build := make(chan struct{})
	c := newTestCoordinator(&fakeCompiler{engine: engine, build: build})

	require.NoError(t, c.Port().PostMessage(contracts.DeliverModule{Module: []byte{1}, Bank: []byte{2}}))
	pump(t, c, func() bool { return c.State() == StateAwaitingSampleRate })
	require.NoError(t, c.Port().PostMessage(contracts.InitDetector{SampleRate: 44100}))
	c.Process(stereo(8))
	require.Equal(t, StateConstructingEngine, c.State())

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(build)
	}()
	require.NoError(t, c.Close())
	require.True(t, engine.closed)
}
