package contracts

// MessageType is the discriminant carried by every message crossing the
// control/render boundary.
type MessageType string

// Control to render direction.
const (
	TypeDeliverModule    MessageType = "deliver-module"
	TypeInitDetector     MessageType = "init-detector"
	TypeNoteOn           MessageType = "note-on"
	TypeNoteOff          MessageType = "note-off"
	TypeProgramSelect    MessageType = "program-select"
	TypeGetPresetHeaders MessageType = "get-preset-headers"
)

// Render to control direction.
const (
	TypeModuleLoaded     MessageType = "module-loaded"
	TypeSynthInitialized MessageType = "synth-initialized"
	TypePresetHeadersGot MessageType = "preset-headers-got"
	TypeProcessorFault   MessageType = "processor-fault"
)

// Command is a message posted by the control side into the render side's mailbox.
type Command interface {
	Type() MessageType
	command()
}

// Status is a message posted by the render side back to the control side.
type Status interface {
	Type() MessageType
	status()
}

// DeliverModule hands the module and bank payloads to the render side. The
// sender must not touch either slice afterwards.
type DeliverModule struct {
	Module []byte
	Bank   []byte
}

// InitDetector carries the render context's sample rate so the engine can be built.
type InitDetector struct {
	SampleRate int
}

// NoteOn starts a note.
type NoteOn struct {
	Channel  uint8
	Key      uint8
	Velocity uint8
}

// NoteOff releases a note.
type NoteOff struct {
	Channel uint8
	Key     uint8
}

// ProgramSelect switches a channel to the given preset.
type ProgramSelect struct {
	Channel uint8
	Preset  uint16
	Bank    uint16
}

// GetPresetHeaders asks the render side for the engine's preset table.
type GetPresetHeaders struct{}

func (DeliverModule) Type() MessageType    { return TypeDeliverModule }
func (InitDetector) Type() MessageType     { return TypeInitDetector }
func (NoteOn) Type() MessageType           { return TypeNoteOn }
func (NoteOff) Type() MessageType          { return TypeNoteOff }
func (ProgramSelect) Type() MessageType    { return TypeProgramSelect }
func (GetPresetHeaders) Type() MessageType { return TypeGetPresetHeaders }

func (DeliverModule) command()    {}
func (InitDetector) command()     {}
func (NoteOn) command()           {}
func (NoteOff) command()          {}
func (ProgramSelect) command()    {}
func (GetPresetHeaders) command() {}

// ModuleLoaded reports that the module payload compiled.
type ModuleLoaded struct{}

// SynthInitialized reports that the engine exists and accepts events.
type SynthInitialized struct{}

// PresetHeadersGot carries a copy of the engine's ordered preset table.
type PresetHeadersGot struct {
	Headers []PresetHeader
}

// ProcessorFault reports an unrecoverable failure inside the render context.
type ProcessorFault struct {
	Err error
}

// Message returns the human readable fault description.
func (f ProcessorFault) Message() string {
	if f.Err == nil {
		return "unknown processor fault"
	}
	return f.Err.Error()
}

func (ModuleLoaded) Type() MessageType     { return TypeModuleLoaded }
func (SynthInitialized) Type() MessageType { return TypeSynthInitialized }
func (PresetHeadersGot) Type() MessageType { return TypePresetHeadersGot }
func (ProcessorFault) Type() MessageType   { return TypeProcessorFault }

func (ModuleLoaded) status()     {}
func (SynthInitialized) status() {}
func (PresetHeadersGot) status() {}
func (ProcessorFault) status()   {}

// MessagePort is the control side's end of the channel pair connecting it to a
// registered processor.
type MessagePort interface {
	// PostMessage enqueues cmd without blocking.
	PostMessage(cmd Command) error
	// Messages delivers status messages in the order they were posted. It is
	// closed when the processor is torn down.
	Messages() <-chan Status
}
