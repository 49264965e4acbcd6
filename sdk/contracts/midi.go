package contracts

// MIDI represents a decoded channel voice message captured from a control surface.
type MIDI struct {
	Timestamp uint64 // Timestamp indicates the time the event occurred.
	Command   byte   // Command is the status nibble (NoteOn, NoteOff, ProgramChange).
	Channel   byte   // Channel is the zero based MIDI channel (0-15).
	Note      byte   // Note represents the MIDI note number (0-127), or the program for ProgramChange.
	Velocity  byte   // Velocity indicates the strength of the note being played (0-127).
}

// DeviceInfo contains information about a MIDI device.
type DeviceInfo struct {
	Name         string // Device name.
	Manufacturer string // Device manufacturer.
	EntityName   string // Name of the entity to which the device belongs.
}

// ClientMIDI defines an interface for MIDI client operations.
type ClientMIDI interface {
	Stop() error                         // Stops the MIDI client and releases resources.
	ListDevices() ([]DeviceInfo, error)  // Lists all available MIDI devices.
	SelectDevice(deviceID int) error     // Selects a MIDI device by its ID for communication.
	StartCapture(eventChannel chan MIDI) // Starts capturing MIDI events and sends them to the specified channel.
}
