package contracts

// SessionOptions configures a synth session.
type SessionOptions struct {
	Logger         Logger   // Logger shared by every component of the session.
	LogLevel       LogLevel // Level of logging to use.
	LogFilePath    string   // File path for logging if file logging is enabled.
	ProcessorName  string   // Name the coordinator is registered under.
	SampleRate     int      // Requested device sample rate.
	ChannelCount   int      // Output channels (1 or 2).
	BlockSize      int      // Frames per render block.
	MailboxSize    int      // Capacity of the control to render mailbox.
	StatusBuffer   int      // Capacity of the render to control channel.
	ProgramChannel uint8    // Channel SelectProgram switches.
	WaitReady      bool     // Block Setup until the session is Ready.

	Compiler       Compiler       // Turns the module payload into an engine constructor.
	ContextFactory ContextFactory // Opens the render context.

	OnPresetHeaders func([]PresetHeader) // Called once headers are known.
	OnFault         func(error)          // Called when the session becomes unusable.
	OnStateChange   func(SessionState)   // Called after every state transition.
}

// SessionOption is a function that modifies SessionOptions.
type SessionOption func(*SessionOptions)

// WithSessionLogger sets the logger for the session.
func WithSessionLogger(l Logger) SessionOption {
	return func(opts *SessionOptions) {
		opts.Logger = l
	}
}

// WithSessionLogLevel sets the logging level for the session.
func WithSessionLogLevel(level LogLevel) SessionOption {
	return func(opts *SessionOptions) {
		opts.LogLevel = level
	}
}

// WithSessionLogFile sends the session's log output to path.
func WithSessionLogFile(path string) SessionOption {
	return func(opts *SessionOptions) {
		opts.LogFilePath = path
	}
}

// WithProcessorName sets the identifier the coordinator is registered under.
func WithProcessorName(name string) SessionOption {
	return func(opts *SessionOptions) {
		opts.ProcessorName = name
	}
}

// WithSampleRate requests a device sample rate.
func WithSampleRate(rate int) SessionOption {
	return func(opts *SessionOptions) {
		opts.SampleRate = rate
	}
}

// WithChannelCount sets the number of output channels.
func WithChannelCount(n int) SessionOption {
	return func(opts *SessionOptions) {
		opts.ChannelCount = n
	}
}

// WithBlockSize sets the frames per render block.
func WithBlockSize(frames int) SessionOption {
	return func(opts *SessionOptions) {
		opts.BlockSize = frames
	}
}

// WithMailboxSize sets the capacity of both message channels.
func WithMailboxSize(commands, statuses int) SessionOption {
	return func(opts *SessionOptions) {
		opts.MailboxSize = commands
		opts.StatusBuffer = statuses
	}
}

// WithProgramChannel sets the channel SelectProgram targets.
func WithProgramChannel(channel uint8) SessionOption {
	return func(opts *SessionOptions) {
		opts.ProgramChannel = channel
	}
}

// WithWaitReady makes Setup block until the handshake completes.
func WithWaitReady() SessionOption {
	return func(opts *SessionOptions) {
		opts.WaitReady = true
	}
}

// WithCompiler sets the module compiler.
func WithCompiler(c Compiler) SessionOption {
	return func(opts *SessionOptions) {
		opts.Compiler = c
	}
}

// WithContextFactory sets how the render context is opened.
func WithContextFactory(f ContextFactory) SessionOption {
	return func(opts *SessionOptions) {
		opts.ContextFactory = f
	}
}

// WithPresetHeadersHandler registers fn to receive the preset table.
func WithPresetHeadersHandler(fn func([]PresetHeader)) SessionOption {
	return func(opts *SessionOptions) {
		opts.OnPresetHeaders = fn
	}
}

// WithFaultHandler registers fn to receive fatal session errors.
func WithFaultHandler(fn func(error)) SessionOption {
	return func(opts *SessionOptions) {
		opts.OnFault = fn
	}
}

// WithStateHandler registers fn to observe session state transitions.
func WithStateHandler(fn func(SessionState)) SessionOption {
	return func(opts *SessionOptions) {
		opts.OnStateChange = fn
	}
}
