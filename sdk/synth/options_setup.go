package synth

import (
	"errors"
	"fmt"

	"github.com/leandrodaf/sfworklet/internal/audio/otoctx"
	"github.com/leandrodaf/sfworklet/internal/engine/soundfont"
	"github.com/leandrodaf/sfworklet/internal/logger"
	"github.com/leandrodaf/sfworklet/sdk/contracts"
)

// DefaultProcessorName is the identifier the coordinator is registered under.
const DefaultProcessorName = "SoundFontSynthProcessor"

const (
	defaultSampleRate   = 44100
	defaultChannelCount = 2
	defaultBlockSize    = 128
	defaultMailboxSize  = 256
	defaultStatusBuffer = 64
)

// ErrInvalidOption is returned when an option value cannot be used.
var ErrInvalidOption = errors.New("invalid session option")

// applyDefaultOptions sets default values for SessionOptions if not explicitly provided.
func applyDefaultOptions(opts ...contracts.SessionOption) (contracts.SessionOptions, error) {
	options := &contracts.SessionOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Logger == nil {
		options.Logger = logger.NewZapLogger()
	}
	if options.LogLevel == 0 {
		options.LogLevel = contracts.InfoLevel
	}
	options.Logger.SetLevel(options.LogLevel)
	if options.LogFilePath != "" {
		options.Logger.SetDestination(contracts.FileLog, options.LogFilePath)
	}

	if options.ProcessorName == "" {
		options.ProcessorName = DefaultProcessorName
	}
	if options.SampleRate == 0 {
		options.SampleRate = defaultSampleRate
	}
	if options.ChannelCount == 0 {
		options.ChannelCount = defaultChannelCount
	}
	if options.BlockSize == 0 {
		options.BlockSize = defaultBlockSize
	}
	if options.MailboxSize == 0 {
		options.MailboxSize = defaultMailboxSize
	}
	if options.StatusBuffer == 0 {
		options.StatusBuffer = defaultStatusBuffer
	}
	if options.Compiler == nil {
		options.Compiler = soundfont.NewCompiler(options.Logger)
	}
	if options.ContextFactory == nil {
		options.ContextFactory = otoctx.New
	}

	switch {
	case options.SampleRate < 0:
		return *options, fmt.Errorf("%w: sample rate %d", ErrInvalidOption, options.SampleRate)
	case options.ChannelCount < 0:
		return *options, fmt.Errorf("%w: channel count %d", ErrInvalidOption, options.ChannelCount)
	case options.BlockSize < 0:
		return *options, fmt.Errorf("%w: block size %d", ErrInvalidOption, options.BlockSize)
	case options.MailboxSize < 0 || options.StatusBuffer < 0:
		return *options, fmt.Errorf("%w: mailbox %d/%d", ErrInvalidOption, options.MailboxSize, options.StatusBuffer)
	case options.ProgramChannel > 15:
		return *options, fmt.Errorf("%w: program channel %d", ErrInvalidOption, options.ProgramChannel)
	}
	return *options, nil
}
