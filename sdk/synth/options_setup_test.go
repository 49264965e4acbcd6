package synth

import (
	"testing"

	"github.com/leandrodaf/sfworklet/internal/logger"
	"github.com/leandrodaf/sfworklet/sdk/contracts"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaultOptions(t *testing.T) {
	opts, err := applyDefaultOptions(contracts.WithSessionLogger(logger.NewNopLogger()))
	require.NoError(t, err)

	require.Equal(t, DefaultProcessorName, opts.ProcessorName)
	require.Equal(t, 44100, opts.SampleRate)
	require.Equal(t, 2, opts.ChannelCount)
	require.Equal(t, 128, opts.BlockSize)
	require.Equal(t, 256, opts.MailboxSize)
	require.Equal(t, 64, opts.StatusBuffer)
	require.Equal(t, contracts.InfoLevel, opts.LogLevel)
	require.NotNil(t, opts.Compiler)
	require.NotNil(t, opts.ContextFactory)
}

func TestApplyDefaultOptionsRejectsInvalid(t *testing.T) {
	_, err := applyDefaultOptions(
		contracts.WithSessionLogger(logger.NewNopLogger()),
		contracts.WithBlockSize(-1),
	)
	require.ErrorIs(t, err, ErrInvalidOption)

	_, err = applyDefaultOptions(
		contracts.WithSessionLogger(logger.NewNopLogger()),
		contracts.WithProgramChannel(16),
	)
	require.ErrorIs(t, err, ErrInvalidOption)
}
