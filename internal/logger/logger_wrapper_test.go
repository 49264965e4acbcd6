package logger

import (
	"errors"
	"testing"

	"github.com/leandrodaf/sfworklet/sdk/contracts"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved(level zapcore.Level) (*ZapLogger, *observer.ObservedLogs) {
	atomic := zap.NewAtomicLevelAt(level)
	core, logs := observer.New(zapcore.DebugLevel)
	return &ZapLogger{logger: zap.New(core), level: atomic}, logs
}

func TestZapLoggerWritesTypedFields(t *testing.T) {
	l, logs := newObserved(zapcore.DebugLevel)

	l.Info("preset selected",
		l.Field().Int("index", 3),
		l.Field().String("name", "Piano"),
		l.Field().Error("error", errors.New("boom")),
	)

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	require.Equal(t, int64(3), ctx["index"])
	require.Equal(t, "Piano", ctx["name"])
	require.Equal(t, "boom", ctx["error"])
}

func TestZapLoggerSetLevelFilters(t *testing.T) {
	l, logs := newObserved(zapcore.DebugLevel)

	l.SetLevel(contracts.WarnLevel)
	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	l.Error("shown")

	require.Equal(t, 2, logs.Len())
}

func TestZapLoggerIgnoresForeignFields(t *testing.T) {
	l, logs := newObserved(zapcore.DebugLevel)

	l.Info("msg", nil, zapField{})

	require.Equal(t, 1, logs.Len())
	require.Empty(t, logs.All()[0].Context)
}

func TestToZapLevelDefaultsToInfo(t *testing.T) {
	require.Equal(t, zapcore.InfoLevel, toZapLevel(0))
	require.Equal(t, zapcore.DebugLevel, toZapLevel(contracts.DebugLevel))
	require.Equal(t, zapcore.FatalLevel, toZapLevel(contracts.FatalLevel))
}
