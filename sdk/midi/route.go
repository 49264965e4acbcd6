package midi

import (
	"context"
	"errors"

	"github.com/leandrodaf/sfworklet/sdk/contracts"
)

// NoteSink receives the events a control surface produces. *synth.Node
// implements it.
type NoteSink interface {
	SendNoteOn(channel, key, velocity uint8) error
	SendNoteOff(channel, key uint8) error
	SelectPreset(preset, bank uint16) error
}

// Route forwards captured events to sink until events is closed or ctx is
// done. Program change selects the preset with that number in bank 0. Sink
// errors are logged and do not stop routing.
func Route(ctx context.Context, events <-chan contracts.MIDI, sink NoteSink, logger contracts.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := dispatch(ev, sink); err != nil {
				logger.Warn("MIDI event rejected",
					logger.Field().Uint8("command", ev.Command),
					logger.Field().Uint8("channel", ev.Channel),
					logger.Field().Uint8("note", ev.Note),
					logger.Field().Error("error", err))
			}
		}
	}
}

var errUnsupportedCommand = errors.New("unsupported MIDI command")

func dispatch(ev contracts.MIDI, sink NoteSink) error {
	switch contracts.MIDICommand(ev.Command) {
	case contracts.NoteOnCommand:
		if ev.Velocity == 0 {
			return sink.SendNoteOff(ev.Channel, ev.Note)
		}
		return sink.SendNoteOn(ev.Channel, ev.Note, ev.Velocity)
	case contracts.NoteOffCommand:
		return sink.SendNoteOff(ev.Channel, ev.Note)
	case contracts.ProgramChangeCommand:
		return sink.SelectPreset(uint16(ev.Note), 0)
	}
	return errUnsupportedCommand
}
