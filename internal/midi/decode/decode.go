// Package decode turns raw MIDI bytes from a capture driver into
// contracts.MIDI events.
package decode

import (
	"github.com/leandrodaf/sfworklet/sdk/contracts"
	gomidi "gitlab.com/gomidi/midi/v2"
)

// Message decodes one channel voice message. Note-on with velocity zero is
// reported as note-off. Messages other than note-on, note-off and program
// change yield false.
func Message(raw []byte, timestamp uint64) (contracts.MIDI, bool) {
	if len(raw) == 0 {
		return contracts.MIDI{}, false
	}
	n := messageLen(raw[0])
	if n == 0 || len(raw) < n {
		return contracts.MIDI{}, false
	}
	msg := gomidi.Message(raw[:n])
	var channel, key, velocity uint8

	switch {
	case msg.GetNoteStart(&channel, &key, &velocity):
		return contracts.MIDI{
			Timestamp: timestamp,
			Command:   byte(contracts.NoteOnCommand),
			Channel:   channel,
			Note:      key,
			Velocity:  velocity,
		}, true
	case msg.GetNoteEnd(&channel, &key):
		return contracts.MIDI{
			Timestamp: timestamp,
			Command:   byte(contracts.NoteOffCommand),
			Channel:   channel,
			Note:      key,
		}, true
	case msg.GetProgramChange(&channel, &key):
		return contracts.MIDI{
			Timestamp: timestamp,
			Command:   byte(contracts.ProgramChangeCommand),
			Channel:   channel,
			Note:      key,
		}, true
	}
	return contracts.MIDI{}, false
}

// Packet decodes every supported message in a packet that may carry several
// messages back to back. Running status is not supported; bytes that do not
// start a message are skipped.
func Packet(data []byte, timestamp uint64) []contracts.MIDI {
	var events []contracts.MIDI
	for i := 0; i < len(data); {
		status := data[i]
		if status < 0x80 {
			i++
			continue
		}
		n := messageLen(status)
		if n == 0 || i+n > len(data) {
			break
		}
		if ev, ok := Message(data[i:i+n], timestamp); ok {
			events = append(events, ev)
		}
		i += n
	}
	return events
}

// messageLen returns the length of a channel voice message, or 0 for system
// messages.
func messageLen(status byte) int {
	switch status & 0xF0 {
	case 0x80, 0x90, 0xA0, 0xB0, 0xE0:
		return 3
	case 0xC0, 0xD0:
		return 2
	}
	return 0
}
