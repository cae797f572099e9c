//go:build !nomidi

package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	Qt "github.com/maroda/quakepulse/types"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// MIDIOutput plays one note per event as it fires
type MIDIOutput struct {
	Port    drivers.Out
	Send    func(msg midi.Message) error
	WG      sync.WaitGroup
	Channel uint8
	Root    uint8
	Scale   []uint8       // intervals
	ScNotes []uint8       // the notes those intervals make from Root
	Hold    time.Duration // time between NoteOn and NoteOff
}

func NewMIDIOutput(port int, root uint8, scale []uint8, hold time.Duration) (*MIDIOutput, error) {
	out, err := midi.OutPort(port)
	if err != nil {
		slog.Error("Error opening MIDI port", slog.Int("port", port))
		return nil, fmt.Errorf("error opening MIDI port: %q", err)
	}

	send, err := midi.SendTo(out)
	if err != nil {
		slog.Error("Error sending to MIDI port", slog.Int("port", port))
		return nil, fmt.Errorf("error sending to MIDI port: %q", err)
	}

	mo := &MIDIOutput{
		Port: out,
		Send: send,
		Root: root,
		Hold: hold,
	}
	mo.SetScale(scale)

	return mo, nil
}

func (mo *MIDIOutput) SetScale(scale []uint8) {
	if len(scale) == 0 {
		scale = DefaultScale
	}
	mo.Scale = scale
	mo.ScNotes = ScaleNotes(mo.Root, scale)
}

func (mo *MIDIOutput) SendNoteOnMIDI(midic, midin, midiv uint8) error {
	return mo.Send(midi.NoteOn(midic, midin, midiv))
}

func (mo *MIDIOutput) SendNoteOffMIDI(midic, midin uint8) error {
	return mo.Send(midi.NoteOff(midic, midin))
}

// WriteQuake sounds the event without blocking the caller
func (mo *MIDIOutput) WriteQuake(ev *Qt.Event) error {
	if ev == nil {
		return nil
	}
	if mo.Send == nil {
		return errors.New("MIDI output not open")
	}

	note := NoteForMagnitude(mo.ScNotes, ev.Magnitude)
	velocity := VelocityForMagnitude(ev.Magnitude)
	hold := mo.Hold
	if hold <= 0 {
		hold = 500 * time.Millisecond
	}

	mo.WG.Add(1)
	go func() {
		defer mo.WG.Done()
		if err := mo.SendNoteOnMIDI(mo.Channel, note, velocity); err != nil {
			slog.Error("NoteOn event failed", slog.String("id", ev.ID), slog.Any("Error", err))
		}
		time.Sleep(hold)
		if err := mo.SendNoteOffMIDI(mo.Channel, note); err != nil {
			slog.Error("NoteOff event failed, attempting Flush", slog.Any("Error", err))
			mo.Flush()
		}
	}()

	return nil
}

func (mo *MIDIOutput) WriteBatch(evs []*Qt.Event) error {
	for _, ev := range evs {
		if err := mo.WriteQuake(ev); err != nil {
			return err
		}
	}
	return nil
}

func (mo *MIDIOutput) QueryRange(start, end time.Time) ([]*Qt.Event, error) {
	return nil, errors.New("MIDI output keeps no history")
}

func (mo *MIDIOutput) Flush() error {
	if mo.Send == nil {
		return nil
	}
	return mo.Send(midi.ControlChange(mo.Channel, midi.AllNotesOff, midi.Off))
}

func (mo *MIDIOutput) Close() error {
	mo.WG.Wait()

	if mo.Port != nil {
		mo.Port.Close()
		midi.CloseDriver()
	}
	return nil
}

func (mo *MIDIOutput) Type() string { return "MIDI" }
