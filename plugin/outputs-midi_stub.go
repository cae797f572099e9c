//go:build nomidi

package plugin

import (
	"fmt"
	"time"

	Qt "github.com/maroda/quakepulse/types"
)

type MIDIOutput struct{}

func (m *MIDIOutput) WriteQuake(ev *Qt.Event) error {
	return fmt.Errorf("MIDI support not compiled in this build")
}

func (m *MIDIOutput) WriteBatch(evs []*Qt.Event) error {
	return fmt.Errorf("MIDI support not compiled in this build")
}

func (m *MIDIOutput) QueryRange(start, end time.Time) ([]*Qt.Event, error) {
	return nil, fmt.Errorf("MIDI support not compiled in this build")
}

func (m *MIDIOutput) Flush() error { return nil }
func (m *MIDIOutput) Close() error { return nil }
func (m *MIDIOutput) Type() string { return "midi-disabled" }
