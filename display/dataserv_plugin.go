//go:build !nomidi

package quakepulse

import (
	"fmt"

	Qp "github.com/maroda/quakepulse/plugin"
)

func (v *View) getMIDISystemInfo(systemInfo *SystemInfo) {
	// If the output type is MIDI, fill in the details
	if midiOut, ok := v.Output.(*Qp.MIDIOutput); ok {
		if midiOut.Port != nil {
			systemInfo.MIDIPort = midiOut.Port.String()
		}
		systemInfo.MIDIChannel = int(midiOut.Channel)
		systemInfo.MIDIRoot = int(midiOut.Root)
		systemInfo.MIDIScale = fmt.Sprint(midiOut.Scale)
		systemInfo.MIDINotes = fmt.Sprint(midiOut.ScNotes)
	}
}
