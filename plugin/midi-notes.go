package plugin

import "math"

// DefaultScale is a major scale as intervals from the root
var DefaultScale = []uint8{0, 2, 2, 1, 2, 2, 2, 1}

// ScaleNotes turns intervals into ascending note numbers from root,
// stopping at the top of the MIDI range
func ScaleNotes(root uint8, scale []uint8) []uint8 {
	if len(scale) == 0 {
		scale = DefaultScale
	}
	notes := make([]uint8, 0, len(scale))
	n := int(root)
	for _, step := range scale {
		n += int(step)
		if n > 127 {
			break
		}
		notes = append(notes, uint8(n))
	}
	return notes
}

// NoteForMagnitude picks a note from the scale, stronger quakes lower.
// Magnitudes at or below zero sit on the top note, 7 and above on the root.
func NoteForMagnitude(notes []uint8, mag float64) uint8 {
	if len(notes) == 0 {
		return 60
	}
	if math.IsNaN(mag) || mag < 0 {
		mag = 0
	}
	top := len(notes) - 1
	i := top - int(math.Round(mag*float64(top)/7))
	if i < 0 {
		i = 0
	}
	return notes[i]
}

// VelocityForMagnitude is 40 at magnitude 0, growing 12 per unit to 127
func VelocityForMagnitude(mag float64) uint8 {
	if math.IsNaN(mag) || mag < 0 {
		mag = 0
	}
	v := 40 + mag*12
	if v > 127 {
		v = 127
	}
	return uint8(v)
}
