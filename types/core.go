package types

/*

	These are the core types of QuakePulse,
	provided for cross-package use (e.g. Plugins) and testing.

	There are no functions defined here.
	Struct constructors are housed in their own packages.
	The playback-time unit is one millisecond of playback,
	carried everywhere as a time.Duration.

*/

import "time"

// Event is one seismic occurrence from the feed.
// Delay is written exactly once by the delay engine;
// DelaySet stays false until then.
type Event struct {
	ID           string    // stable feed identifier
	Longitude    float64   // degrees east
	Latitude     float64   // degrees north
	Magnitude    float64   // may be negative or zero
	HasMagnitude bool      // the feed carried a magnitude
	OccurredAt   time.Time // real-world occurrence
	Place        string    // human readable label
	X            float64   // projected map position
	Y            float64
	Delay        time.Duration // compressed playback offset
	DelaySet     bool
}

// ObservationWindow is the fixed real-time interval being replayed.
// It is created once at startup and never changes during a run.
type ObservationWindow struct {
	Start time.Time
	End   time.Time
}

// ElementKind names the visual element a transition drives.
type ElementKind int

const (
	Marker ElementKind = iota // persistent circle sized by magnitude
	Pulse                     // expanding, fading circle removed when done
	Cursor                    // timeline "now" indicator
)

// Style hints carried to surfaces, the colors of the browser map.
const (
	MarkerFill    = "#f65281"
	MarkerOpacity = 0.75
	PulseFill     = "#ffffff"
	CursorFill    = "#fed588"
	CursorRadius  = 3.0
)

// Frame is one sampled draw instruction for a single element.
// At is the playback time the sample was taken.
type Frame struct {
	ID      string        `json:"id"`
	Kind    ElementKind   `json:"kind"`
	X       float64       `json:"x"`
	Y       float64       `json:"y"`
	Radius  float64       `json:"r"`
	Opacity float64       `json:"opacity"`
	Fill    string        `json:"fill"`
	Title   string        `json:"title,omitempty"`
	At      time.Duration `json:"at"`
}
