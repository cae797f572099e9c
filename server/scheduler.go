package quakepulse

import (
	"fmt"
	"math"
	"sync"
	"time"

	Qt "github.com/maroda/quakepulse/types"
)

// SchedulerConfig holds the transition constants.
// DefaultSchedulerConfig sizes markers and pulses for a 1160x760 map.
type SchedulerConfig struct {
	MagnitudeFloor float64       // stand-in for magnitudes <= 0
	MarkerScale    float64       // marker radius per magnitude
	PulseScale     float64       // pulse radius per magnitude
	MarkerDuration time.Duration // marker growth
	PulseDuration  time.Duration // pulse expansion and fade
	PulseOpacity   float64       // pulse opacity before fading
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MagnitudeFloor: 0.1,
		MarkerScale:    2,
		PulseScale:     12,
		MarkerDuration: 1000 * time.Millisecond,
		PulseDuration:  2000 * time.Millisecond,
		PulseOpacity:   1,
	}
}

// EffectiveMagnitude substitutes the floor for zero and negative magnitudes
func (sc SchedulerConfig) EffectiveMagnitude(m float64) float64 {
	if m <= 0 || math.IsNaN(m) {
		return sc.MagnitudeFloor
	}
	return m
}

// MarkerRadius is the final radius of an event's primary marker
func (sc SchedulerConfig) MarkerRadius(m float64) float64 {
	return sc.EffectiveMagnitude(m) * sc.MarkerScale
}

// PulseRadius is the final radius of an event's pulse
func (sc SchedulerConfig) PulseRadius(m float64) float64 {
	return sc.EffectiveMagnitude(m) * sc.PulseScale
}

// Transition is one delay-gated linear interpolation of a single element.
// It holds no mutable state: sampling it is a pure function of playback time.
type Transition struct {
	ElementID    string
	EventID      string
	Kind         Qt.ElementKind
	X, Y         float64
	Delay        time.Duration
	Duration     time.Duration
	FromRadius   float64
	ToRadius     float64
	FromOpacity  float64
	ToOpacity    float64
	Fill         string
	Title        string
	RemoveOnDone bool
}

// Sample is a transition evaluated at one instant of playback
type Sample struct {
	Started  bool
	Done     bool
	Progress float64
	Radius   float64
	Opacity  float64
}

// At evaluates the transition at the given playback time
func (tr Transition) At(elapsed time.Duration) Sample {
	if elapsed < tr.Delay {
		return Sample{
			Radius:  tr.FromRadius,
			Opacity: tr.FromOpacity,
		}
	}

	progress := 1.0
	if tr.Duration > 0 {
		progress = float64(elapsed-tr.Delay) / float64(tr.Duration)
	}
	if progress >= 1 {
		return Sample{
			Started:  true,
			Done:     true,
			Progress: 1,
			Radius:   tr.ToRadius,
			Opacity:  tr.ToOpacity,
		}
	}

	return Sample{
		Started:  true,
		Progress: progress,
		Radius:   lerp(tr.FromRadius, tr.ToRadius, progress),
		Opacity:  lerp(tr.FromOpacity, tr.ToOpacity, progress),
	}
}

// End is the playback time the transition finishes
func (tr Transition) End() time.Duration {
	return tr.Delay + tr.Duration
}

// Frame renders a sample as a draw instruction
func (tr Transition) Frame(s Sample, at time.Duration) Qt.Frame {
	return Qt.Frame{
		ID:      tr.ElementID,
		Kind:    tr.Kind,
		X:       tr.X,
		Y:       tr.Y,
		Radius:  s.Radius,
		Opacity: s.Opacity,
		Fill:    tr.Fill,
		Title:   tr.Title,
		At:      at,
	}
}

func lerp(from, to, p float64) float64 {
	return from + (to-from)*p
}

// Plan is the complete, immutable output of one Schedule call
type Plan struct {
	Transitions []Transition
	Events      []*Qt.Event
	MaxDelay    time.Duration
	End         time.Duration // last transition end
}

// Scheduler turns annotated events into transitions, once
type Scheduler struct {
	MU        sync.Mutex
	Config    SchedulerConfig
	scheduled bool
}

func NewScheduler(sc SchedulerConfig) *Scheduler {
	return &Scheduler{Config: sc}
}

// Schedule issues one marker and one pulse transition per event.
// Every event must already carry its delay.
func (s *Scheduler) Schedule(events []*Qt.Event) (*Plan, error) {
	s.MU.Lock()
	defer s.MU.Unlock()

	if s.scheduled {
		return nil, ErrAlreadyScheduled
	}

	plan := &Plan{
		Transitions: make([]Transition, 0, 2*len(events)),
		Events:      make([]*Qt.Event, 0, len(events)),
	}

	for _, ev := range events {
		if ev == nil {
			continue
		}
		if !ev.DelaySet {
			return nil, fmt.Errorf("%w: %s", ErrNotAnnotated, ev.ID)
		}
		plan.Events = append(plan.Events, ev)
		plan.Transitions = append(plan.Transitions, s.markerTransition(ev), s.pulseTransition(ev))
	}

	plan.MaxDelay = MaxDelay(plan.Events)
	for _, tr := range plan.Transitions {
		plan.End = max(plan.End, tr.End())
	}

	s.scheduled = true
	return plan, nil
}

func (s *Scheduler) markerTransition(ev *Qt.Event) Transition {
	return Transition{
		ElementID:   "marker-" + ev.ID,
		EventID:     ev.ID,
		Kind:        Qt.Marker,
		X:           ev.X,
		Y:           ev.Y,
		Delay:       ev.Delay,
		Duration:    s.Config.MarkerDuration,
		FromRadius:  0,
		ToRadius:    s.Config.MarkerRadius(ev.Magnitude),
		FromOpacity: Qt.MarkerOpacity,
		ToOpacity:   Qt.MarkerOpacity,
		Fill:        Qt.MarkerFill,
		Title:       EventTitle(ev),
	}
}

func (s *Scheduler) pulseTransition(ev *Qt.Event) Transition {
	return Transition{
		ElementID:    "pulse-" + ev.ID,
		EventID:      ev.ID,
		Kind:         Qt.Pulse,
		X:            ev.X,
		Y:            ev.Y,
		Delay:        ev.Delay,
		Duration:     s.Config.PulseDuration,
		FromRadius:   0,
		ToRadius:     s.Config.PulseRadius(ev.Magnitude),
		FromOpacity:  s.Config.PulseOpacity,
		ToOpacity:    0,
		Fill:         Qt.PulseFill,
		RemoveOnDone: true,
	}
}

// EventTitle is the hover text of a marker
func EventTitle(ev *Qt.Event) string {
	return fmt.Sprintf("Magnitude %g %s", ev.Magnitude, ev.Place)
}
