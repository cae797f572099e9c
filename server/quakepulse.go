package quakepulse

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	Qt "github.com/maroda/quakepulse/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/maroda/quakepulse/server")

// Hooks let the outer layers observe a run without the core knowing about them
type Hooks struct {
	OnFetch  func(*FeedResult)
	OnFire   func(*Qt.Event)
	OnRemove func(Transition)
}

// Session is one visualization run.
// The pipeline is explicit and sequential, each stage taking the
// previous stage's output:
//
//	FetchGeometry -> FetchEvents -> Annotate -> Schedule -> Play
//
// The observation window is fixed when the Session is created.
type Session struct {
	MU        sync.RWMutex
	ID        string
	Config    Config
	Clock     Clock
	Feed      FeedSource
	Projector Mercator
	Scheduler *Scheduler
	Window    Qt.ObservationWindow
	BaseMap   *BaseMap
	Events    []*Qt.Event
	Excluded  map[string]int
	Report    DelayReport
	Plan      *Plan
	Playback  *Playback
	Hooks     Hooks
}

// NewSession fixes the observation window from clock.
// A nil feed reads the USGS feed at c.FeedURL.
func NewSession(c Config, clock Clock, feed FeedSource) *Session {
	if clock == nil {
		clock = WallClock
	}
	proj := NewMercator(c.MapWidth, c.MapHeight)
	if feed == nil {
		feed = NewUSGSFeed(c.FeedURL, proj)
	}
	s := &Session{
		ID:        uuid.NewString(),
		Config:    c,
		Clock:     clock,
		Feed:      feed,
		Projector: proj,
		Scheduler: NewScheduler(DefaultSchedulerConfig()),
		Window:    NewObservationWindow(clock, c.Window.Duration),
		Excluded:  make(map[string]int),
	}
	slog.Info("New session",
		slog.String("session", s.ID),
		slog.Time("windowStart", s.Window.Start),
		slog.Time("windowEnd", s.Window.End),
		slog.Float64("speedFactor", c.SpeedFactor))
	return s
}

// FetchGeometry loads the base map for a cols x rows grid.
// The map is decoration: failures are logged and the run goes on without land.
func (s *Session) FetchGeometry(ctx context.Context, cols, rows int) *BaseMap {
	ctx, span := tracer.Start(ctx, "fetch_geometry")
	defer span.End()

	bm, err := FetchBaseMap(ctx, s.Config.GeometryURL, s.Projector, s.Config.MapWidth, s.Config.MapHeight, cols, rows)
	if err != nil {
		slog.Warn("No base map", slog.String("session", s.ID), slog.Any("Error", err))
		span.RecordError(err)
		return nil
	}

	s.MU.Lock()
	s.BaseMap = bm
	s.MU.Unlock()
	return bm
}

// FetchEvents reads the feed. Failure here is fatal for the run.
func (s *Session) FetchEvents(ctx context.Context) ([]*Qt.Event, error) {
	ctx, span := tracer.Start(ctx, "fetch_events")
	defer span.End()

	result, err := s.Feed.Fetch(ctx)
	if err != nil {
		slog.Error("Could not ingest events", slog.String("session", s.ID), slog.Any("Error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "feed failed")
		return nil, err
	}

	// The feed order is not trusted
	SortEvents(result.Events)

	span.SetAttributes(
		attribute.Int("events", len(result.Events)),
		attribute.Int("excluded", result.ExcludedTotal()))

	if s.Hooks.OnFetch != nil {
		s.Hooks.OnFetch(result)
	}

	s.MU.Lock()
	s.Events = result.Events
	for reason, n := range result.Excluded {
		s.Excluded[reason] += n
	}
	s.MU.Unlock()

	return result.Events, nil
}

// Annotate computes every event's delay once
func (s *Session) Annotate(ctx context.Context, events []*Qt.Event) (DelayReport, error) {
	_, span := tracer.Start(ctx, "annotate_delays")
	defer span.End()

	report, err := AnnotateDelays(events, s.Window, s.Config.SpeedFactor)
	if err != nil {
		span.RecordError(err)
		return report, err
	}
	span.SetAttributes(
		attribute.Int("annotated", report.Annotated),
		attribute.Int("early", report.Early),
		attribute.Int("late", report.Late))

	s.MU.Lock()
	s.Report = report
	s.MU.Unlock()
	return report, nil
}

// Schedule builds the transition plan
func (s *Session) Schedule(ctx context.Context, events []*Qt.Event) (*Plan, error) {
	_, span := tracer.Start(ctx, "schedule")
	defer span.End()

	plan, err := s.Scheduler.Schedule(events)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("transitions", len(plan.Transitions)),
		attribute.Int64("maxDelayMs", plan.MaxDelay.Milliseconds()))

	s.MU.Lock()
	s.Plan = plan
	s.MU.Unlock()
	return plan, nil
}

// Prepare runs every stage up to the plan
func (s *Session) Prepare(ctx context.Context) (*Plan, error) {
	events, err := s.FetchEvents(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.Annotate(ctx, events); err != nil {
		return nil, err
	}
	return s.Schedule(ctx, events)
}

// Play drives the plan against the surface until done or cancelled
func (s *Session) Play(ctx context.Context, plan *Plan, surface Surface) error {
	ctx, span := tracer.Start(ctx, "play")
	defer span.End()

	pb := NewPlayback(plan, surface, s.Config.LeadIn.Duration, s.Config.TrackLength)
	pb.FrameRate = s.Config.FrameRate
	pb.OnFire = s.Hooks.OnFire
	pb.OnRemove = s.Hooks.OnRemove

	s.MU.Lock()
	s.Playback = pb
	s.MU.Unlock()

	err := pb.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
	}
	return err
}

// Run is the whole pipeline after the base map
func (s *Session) Run(ctx context.Context, surface Surface) error {
	plan, err := s.Prepare(ctx)
	if err != nil {
		return err
	}
	return s.Play(ctx, plan, surface)
}

// EventsSnapshot copies the ingested events for readers outside the run
func (s *Session) EventsSnapshot() []Qt.Event {
	s.MU.RLock()
	defer s.MU.RUnlock()

	out := make([]Qt.Event, 0, len(s.Events))
	for _, ev := range s.Events {
		out = append(out, *ev)
	}
	return out
}

// PlanSummary describes a session for the API
type PlanSummary struct {
	Session     string         `json:"session"`
	WindowStart time.Time      `json:"windowStart"`
	WindowEnd   time.Time      `json:"windowEnd"`
	SpeedFactor float64        `json:"speedFactor"`
	Events      int            `json:"events"`
	Excluded    map[string]int `json:"excluded"`
	Early       int            `json:"early"`
	Late        int            `json:"late"`
	Transitions int            `json:"transitions"`
	MaxDelayMs  int64          `json:"maxDelayMs"`
	CursorMs    int64          `json:"cursorMs"`
	Fired       int            `json:"fired"`
	Scheduled   bool           `json:"scheduled"`
}

func (s *Session) Summary() PlanSummary {
	s.MU.RLock()
	defer s.MU.RUnlock()

	excluded := make(map[string]int, len(s.Excluded))
	for k, v := range s.Excluded {
		excluded[k] = v
	}

	sum := PlanSummary{
		Session:     s.ID,
		WindowStart: s.Window.Start,
		WindowEnd:   s.Window.End,
		SpeedFactor: s.Config.SpeedFactor,
		Events:      len(s.Events),
		Excluded:    excluded,
		Early:       s.Report.Early,
		Late:        s.Report.Late,
	}
	if s.Plan != nil {
		sum.Scheduled = true
		sum.Transitions = len(s.Plan.Transitions)
		sum.MaxDelayMs = s.Plan.MaxDelay.Milliseconds()
		sum.CursorMs = NewCursor(s.Plan.MaxDelay, s.Config.LeadIn.Duration, s.Config.TrackLength).Total.Milliseconds()
	}
	if s.Playback != nil {
		sum.Fired = s.Playback.Fired()
	}
	return sum
}
