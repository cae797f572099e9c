package quakepulse

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"time"

	Qt "github.com/maroda/quakepulse/types"
	geojson "github.com/paulmach/go.geojson"
)

// Reasons an individual feature is left out of the run
const (
	ExcludeCoordinates = "coordinates"
	ExcludeProjection  = "projection"
	ExcludeTime        = "time"
)

const (
	usgsFeedBase = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/"
	usgsFeedExt  = ".geojson"
)

// SummaryFeedURL names a USGS day summary feed by minimum level:
// all, 1.0, 2.5, 4.5 or significant
func SummaryFeedURL(level string) string {
	return UrlCat(usgsFeedBase, level, "_day", usgsFeedExt)
}

// FeedResult is everything a single feed read produced
type FeedResult struct {
	Events   []*Qt.Event
	Excluded map[string]int // by reason
	Took     time.Duration
}

// ExcludedTotal sums the excluded features over all reasons
func (fr *FeedResult) ExcludedTotal() int {
	total := 0
	for _, n := range fr.Excluded {
		total += n
	}
	return total
}

// FeedSource supplies the raw events of a run
type FeedSource interface {
	Fetch(ctx context.Context) (*FeedResult, error)
}

// USGSFeed reads a USGS GeoJSON summary feed
type USGSFeed struct {
	URL       string
	Client    HTTPClient
	Projector Projector
}

func NewUSGSFeed(url string, p Projector) *USGSFeed {
	return &USGSFeed{
		URL:       url,
		Client:    sharedHTTPClient,
		Projector: p,
	}
}

// Fetch retrieves and parses the feed. Any transport or decode failure is
// fatal for the run; bad individual features are only excluded.
func (uf *USGSFeed) Fetch(ctx context.Context) (*FeedResult, error) {
	start := time.Now()

	client := uf.Client
	if client == nil {
		client = sharedHTTPClient
	}

	status, body, err := SingleFetchWithClient(ctx, uf.URL, client)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	if status < 200 || status > 299 {
		slog.Error("Feed returned an error status", slog.Int("status", status), slog.String("url", uf.URL))
		return nil, fmt.Errorf("%w: status %d", ErrFeedUnavailable, status)
	}

	result, err := ParseFeed(body, uf.Projector)
	if err != nil {
		return nil, err
	}
	result.Took = time.Since(start)

	slog.Info("Feed fetched",
		slog.String("url", uf.URL),
		slog.Int("events", len(result.Events)),
		slog.Int("excluded", result.ExcludedTotal()),
		slog.Duration("took", result.Took))

	return result, nil
}

// featureCollection holds the features undecoded, so one bad feature
// costs only itself
type featureCollection struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
}

// ParseFeed decodes a GeoJSON FeatureCollection into events sorted
// oldest first, each projected once with p.
func ParseFeed(data []byte, p Projector) (*FeedResult, error) {
	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		slog.Error("Could not decode feed", slog.Any("Error", err))
		return nil, fmt.Errorf("%w: %v", ErrFeedMalformed, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%w: unexpected type %q", ErrFeedMalformed, fc.Type)
	}

	result := &FeedResult{
		Events:   make([]*Qt.Event, 0, len(fc.Features)),
		Excluded: make(map[string]int),
	}

	for i, raw := range fc.Features {
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			slog.Debug("Excluding feature",
				slog.String("id", "feature-"+strconv.Itoa(i)),
				slog.String("reason", ExcludeCoordinates),
				slog.Any("Error", err))
			result.Excluded[ExcludeCoordinates]++
			continue
		}
		ev, reason, err := featureToEvent(f, i, p)
		if err != nil {
			slog.Debug("Excluding feature",
				slog.String("id", ev.ID),
				slog.String("reason", reason),
				slog.Any("Error", err))
			result.Excluded[reason]++
			continue
		}
		result.Events = append(result.Events, ev)
	}

	SortEvents(result.Events)
	return result, nil
}

// SortEvents orders events by occurrence, oldest first, ties by ID
func SortEvents(events []*Qt.Event) {
	slices.SortStableFunc(events, func(a, b *Qt.Event) int {
		if c := a.OccurredAt.Compare(b.OccurredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// featureToEvent always returns an event carrying at least the ID,
// so exclusions can be logged by name
func featureToEvent(f *geojson.Feature, index int, p Projector) (*Qt.Event, string, error) {
	ev := &Qt.Event{ID: featureID(f, index)}

	if f.Geometry == nil || !f.Geometry.IsPoint() || len(f.Geometry.Point) < 2 {
		return ev, ExcludeCoordinates, ErrMissingCoordinates
	}
	ev.Longitude = f.Geometry.Point[0]
	ev.Latitude = f.Geometry.Point[1]

	millis, err := f.PropertyFloat64("time")
	if err != nil || math.IsNaN(millis) {
		return ev, ExcludeTime, fmt.Errorf("%w: time: %v", ErrFeedMalformed, err)
	}
	ev.OccurredAt = time.UnixMilli(int64(millis)).UTC()

	// A missing magnitude is treated as zero, which the scheduler floors
	if mag, err := f.PropertyFloat64("mag"); err == nil {
		ev.Magnitude = mag
		ev.HasMagnitude = true
	}
	ev.Place = f.PropertyMustString("place", "")

	if p != nil {
		x, y, ok := p.Project(ev.Longitude, ev.Latitude)
		if !ok {
			return ev, ExcludeProjection, ErrUnprojectable
		}
		ev.X, ev.Y = x, y
	}

	return ev, "", nil
}

func featureID(f *geojson.Feature, index int) string {
	switch id := f.ID.(type) {
	case string:
		if id != "" {
			return id
		}
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	if code, err := f.PropertyString("code"); err == nil && code != "" {
		return code
	}
	return "feature-" + strconv.Itoa(index)
}
