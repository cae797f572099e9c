package plugin_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	Qp "github.com/maroda/quakepulse/plugin"
	Qt "github.com/maroda/quakepulse/types"
)

var t0 = time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC)

func TestNewBadgerOutput(t *testing.T) {
	t.Run("Opens in memory without a path", func(t *testing.T) {
		got, err := Qp.NewBadgerOutput("", 10)
		assertError(t, err, nil)
		defer got.Close()

		assertInt(t, got.BatchSize, 10)
		assertBool(t, got.DB.Opts().InMemory, true)
	})

	t.Run("Opens on disk with a path", func(t *testing.T) {
		got, err := Qp.NewBadgerOutput(t.TempDir(), 10)
		assertError(t, err, nil)
		defer got.Close()

		assertBool(t, got.DB.Opts().InMemory, false)
	})

	t.Run("Returns Type", func(t *testing.T) {
		adapter, closedb := makeTestBadgerOutput(t)
		defer closedb()
		assertStringContains(t, adapter.Type(), "BadgerDB")
	})
}

func TestBadgerOutput_WriteQuake(t *testing.T) {
	adapter, closedb := makeTestBadgerOutput(t)
	defer closedb()

	t.Run("Buffers until the batch is full", func(t *testing.T) {
		// the test adapter batch size is 5
		for i := range 4 {
			err := adapter.WriteQuake(makeQuake(i, time.Duration(i)*time.Minute))
			assertError(t, err, nil)
		}
		assertInt(t, len(adapter.Buffer), 4)

		err := adapter.WriteQuake(makeQuake(4, 4*time.Minute))
		assertError(t, err, nil)
		assertInt(t, len(adapter.Buffer), 0)
	})

	t.Run("Stored events read back intact", func(t *testing.T) {
		got, err := adapter.QueryRange(t0, t0.Add(time.Hour))
		assertError(t, err, nil)
		assertInt(t, len(got), 5)

		want := makeQuake(2, 2*time.Minute)
		assertString(t, got[2].ID, want.ID)
		assertString(t, got[2].Place, want.Place)
		assertBool(t, got[2].OccurredAt.Equal(want.OccurredAt), true)
		if got[2].Magnitude != want.Magnitude {
			t.Errorf("magnitude: got %f want %f", got[2].Magnitude, want.Magnitude)
		}
	})
}

func TestBadgerOutput_WriteBatch(t *testing.T) {
	tests := []struct {
		name   string
		events []*Qt.Event
		want   int
	}{
		{name: "empty batch", events: []*Qt.Event{}, want: 0},
		{name: "single event", events: []*Qt.Event{makeQuake(0, 0)}, want: 1},
		{name: "nil events are skipped", events: []*Qt.Event{nil, makeQuake(1, time.Minute)}, want: 1},
		{
			name: "rewriting an event does not duplicate it",
			events: []*Qt.Event{
				makeQuake(0, 0),
				makeQuake(0, 0),
				makeQuake(1, time.Minute),
			},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, closedb := makeTestBadgerOutput(t)
			defer closedb()

			err := adapter.WriteBatch(tt.events)
			assertError(t, err, nil)

			got, err := adapter.QueryRange(t0.Add(-time.Hour), t0.Add(time.Hour))
			assertError(t, err, nil)
			assertInt(t, len(got), tt.want)
		})
	}
}

func TestBadgerOutput_QueryRange(t *testing.T) {
	adapter, closedb := makeTestBadgerOutput(t)
	defer closedb()

	// written newest first, the way the feed sends them
	var events []*Qt.Event
	for i := 9; i >= 0; i-- {
		events = append(events, makeQuake(i, time.Duration(i)*time.Hour))
	}
	assertError(t, adapter.WriteBatch(events), nil)

	t.Run("Returns events oldest first", func(t *testing.T) {
		got, err := adapter.QueryRange(t0, t0.Add(24*time.Hour))
		assertError(t, err, nil)
		assertInt(t, len(got), 10)
		for i := 1; i < len(got); i++ {
			if got[i].OccurredAt.Before(got[i-1].OccurredAt) {
				t.Fatalf("out of order at %d", i)
			}
		}
	})

	t.Run("Includes the start and excludes the end", func(t *testing.T) {
		got, err := adapter.QueryRange(t0.Add(2*time.Hour), t0.Add(5*time.Hour))
		assertError(t, err, nil)
		assertInt(t, len(got), 3)
		assertString(t, got[0].ID, "us0002")
		assertString(t, got[2].ID, "us0004")
	})

	t.Run("An empty range finds nothing", func(t *testing.T) {
		got, err := adapter.QueryRange(t0.Add(48*time.Hour), t0.Add(72*time.Hour))
		assertError(t, err, nil)
		assertInt(t, len(got), 0)
	})

	t.Run("Sees buffered events", func(t *testing.T) {
		assertError(t, adapter.WriteQuake(makeQuake(20, 20*time.Hour)), nil)
		got, err := adapter.QueryRange(t0.Add(20*time.Hour), t0.Add(21*time.Hour))
		assertError(t, err, nil)
		assertInt(t, len(got), 1)
	})
}

func TestQuakeKey(t *testing.T) {
	early := Qp.QuakeKey(makeQuake(1, 0))
	late := Qp.QuakeKey(makeQuake(0, time.Second))

	t.Run("Ends with the event ID", func(t *testing.T) {
		if !bytes.HasSuffix(early, []byte("us0001")) {
			t.Errorf("QuakeKey = %v", early)
		}
	})

	t.Run("Sorts by time before ID", func(t *testing.T) {
		if bytes.Compare(early, late) >= 0 {
			t.Errorf("expected %v before %v", early, late)
		}
	})
}

// Helpers //

func makeTestBadgerOutput(t *testing.T) (*Qp.BadgerOutput, func()) {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	assertError(t, err, nil)

	adapter := &Qp.BadgerOutput{
		DB:        db,
		BatchSize: 5,
		Buffer:    make([]*Qt.Event, 0, 5),
	}

	cleanup := func() {
		adapter.Close()
	}

	return adapter, cleanup
}

func makeQuake(i int, offset time.Duration) *Qt.Event {
	return &Qt.Event{
		ID:           fmt.Sprintf("us%04d", i),
		Magnitude:    float64(i) / 2,
		HasMagnitude: true,
		OccurredAt:   t0.Add(offset),
		Place:        "Offshore Bio-Bio, Chile",
		Longitude:    -73.5,
		Latitude:     -37.1,
	}
}

func assertError(t testing.TB, got, want error) {
	t.Helper()
	if !errors.Is(got, want) {
		t.Errorf("got error %q want %q", got, want)
	}
}

func assertGotError(t testing.TB, got error) {
	t.Helper()
	if got == nil {
		t.Errorf("Expected an error but got %q", got)
	}
}

func assertInt(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("did not get correct value, got %d, want %d", got, want)
	}
}

func assertBool(t testing.TB, got, want bool) {
	t.Helper()
	if got != want {
		t.Errorf("got %t, want %t", got, want)
	}
}

func assertString(t testing.TB, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func assertStringContains(t testing.TB, full, want string) {
	t.Helper()
	if !strings.Contains(full, want) {
		t.Errorf("Did not find %q, expected string contains %q", want, full)
	}
}
