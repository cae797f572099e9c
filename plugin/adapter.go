package plugin

/*

	The Adapter sits aside /quakepulse/
	Contains core interfaces for Plugin

*/

import (
	"time"

	Qt "github.com/maroda/quakepulse/types"
)

// OutputAdapter is a place for events to go,
// quake-by-quake as they fire or in batches as they are ingested.
type OutputAdapter interface {
	WriteQuake(ev *Qt.Event) error                        // Write a single event
	WriteBatch(evs []*Qt.Event) error                     // Write a batch of events
	QueryRange(start, end time.Time) ([]*Qt.Event, error) // Events with start <= OccurredAt < end
	Flush() error                                         // Flush any buffered data
	Close() error                                         // Close the adapter and release resources
	Type() string                                         // ID for output
}
