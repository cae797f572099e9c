package plugin

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	Qt "github.com/maroda/quakepulse/types"
)

// BadgerOutput is the event log behind /api/events.
// An empty path keeps it in memory for the life of the process.
type BadgerOutput struct {
	MU        sync.Mutex
	DB        *badger.DB
	BatchSize int
	Buffer    []*Qt.Event
}

func NewBadgerOutput(path string, batchSize int) (*BadgerOutput, error) {
	if batchSize < 1 {
		batchSize = 1
	}

	opts := badger.DefaultOptions(path).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{})
	if path == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts = opts.WithCompression(options.ZSTD)
	}

	db, err := badger.Open(opts)
	if err != nil {
		slog.Error("BadgerOutput failed to open database", slog.Any("Error", err))
		return nil, fmt.Errorf("database error: %w", err)
	}

	slog.Info("BadgerOutput opened",
		slog.String("path", path),
		slog.Bool("inMemory", path == ""),
		slog.Int("batchSize", batchSize))

	return &BadgerOutput{
		DB:        db,
		BatchSize: batchSize,
		Buffer:    make([]*Qt.Event, 0, batchSize),
	}, nil
}

// WriteQuake queues up events,
// when batchsize is reached it writes the batch
func (bo *BadgerOutput) WriteQuake(ev *Qt.Event) error {
	bo.MU.Lock()
	defer bo.MU.Unlock()

	bo.Buffer = append(bo.Buffer, ev)
	if len(bo.Buffer) >= bo.BatchSize {
		return bo.flushLocked()
	}
	return nil
}

// WriteBatch stores events directly, rewriting an event
// with the same time and ID is a no-op
func (bo *BadgerOutput) WriteBatch(evs []*Qt.Event) error {
	wb := bo.DB.NewWriteBatch()
	defer wb.Cancel()

	for _, ev := range evs {
		if ev == nil {
			continue
		}
		v, err := QuakeEncode(ev)
		if err != nil {
			return fmt.Errorf("encode error: %w", err)
		}
		if err := wb.Set(QuakeKey(ev), v); err != nil {
			slog.Error("BadgerOutput failed to set key in batch",
				slog.Any("Error", err),
				slog.String("id", ev.ID),
				slog.Time("occurredAt", ev.OccurredAt))
			return fmt.Errorf("write batch error: %w", err)
		}
	}

	if err := wb.Flush(); err != nil {
		slog.Error("BadgerOutput failed to flush batch", slog.Any("Error", err))
		return fmt.Errorf("batch flush error: %w", err)
	}

	return nil
}

func (bo *BadgerOutput) Flush() error {
	bo.MU.Lock()
	defer bo.MU.Unlock()

	if len(bo.Buffer) == 0 {
		return nil
	}
	return bo.flushLocked()
}

// flushLocked mimics Flush without locking, called by WriteQuake
func (bo *BadgerOutput) flushLocked() error {
	err := bo.WriteBatch(bo.Buffer)
	bo.Buffer = bo.Buffer[:0]
	return err
}

// Close returns a Flush error but still attempts to close
func (bo *BadgerOutput) Close() error {
	slog.Info("BadgerOutput closing, flushing buffer",
		slog.Int("bufferSize", len(bo.Buffer)))
	flushErr := bo.Flush()
	closeErr := bo.DB.Close()

	if flushErr != nil {
		slog.Error("BadgerOutput failed to flush on close", slog.Any("Error", flushErr))
		return fmt.Errorf("flush failed, close may have failed: %v", flushErr)
	}

	if closeErr != nil {
		slog.Error("BadgerOutput failed to close database", slog.Any("Error", closeErr))
		return fmt.Errorf("close failed: %v", closeErr)
	}

	slog.Info("BadgerOutput closed successfully")
	return nil
}

func (bo *BadgerOutput) Type() string { return "BadgerDB" }

// QuakeKey is the occurrence time followed by the event ID
func QuakeKey(ev *Qt.Event) []byte {
	key := make([]byte, 8, 8+len(ev.ID))

	// BigEndian so BadgerDB sorts keys chronologically
	binary.BigEndian.PutUint64(key, uint64(ev.OccurredAt.UnixNano()))
	return append(key, ev.ID...)
}

func timeKey(t time.Time) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	return key
}

func QuakeEncode(ev *Qt.Event) ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(ev)
	return buf.Bytes(), err
}

func QuakeDecode(data []byte) (*Qt.Event, error) {
	var ev Qt.Event
	err := gob.NewDecoder(bytes.NewBuffer(data)).Decode(&ev)
	return &ev, err
}

// QueryRange returns events with start <= OccurredAt < end, oldest first.
// Anything still buffered is flushed first.
func (bo *BadgerOutput) QueryRange(start, end time.Time) ([]*Qt.Event, error) {
	if err := bo.Flush(); err != nil {
		return nil, err
	}

	var events []*Qt.Event
	stop := timeKey(end)

	err := bo.DB.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(timeKey(start)); it.Valid(); it.Next() {
			item := it.Item()
			if bytes.Compare(item.Key()[:8], stop) >= 0 {
				break
			}

			err := item.Value(func(val []byte) error {
				ev, err := QuakeDecode(val)
				if err != nil {
					slog.Error("BadgerOutput failed to decode event", slog.Any("Error", err))
					return fmt.Errorf("event decode error: %w", err)
				}
				events = append(events, ev)
				return nil
			})
			if err != nil {
				return fmt.Errorf("item data error: %w", err)
			}
		}
		return nil
	})

	slog.Debug("BadgerOutput QueryRange", slog.Int("count", len(events)))

	return events, err
}

// badgerLogger routes badger's logging through slog, info demoted to debug
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...any) {
	slog.Error("badger", slog.String("msg", fmt.Sprintf(f, v...)))
}

func (badgerLogger) Warningf(f string, v ...any) {
	slog.Warn("badger", slog.String("msg", fmt.Sprintf(f, v...)))
}

func (badgerLogger) Infof(f string, v ...any) {
	slog.Debug("badger", slog.String("msg", fmt.Sprintf(f, v...)))
}

func (badgerLogger) Debugf(f string, v ...any) {
	slog.Debug("badger", slog.String("msg", fmt.Sprintf(f, v...)))
}
