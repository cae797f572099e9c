package quakepulse

import "errors"

var (
	ErrFeedUnavailable    = errors.New("event feed unavailable")
	ErrFeedMalformed      = errors.New("event feed malformed")
	ErrInvalidSpeedFactor = errors.New("speed factor must be greater than zero")
	ErrNotAnnotated       = errors.New("event has no computed delay")
	ErrAlreadyScheduled   = errors.New("events already scheduled")
	ErrUnprojectable      = errors.New("event coordinates cannot be projected")
	ErrMissingCoordinates = errors.New("event coordinates missing")
)
