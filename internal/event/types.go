package event

import "time"

// Event represents a typed event with an occurrence timestamp.
type Event interface {
	Type() string
	Timestamp() time.Time
}

// ChangeEvent is one decoded filesystem change delivered by a named stream.
type ChangeEvent struct {
	EventType  string
	Stream     string
	EventID    uint64
	Path       string
	Flags      uint32
	Decoded    string
	OccurredAt time.Time
}

func NewChangeEvent(stream string, id uint64, path string, flags uint32, decoded string) ChangeEvent {
	return ChangeEvent{
		EventType:  "change",
		Stream:     stream,
		EventID:    id,
		Path:       path,
		Flags:      flags,
		Decoded:    decoded,
		OccurredAt: time.Now().UTC(),
	}
}

func (e ChangeEvent) Type() string {
	return e.EventType
}

func (e ChangeEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// WatchEvent captures watch lifecycle changes on the daemon.
type WatchEvent struct {
	EventType  string
	Stream     string
	Path       string
	Detail     string
	OccurredAt time.Time
}

func NewWatchEvent(stream, path, eventType string) WatchEvent {
	return WatchEvent{
		EventType:  eventType,
		Stream:     stream,
		Path:       path,
		OccurredAt: time.Now().UTC(),
	}
}

func (e WatchEvent) Type() string {
	return e.EventType
}

func (e WatchEvent) Timestamp() time.Time {
	return e.OccurredAt
}
