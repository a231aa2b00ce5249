package model

import "time"

// Event is the single upcoming calendar entry the light is derived from.
// A zero Start or End means the calendar did not provide that value.
type Event struct {
	// ID is the provider's event identifier (Google event ID or iCalendar UID).
	ID string

	Summary  string
	Location string

	// AllDay is set for date-only events, which carry no time of day.
	AllDay bool

	Start time.Time
	End   time.Time
}

// Timed reports whether the event has both a start and an end with
// time-of-day precision. Only timed events can turn the light yellow or red.
func (e *Event) Timed() bool {
	if e == nil || e.AllDay {
		return false
	}
	return !e.Start.IsZero() && !e.End.IsZero()
}

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, typically derived from the local start time.
	InstanceKey string

	Summary  string
	Location string

	AllDay bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}

// Event converts an expanded occurrence into the polling model.
func (o Occurrence) Event() *Event {
	return &Event{
		ID:       o.UID,
		Summary:  o.Summary,
		Location: o.Location,
		AllDay:   o.AllDay,
		Start:    o.Start,
		End:      o.End,
	}
}
