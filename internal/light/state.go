// Package light derives the status light color from the clock and the next
// calendar event.
package light

import (
	"time"

	"busylight/internal/model"
)

// State is the color shown by the status light.
type State int

// States are declared in increasing order of urgency.
const (
	Off State = iota
	Green
	Yellow
	Red
)

const (
	// Lookahead is how long before a meeting the light turns yellow.
	Lookahead = 5 * time.Minute

	// WorkdayStart and WorkdayEnd bound working hours as [start, end) in
	// hours of the local day.
	WorkdayStart = 9
	WorkdayEnd   = 17
)

func (s State) String() string {
	switch s {
	case Off:
		return "off"
	case Green:
		return "green"
	case Yellow:
		return "yellow"
	case Red:
		return "red"
	default:
		return "unknown"
	}
}

// Baseline is the state implied by the time of day alone: Green on weekdays
// within working hours, Off otherwise. now is evaluated in its own location.
func Baseline(now time.Time) State {
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return Off
	}
	if h := now.Hour(); h < WorkdayStart || h >= WorkdayEnd {
		return Off
	}
	return Green
}

// Derive maps the current time and the next calendar event to a light state.
//
// Rules, first match wins:
//   - start <= now <= end: Red, even outside working hours
//   - start-Lookahead <= now < start: Yellow
//   - otherwise: Baseline(now)
//
// next may be nil. Events that are not timed (all-day, or missing start or
// end) never affect the result.
func Derive(now time.Time, next *model.Event) State {
	base := Baseline(now)
	if !next.Timed() {
		return base
	}

	start, end := next.Start, next.End
	if !now.Before(start) && !now.After(end) {
		return Red
	}
	if now.Before(start) && !now.Before(start.Add(-Lookahead)) {
		return Yellow
	}
	return base
}
