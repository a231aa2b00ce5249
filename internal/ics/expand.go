package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "busylight/internal/log"
	"busylight/internal/model"
)

const defaultMaxOccurrencesPerEvent = 500

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Location is the zone occurrences are converted to. Nil means time.Local.
	Location *time.Location

	// RangeStart / RangeEnd bound the window; an occurrence is kept when it
	// overlaps [RangeStart, RangeEnd].
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single series. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// ExpandOccurrences turns parsed VEVENTs into concrete occurrences inside
// the configured window, sorted by start time. It handles single events,
// RRULE series, EXDATE removal, RECURRENCE-ID overrides and all-day
// semantics.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Overrides are matched to their series by UID.
	overrides := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		}
	}

	var out []model.Occurrence
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			continue
		}
		if ev.Start.IsZero() {
			continue
		}
		if ev.RawRRule == "" {
			out = append(out, expandSingle(ev, overrides[ev.UID], cfg)...)
			continue
		}
		out = append(out, expandSeries(ev, overrides[ev.UID], cfg)...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Occurrence {
	if o, ok := findOverride(overrides, ev.Start); ok {
		ev = o
	}
	o := toOccurrence(ev, ev.Start, ev.End, cfg.Location)
	if !overlaps(o.Start, o.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.Occurrence{o}
}

func expandSeries(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Occurrence {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	if dur < 0 {
		dur = 0
	}

	// Widen the lower bound by the duration so an instance that started
	// before RangeStart but is still running is found.
	loc := ev.Start.Location()
	starts := set.Between(cfg.RangeStart.Add(-dur).In(loc), cfg.RangeEnd.In(loc), true)
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		appLog.Error("expand: truncated occurrences for UID due to cap",
			errors.New("max occurrences reached"),
			"uid", ev.UID,
			"cap", cfg.MaxOccurrencesPerEvent,
		)
		starts = starts[:cfg.MaxOccurrencesPerEvent]
	}

	out := make([]model.Occurrence, 0, len(starts))
	for _, s := range starts {
		instance := ev
		start, end := s, s.Add(dur)
		if ev.AllDay {
			start = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
			end = start.AddDate(0, 0, 1)
		}
		if o, ok := findOverride(overrides, s); ok {
			instance = o
			start, end = o.Start, o.End
		}
		o := toOccurrence(instance, start, end, cfg.Location)
		if !overlaps(o.Start, o.End, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// findOverride returns the override whose RECURRENCE-ID equals start.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func toOccurrence(ev ParsedEvent, start, end time.Time, loc *time.Location) model.Occurrence {
	if ev.AllDay {
		start, end = dateIn(start, loc), dateIn(end, loc)
	} else {
		start, end = start.In(loc), end.In(loc)
	}
	return model.Occurrence{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		InstanceKey: start.Format(time.RFC3339Nano),
		Summary:     ev.Summary,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       start,
		End:         end,
	}
}

// dateIn keeps the calendar date of t and anchors it at midnight in loc.
// DATE values carry no zone, so converting them with In would shift the day.
func dateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
