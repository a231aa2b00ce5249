package ics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"busylight/internal/model"
)

// Client serves the next event from a single ICS feed. It satisfies
// calendar.Client; the calendar ID argument is ignored because the URL
// already identifies the calendar.
type Client struct {
	src         Source
	fetcher     *Fetcher
	loc         *time.Location
	horizonDays int
}

// NewClient returns a Client for url. Occurrences are converted to loc (nil
// means time.Local) and searched up to horizonDays ahead.
func NewClient(url string, httpClient *http.Client, loc *time.Location, horizonDays int) (*Client, error) {
	if url == "" {
		return nil, errors.New("ics: url is empty")
	}
	if loc == nil {
		loc = time.Local
	}
	if horizonDays <= 0 {
		horizonDays = 7
	}
	return &Client{
		src:         Source{ID: "ics", URL: url},
		fetcher:     NewFetcher(httpClient),
		loc:         loc,
		horizonDays: horizonDays,
	}, nil
}

func (c *Client) Next(ctx context.Context, _ string, from time.Time) (*model.Event, error) {
	occs, err := c.occurrences(ctx, from)
	if err != nil {
		return nil, err
	}
	return NextOccurrence(occs, from), nil
}

// List returns up to limit occurrences that have not ended at from, in
// start order.
func (c *Client) List(ctx context.Context, _ string, from time.Time, limit int64) ([]*model.Event, error) {
	occs, err := c.occurrences(ctx, from)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1
	}
	out := make([]*model.Event, 0, limit)
	for _, o := range occs {
		if int64(len(out)) >= limit {
			break
		}
		if o.End.After(from) {
			out = append(out, o.Event())
		}
	}
	return out, nil
}

func (c *Client) occurrences(ctx context.Context, from time.Time) ([]model.Occurrence, error) {
	body, err := c.fetcher.Fetch(ctx, c.src)
	if err != nil {
		return nil, err
	}
	events, err := ParseICS(c.src, body)
	if err != nil {
		return nil, err
	}
	return ExpandOccurrences(events, ExpandConfig{
		Location:   c.loc,
		RangeStart: from.AddDate(0, 0, -1),
		RangeEnd:   from.AddDate(0, 0, c.horizonDays),
	})
}

// NextOccurrence picks the earliest-starting occurrence that has not ended
// at from, matching the Calendar API's timeMin semantics. All-day occurrences
// carry no actionable times, so one is returned only when no timed occurrence
// qualifies. It returns nil when nothing qualifies.
func NextOccurrence(occs []model.Occurrence, from time.Time) *model.Event {
	var timed, allDay *model.Occurrence
	for i := range occs {
		o := &occs[i]
		if !o.End.After(from) {
			continue
		}
		best := &timed
		if o.AllDay {
			best = &allDay
		}
		if *best == nil || o.Start.Before((*best).Start) {
			*best = o
		}
	}
	switch {
	case timed != nil:
		return timed.Event()
	case allDay != nil:
		return allDay.Event()
	default:
		return nil
	}
}
