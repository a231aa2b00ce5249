// Package calendar fetches upcoming events from Google Calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	appLog "busylight/internal/log"
	"busylight/internal/model"
)

// Client returns the next event for a calendar.
type Client interface {
	// Next returns the earliest event that has not yet ended at from, or nil
	// when the calendar has nothing upcoming.
	Next(ctx context.Context, calendarID string, from time.Time) (*model.Event, error)
}

// Google implements Client on top of the Calendar v3 API.
type Google struct {
	svc *gcal.Service
	loc *time.Location
}

// NewGoogle builds a client from an already-authorized HTTP client. Extra
// options (e.g. option.WithEndpoint) are passed through to the service.
// All-day dates are anchored in loc; nil means time.Local.
func NewGoogle(ctx context.Context, httpClient *http.Client, loc *time.Location, opts ...option.ClientOption) (*Google, error) {
	if httpClient == nil {
		return nil, errors.New("calendar: http client is nil")
	}
	if loc == nil {
		loc = time.Local
	}
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	return &Google{svc: svc, loc: loc}, nil
}

// nextPageSize is how many upcoming items Next inspects, so that all-day
// entries sorting first do not hide a timed meeting.
const nextPageSize = 5

// Next returns the first timed event among the next few items, or the first
// item when none of them is timed.
func (g *Google) Next(ctx context.Context, calendarID string, from time.Time) (*model.Event, error) {
	events, err := g.List(ctx, calendarID, from, nextPageSize)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	for _, ev := range events {
		if ev.Timed() {
			return ev, nil
		}
	}
	return events[0], nil
}

// List returns up to limit upcoming events ordered by start time. The API's
// timeMin bound filters on end time, so an event in progress is included.
func (g *Google) List(ctx context.Context, calendarID string, from time.Time, limit int64) ([]*model.Event, error) {
	if calendarID == "" {
		return nil, errors.New("calendar: calendar id is empty")
	}
	if limit <= 0 {
		limit = 1
	}

	res, err := g.svc.Events.List(calendarID).
		TimeMin(from.Format(time.RFC3339)).
		MaxResults(limit).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: list events %s: %w", calendarID, err)
	}

	out := make([]*model.Event, 0, len(res.Items))
	for _, item := range res.Items {
		out = append(out, g.convert(item))
	}
	appLog.Debug("calendar list completed", "calendar_id", calendarID, "count", len(out))
	return out, nil
}

// convert never fails: unparseable or missing times come back as zero values,
// which model.Event treats as absent.
func (g *Google) convert(item *gcal.Event) *model.Event {
	ev := &model.Event{
		ID:       item.Id,
		Summary:  item.Summary,
		Location: item.Location,
	}

	if item.Start != nil && item.Start.DateTime == "" && item.Start.Date != "" {
		ev.AllDay = true
	}
	ev.Start = g.parseEventTime(item.Start)
	ev.End = g.parseEventTime(item.End)
	return ev
}

func (g *Google) parseEventTime(dt *gcal.EventDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			appLog.Debug("calendar: bad dateTime", "value", dt.DateTime)
			return time.Time{}
		}
		return t
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation(time.DateOnly, dt.Date, g.loc)
		if err != nil {
			appLog.Debug("calendar: bad date", "value", dt.Date)
			return time.Time{}
		}
		return t
	}
	return time.Time{}
}
