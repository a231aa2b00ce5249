package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

type fakeAPI struct {
	*httptest.Server
	lastQuery url.Values
	lastPath  string
}

func newFakeAPI(t *testing.T, status int, body string) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.lastPath = r.URL.Path
		f.lastQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.Close)
	return f
}

func newTestClient(t *testing.T, f *fakeAPI, loc *time.Location) *Google {
	t.Helper()
	g, err := NewGoogle(context.Background(), f.Client(), loc, option.WithEndpoint(f.URL+"/"))
	if err != nil {
		t.Fatalf("NewGoogle: %v", err)
	}
	return g
}

func TestNextTimedEvent(t *testing.T) {
	f := newFakeAPI(t, http.StatusOK, `{"items":[{"id":"ev1","summary":"Standup",
		"start":{"dateTime":"2026-10-12T10:00:00+09:00"},"end":{"dateTime":"2026-10-12T10:30:00+09:00"}}]}`)
	g := newTestClient(t, f, time.UTC)

	from := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	ev, err := g.Next(context.Background(), "primary", from)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev == nil || ev.ID != "ev1" || ev.Summary != "Standup" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.Timed() {
		t.Fatal("dateTime event should be timed")
	}
	wantStart := time.Date(2026, 10, 12, 1, 0, 0, 0, time.UTC)
	if !ev.Start.Equal(wantStart) || !ev.End.Equal(wantStart.Add(30*time.Minute)) {
		t.Fatalf("unexpected times: %v - %v", ev.Start, ev.End)
	}

	if f.lastPath != "/calendars/primary/events" {
		t.Fatalf("unexpected path: %s", f.lastPath)
	}
	q := f.lastQuery
	if q.Get("maxResults") != "5" || q.Get("singleEvents") != "true" || q.Get("orderBy") != "startTime" {
		t.Fatalf("unexpected query: %v", q)
	}
	if q.Get("timeMin") != from.Format(time.RFC3339) {
		t.Fatalf("timeMin = %q", q.Get("timeMin"))
	}
}

func TestNextNoEvents(t *testing.T) {
	f := newFakeAPI(t, http.StatusOK, `{"items":[]}`)
	g := newTestClient(t, f, nil)

	ev, err := g.Next(context.Background(), "primary", time.Now())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected nil event, got %+v", ev)
	}
}

func TestNextAllDayEvent(t *testing.T) {
	f := newFakeAPI(t, http.StatusOK, `{"items":[{"id":"hol","summary":"Holiday",
		"start":{"date":"2026-10-12"},"end":{"date":"2026-10-13"}}]}`)
	loc := time.FixedZone("KST", 9*3600)
	g := newTestClient(t, f, loc)

	ev, err := g.Next(context.Background(), "primary", time.Now())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ev.AllDay || ev.Timed() {
		t.Fatalf("date-only event should be all-day: %+v", ev)
	}
	if want := time.Date(2026, 10, 12, 0, 0, 0, 0, loc); !ev.Start.Equal(want) {
		t.Fatalf("start = %v, want %v", ev.Start, want)
	}
}

func TestNextSkipsAllDayForTimed(t *testing.T) {
	f := newFakeAPI(t, http.StatusOK, `{"items":[
		{"id":"wfh","summary":"WFH","start":{"date":"2026-10-13"},"end":{"date":"2026-10-14"}},
		{"id":"rev","summary":"Review","start":{"dateTime":"2026-10-13T10:00:00-04:00"},"end":{"dateTime":"2026-10-13T11:00:00-04:00"}}]}`)
	g := newTestClient(t, f, time.FixedZone("EDT", -4*3600))

	ev, err := g.Next(context.Background(), "primary", time.Date(2026, 10, 13, 14, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev == nil || ev.ID != "rev" || !ev.Timed() {
		t.Fatalf("want the timed meeting, got %+v", ev)
	}
}

func TestNextMalformedTimesDegrade(t *testing.T) {
	f := newFakeAPI(t, http.StatusOK, `{"items":[{"id":"x","start":{"dateTime":"yesterday"}}]}`)
	g := newTestClient(t, f, nil)

	ev, err := g.Next(context.Background(), "primary", time.Now())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ev.Start.IsZero() || !ev.End.IsZero() || ev.Timed() {
		t.Fatalf("malformed times should be absent: %+v", ev)
	}
}

func TestListPassesLimit(t *testing.T) {
	f := newFakeAPI(t, http.StatusOK, `{"items":[{"id":"a"},{"id":"b"}]}`)
	g := newTestClient(t, f, nil)

	events, err := g.List(context.Background(), "primary", time.Now(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 2 || f.lastQuery.Get("maxResults") != "10" {
		t.Fatalf("unexpected result: %d events, query %v", len(events), f.lastQuery)
	}
}

func TestNextAPIError(t *testing.T) {
	f := newFakeAPI(t, http.StatusForbidden, `{"error":{"code":403,"message":"forbidden"}}`)
	g := newTestClient(t, f, nil)

	_, err := g.Next(context.Background(), "primary", time.Now())
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusForbidden {
		t.Fatalf("expected wrapped googleapi 403, got %v", err)
	}
}

func TestRequiresCalendarID(t *testing.T) {
	f := newFakeAPI(t, http.StatusOK, `{}`)
	g := newTestClient(t, f, nil)
	if _, err := g.Next(context.Background(), "", time.Now()); err == nil {
		t.Fatal("expected error for empty calendar id")
	}
	if _, err := NewGoogle(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for nil http client")
	}
}
