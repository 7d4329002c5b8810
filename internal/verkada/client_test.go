package verkada

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doorcal/internal/model"
)

const (
	devicesJSON = `{"cameras":[
		{"site_id":"site-ny","timezone":"America/New_York"},
		{"site_id":"site-ny","timezone":"Europe/London"},
		{"site_id":"site-bad","timezone":"Mars/Olympus"}
	]}`
	doorsJSON = `{"doors":[
		{"door_id":"door-1","name":"Front","site":{"site_id":"site-ny"}},
		{"door_id":"door-2","name":"Dock","site":{"site_id":"site-bad"}}
	]}`
	calendarsJSON = `{"door_exception_calendars":[{
		"door_exception_calendar_id":"cal-1",
		"name":"Holidays",
		"doors":["door-1","door-2"],
		"exceptions":[
			{"door_exception_id":"ex-1","date":"2025-01-06","start_time":"09:00:00","end_time":"17:00:00",
			 "door_status":"unlocked","recurrence_rule":{"frequency":"WEEKLY","until":"2025-02-03","by_day":["MO","WE"],"excluded_dates":["2025-01-13"]}},
			{"door_exception_id":"ex-2","date":"2025-01-01","start_time":"00:00:00","end_time":"23:59:00",
			 "door_status":"locked","recurrence_rule":null},
			{"door_exception_id":"ex-3","date":"2025-01-02","start_time":"08:00:00","end_time":"09:00:00",
			 "door_status":"ajar","recurrence_rule":null},
			{"door_exception_id":"ex-4","date":"2025-01-03","start_time":"08:00:00","end_time":"09:00:00",
			 "door_status":"card_and_code","recurrence_rule":{"frequency":"DAILY","until":"2025-01-05","by_day":[],"excluded_dates":null}}
		]
	}]}`
)

type fakeAPI struct {
	t        *testing.T
	logins   atomic.Int32
	failures map[string]*atomic.Int32
	status   int
}

func newFakeAPI(t *testing.T) *fakeAPI {
	return &fakeAPI{t: t, failures: map[string]*atomic.Int32{}, status: http.StatusServiceUnavailable}
}

// failFirst makes the first n requests to path fail with f.status.
func (f *fakeAPI) failFirst(path string, n int32) {
	c := &atomic.Int32{}
	c.Store(n)
	f.failures[path] = c
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "secret-key", r.Header.Get(headerAPIKey))

	if c, ok := f.failures[r.URL.Path]; ok && c.Add(-1) >= 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"message":"try later"}`))
		return
	}

	if r.URL.Path == "/token" {
		assert.Equal(f.t, http.MethodPost, r.Method)
		f.logins.Add(1)
		_, _ = w.Write([]byte(`{"token":"tok-123"}`))
		return
	}

	if r.Header.Get(headerAuth) != "tok-123" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.URL.Path {
	case "/" + endpointDevices:
		_, _ = w.Write([]byte(devicesJSON))
	case "/" + endpointDoors:
		_, _ = w.Write([]byte(doorsJSON))
	case "/" + endpointExceptionCalendars:
		_, _ = w.Write([]byte(calendarsJSON))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, api http.Handler, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	return NewClient(Options{
		BaseURL:           srv.URL,
		APIKey:            "secret-key",
		RequestsPerSecond: 1000,
		MaxRetries:        retries,
		Backoff:           time.Millisecond,
	})
}

func TestFetchAll(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api, 0)

	snap, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, api.logins.Load())

	require.Len(t, snap.Doors, 2)
	front := snap.Doors["door-1"]
	assert.Equal(t, "Front", front.Name)
	assert.Equal(t, "America/New_York", front.Location.String(), "first camera per site wins")
	assert.Equal(t, time.UTC, snap.Doors["door-2"].Location)

	require.Len(t, snap.Calendars, 1)
	cal := snap.Calendars[0]
	assert.Equal(t, "cal-1", cal.ID)
	assert.Equal(t, []string{"door-1", "door-2"}, cal.DoorIDs)
	require.Len(t, cal.Rules, 3, "unknown status is skipped")

	weekly := cal.Rules[0]
	assert.Equal(t, model.StatusUnlocked, weekly.Status)
	assert.Equal(t, model.TimeOfDay{Hour: 9}, weekly.StartTime)
	require.NotNil(t, weekly.Recurrence)
	assert.Equal(t, model.Weekly, weekly.Recurrence.Frequency)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, weekly.Recurrence.ByDay)
	assert.Equal(t, []time.Time{time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC)}, weekly.Recurrence.ExcludedDates)

	assert.Nil(t, cal.Rules[1].Recurrence)
	assert.Equal(t, model.TimeOfDay{Hour: 23, Minute: 59}, cal.Rules[1].EndTime)

	daily := cal.Rules[2]
	require.NotNil(t, daily.Recurrence)
	assert.Empty(t, daily.Recurrence.ExcludedDates)
	assert.Empty(t, daily.Recurrence.ByDay)

	// Unknown site timezone, door without timezone, unknown status.
	assert.Len(t, snap.Warnings, 3)
}

func TestFetchAllRetriesTransientFailures(t *testing.T) {
	api := newFakeAPI(t)
	api.failFirst("/"+endpointDoors, 2)
	c := newTestClient(t, api, 3)

	snap, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Doors, 2)
}

func TestFetchAllGivesUpAfterMaxRetries(t *testing.T) {
	api := newFakeAPI(t)
	api.status = http.StatusTooManyRequests
	api.failFirst("/"+endpointExceptionCalendars, 5)
	c := newTestClient(t, api, 2)

	_, err := c.FetchAll(context.Background())
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Contains(t, se.Body, "try later")
}

func TestLoginFailureIsNotRetried(t *testing.T) {
	api := newFakeAPI(t)
	api.status = http.StatusForbidden
	api.failFirst("/token", 1)
	c := newTestClient(t, api, 3)

	err := c.Login(context.Background())
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.EqualValues(t, 0, api.logins.Load())
}

func TestLoginRequiresAPIKey(t *testing.T) {
	c := NewClient(Options{BaseURL: "http://127.0.0.1:1"})
	assert.Error(t, c.Login(context.Background()))
}

func TestParseCalendarsRejectsMalformedTime(t *testing.T) {
	_, _, err := parseCalendars([]exceptionCalendar{{
		ID:   "cal-1",
		Name: "Broken",
		Exceptions: []exception{{
			ID: "ex-1", Date: "2025-01-06", StartTime: "9am", EndTime: "17:00:00", DoorStatus: "locked",
		}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start_time")
	assert.Contains(t, err.Error(), "ex-1")
}

func TestParseRecurrenceKeepsUnsupportedFrequency(t *testing.T) {
	spec, err := parseRecurrence(recurrenceRule{Frequency: "monthly", Until: "2025-12-31"})
	require.NoError(t, err)
	assert.Equal(t, model.Frequency("MONTHLY"), spec.Frequency)

	_, err = parseRecurrence(recurrenceRule{Frequency: "WEEKLY", Until: "2025-12-31", ByDay: []string{"XX"}})
	assert.Error(t, err)
}
