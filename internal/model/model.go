package model

import (
	"fmt"
	"time"

	// Door timezones come from the provider as IANA names; do not depend on
	// the host zoneinfo.
	_ "time/tzdata"
)

// DoorStatus is the state an access-control provider puts a door in.
type DoorStatus string

const (
	StatusLocked           DoorStatus = "locked"
	StatusAccessControlled DoorStatus = "access_controlled"
	StatusCardAndCode      DoorStatus = "card_and_code"
	StatusUnlocked         DoorStatus = "unlocked"
)

// priorityOrder lists statuses from highest to lowest priority.
var priorityOrder = []DoorStatus{
	StatusLocked,
	StatusAccessControlled,
	StatusCardAndCode,
	StatusUnlocked,
}

// Statuses returns all known statuses, highest priority first.
func Statuses() []DoorStatus {
	out := make([]DoorStatus, len(priorityOrder))
	copy(out, priorityOrder)
	return out
}

// ParseDoorStatus validates a provider status string.
func ParseDoorStatus(s string) (DoorStatus, error) {
	for _, st := range priorityOrder {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown door status %q", s)
}

// Priority returns the index of s in the priority order; 0 is the highest
// priority. Unknown statuses rank below every known one.
func (s DoorStatus) Priority() int {
	for i, st := range priorityOrder {
		if st == s {
			return i
		}
	}
	return len(priorityOrder)
}

// Outranks reports whether s has strictly higher priority than other.
func (s DoorStatus) Outranks(other DoorStatus) bool {
	return s.Priority() < other.Priority()
}

// Frequency of a recurrence rule.
type Frequency string

const (
	Daily  Frequency = "DAILY"
	Weekly Frequency = "WEEKLY"
)

// TimeOfDay is a wall-clock time without date or zone.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay parses "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return TimeOfDay{}, err
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
}

// On combines the time of day with the calendar date of d. The result carries
// d's location; for naive values that location is UTC.
func (t TimeOfDay) On(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, t.Hour, t.Minute, t.Second, 0, d.Location())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Date truncates t to midnight of its wall-clock date, as a naive (UTC) value.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses "YYYY-MM-DD" into a naive date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// SameDate reports whether a and b fall on the same wall-clock date, each in
// its own location.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ScheduleWindow bounds materialized intervals by inclusive calendar dates.
type ScheduleWindow struct {
	FirstDate time.Time
	LastDate  time.Time
}

// Contains reports whether the wall-clock date of d lies inside the window.
func (w ScheduleWindow) Contains(d time.Time) bool {
	day := Date(d)
	return !day.Before(w.FirstDate) && !day.After(w.LastDate)
}

// Start is 00:00:00 UTC on FirstDate.
func (w ScheduleWindow) Start() time.Time {
	return Date(w.FirstDate)
}

// End is 23:59:59 UTC on LastDate.
func (w ScheduleWindow) End() time.Time {
	return TimeOfDay{Hour: 23, Minute: 59, Second: 59}.On(Date(w.LastDate))
}

// RecurrenceSpec describes how an exception rule repeats.
type RecurrenceSpec struct {
	Frequency Frequency
	// Until is inclusive: the rule fires up to 23:59:59 on this date.
	Until time.Time
	// ByDay holds weekdays for WEEKLY rules. Empty means the weekday of the
	// rule's base date.
	ByDay         []time.Weekday
	ExcludedDates []time.Time
}

// ExceptionRule is one door-status override from an exception calendar.
type ExceptionRule struct {
	ID         string
	Status     DoorStatus
	Date       time.Time
	StartTime  TimeOfDay
	EndTime    TimeOfDay
	Recurrence *RecurrenceSpec
}

// ExceptionCalendar groups exception rules and the doors they apply to.
type ExceptionCalendar struct {
	ID      string
	Name    string
	DoorIDs []string
	Rules   []ExceptionRule
}

// Interval is a single door status over [Start, End).
type Interval struct {
	Status DoorStatus `json:"status"`
	Start  time.Time  `json:"start"`
	End    time.Time  `json:"end"`
}

// Duration of the interval; non-positive for empty intervals.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

func (iv Interval) String() string {
	return fmt.Sprintf("%s[%s, %s)", iv.Status, iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
}

// Door is a physical access point. It exclusively owns its working list of
// exploded exception intervals.
type Door struct {
	ID       string
	Name     string
	SiteID   string
	Location *time.Location

	ExplodedExceptions []Interval
}

// ExternalEvent is an event read from the external calendar.
type ExternalEvent struct {
	ID       string    `json:"id"`
	DoorName string    `json:"door_name"`
	Status   string    `json:"status"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	ColorID  string    `json:"color_id,omitempty"`
}

// Addition is an interval to be written to the external calendar.
type Addition struct {
	DoorName string `json:"door_name"`
	Interval
}

// Changeset is the difference between desired and actual timelines.
type Changeset struct {
	ToDelete []ExternalEvent `json:"to_delete"`
	ToAdd    []Addition      `json:"to_add"`
}

// Empty reports whether there is nothing to change.
func (c Changeset) Empty() bool {
	return len(c.ToDelete) == 0 && len(c.ToAdd) == 0
}
