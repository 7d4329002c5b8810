package timeline

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnsupportedFrequency marks a recurrence rule whose frequency is neither
// DAILY nor WEEKLY. It is fatal for a run.
var ErrUnsupportedFrequency = errors.New("unsupported recurrence frequency")

// RuleError identifies the exception rule that made a run fail.
type RuleError struct {
	CalendarID   string
	CalendarName string
	RuleID       string
	Index        int
	Err          error
}

func (e *RuleError) Error() string {
	rule := e.RuleID
	if rule == "" {
		rule = fmt.Sprintf("#%d", e.Index)
	}
	return fmt.Sprintf("exception calendar %q (%s) rule %s: %v", e.CalendarName, e.CalendarID, rule, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// WarningKind classifies recoverable problems found while building timelines.
type WarningKind string

const (
	WarnUnknownDoor       WarningKind = "unknown_door"
	WarnEmptyRule         WarningKind = "empty_rule"
	WarnDuplicateDoorName WarningKind = "duplicate_door_name"
)

// Warning is a recoverable, per-record problem. The affected record is
// skipped and the run continues.
type Warning struct {
	Kind         WarningKind `json:"kind"`
	CalendarID   string      `json:"calendar_id,omitempty"`
	CalendarName string      `json:"calendar_name,omitempty"`
	DoorID       string      `json:"door_id,omitempty"`
	Message      string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}
