package timeline

import (
	"fmt"
	"sort"
	"time"

	appLog "doorcal/internal/log"
	"doorcal/internal/model"
)

// Input is everything needed to compute the desired timeline for one run.
type Input struct {
	Window     model.ScheduleWindow
	Today      time.Time
	ClipWeekly bool

	// Doors is keyed by door ID. Build resets and fills each door's
	// ExplodedExceptions.
	Doors     map[string]*model.Door
	Calendars []model.ExceptionCalendar
}

// Result is the desired timeline, keyed by door name, plus the recoverable
// problems met while building it.
type Result struct {
	Timelines map[string][]model.Interval
	Warnings  []Warning
}

// Build expands every exception rule, attaches the intervals to their doors
// and merges each door's list. A rule with an unsupported frequency aborts
// the build with a *RuleError and no result.
func Build(in Input) (*Result, error) {
	exp := Expander{Window: in.Window, Today: in.Today, ClipWeekly: in.ClipWeekly}
	res := &Result{Timelines: make(map[string][]model.Interval, len(in.Doors))}

	exploded := make(map[string][]model.Interval, len(in.Calendars))
	for _, cal := range in.Calendars {
		var intervals []model.Interval
		for i, rule := range cal.Rules {
			if !rule.StartTime.On(rule.Date).Before(rule.EndTime.On(rule.Date)) {
				res.Warnings = append(res.Warnings, Warning{
					Kind:         WarnEmptyRule,
					CalendarID:   cal.ID,
					CalendarName: cal.Name,
					Message:      fmt.Sprintf("exception %s in calendar %q ends at %s, not after its start %s; skipping", ruleLabel(rule, i), cal.Name, rule.EndTime, rule.StartTime),
				})
				continue
			}

			ivs, err := exp.Expand(rule)
			if err != nil {
				return nil, &RuleError{
					CalendarID:   cal.ID,
					CalendarName: cal.Name,
					RuleID:       rule.ID,
					Index:        i,
					Err:          err,
				}
			}
			intervals = append(intervals, ivs...)
		}
		exploded[cal.ID] = append(exploded[cal.ID], intervals...)
		appLog.Debug("exploded exception calendar", "calendar_id", cal.ID, "name", cal.Name, "rules", len(cal.Rules), "intervals", len(intervals))
	}

	for _, door := range in.Doors {
		door.ExplodedExceptions = nil
	}
	res.Warnings = append(res.Warnings, Attach(in.Doors, in.Calendars, exploded)...)
	MergeDoors(in.Doors)

	ids := make([]string, 0, len(in.Doors))
	for id := range in.Doors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	owner := make(map[string]string, len(ids))
	for _, id := range ids {
		door := in.Doors[id]
		if first, dup := owner[door.Name]; dup {
			res.Warnings = append(res.Warnings, Warning{
				Kind:    WarnDuplicateDoorName,
				DoorID:  id,
				Message: fmt.Sprintf("door %s has the same name %q as door %s; keeping %s", id, door.Name, first, first),
			})
			continue
		}
		owner[door.Name] = id
		res.Timelines[door.Name] = door.ExplodedExceptions
	}

	return res, nil
}

func ruleLabel(rule model.ExceptionRule, index int) string {
	if rule.ID != "" {
		return rule.ID
	}
	return fmt.Sprintf("#%d", index)
}
