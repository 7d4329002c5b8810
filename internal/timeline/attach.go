package timeline

import (
	"fmt"
	"time"

	appLog "doorcal/internal/log"
	"doorcal/internal/model"
)

// AttachTimezone reads the naive wall-clock start and end of iv in loc.
func AttachTimezone(loc *time.Location, iv model.Interval) model.Interval {
	if loc == nil {
		loc = time.UTC
	}
	return model.Interval{
		Status: iv.Status,
		Start:  inLocation(iv.Start, loc),
		End:    inLocation(iv.End, loc),
	}
}

func inLocation(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	return time.Date(y, m, d, hh, mm, ss, t.Nanosecond(), loc)
}

// Attach appends each calendar's exploded intervals to every door the calendar
// targets, in that door's timezone. exploded is keyed by calendar ID. Door IDs
// unknown to doors are reported and skipped.
func Attach(doors map[string]*model.Door, calendars []model.ExceptionCalendar, exploded map[string][]model.Interval) []Warning {
	var warnings []Warning

	for _, cal := range calendars {
		intervals := exploded[cal.ID]
		for _, doorID := range cal.DoorIDs {
			door, ok := doors[doorID]
			if !ok {
				w := Warning{
					Kind:         WarnUnknownDoor,
					CalendarID:   cal.ID,
					CalendarName: cal.Name,
					DoorID:       doorID,
					Message:      fmt.Sprintf("exception calendar %q (%s) maps to unknown door %s; skipping", cal.Name, cal.ID, doorID),
				}
				warnings = append(warnings, w)
				continue
			}

			for _, iv := range intervals {
				door.ExplodedExceptions = append(door.ExplodedExceptions, AttachTimezone(door.Location, iv))
			}
			appLog.Debug("attached exceptions to door", "calendar_id", cal.ID, "door_id", doorID, "door", door.Name, "count", len(intervals))
		}
	}

	return warnings
}
