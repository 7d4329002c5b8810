package verkada

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"doorcal/internal/model"
)

var byDayCodes = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

func parseSites(cameras []camera) (map[string]*time.Location, []string) {
	sites := make(map[string]*time.Location)
	seen := make(map[string]bool)
	var warnings []string

	for _, cam := range cameras {
		if cam.SiteID == "" || seen[cam.SiteID] {
			continue
		}
		seen[cam.SiteID] = true

		loc, err := time.LoadLocation(cam.Timezone)
		if err != nil || cam.Timezone == "" {
			warnings = append(warnings, fmt.Sprintf("site %s has unknown timezone %q", cam.SiteID, cam.Timezone))
			continue
		}
		sites[cam.SiteID] = loc
	}
	return sites, warnings
}

// buildDoors links each door to its site's timezone. Doors on a site without
// a known timezone use UTC.
func buildDoors(raw []door, sites map[string]*time.Location) (map[string]*model.Door, []string) {
	doors := make(map[string]*model.Door, len(raw))
	var warnings []string

	for _, d := range raw {
		if d.DoorID == "" {
			warnings = append(warnings, fmt.Sprintf("door %q has no id; skipping", d.Name))
			continue
		}
		loc, ok := sites[d.Site.SiteID]
		if !ok {
			loc = time.UTC
			warnings = append(warnings, fmt.Sprintf("door %s (%q) is on site %q with no timezone; using UTC", d.DoorID, d.Name, d.Site.SiteID))
		}
		doors[d.DoorID] = &model.Door{
			ID:       d.DoorID,
			Name:     d.Name,
			SiteID:   d.Site.SiteID,
			Location: loc,
		}
	}
	return doors, warnings
}

// parseCalendars converts the wire calendars. Exceptions with an unknown
// door status are skipped with a warning; malformed dates and times fail.
func parseCalendars(raw []exceptionCalendar) ([]model.ExceptionCalendar, []string, error) {
	out := make([]model.ExceptionCalendar, 0, len(raw))
	var warnings []string

	for _, rc := range raw {
		cal := model.ExceptionCalendar{
			ID:      rc.ID,
			Name:    rc.Name,
			DoorIDs: append([]string(nil), rc.Doors...),
			Rules:   make([]model.ExceptionRule, 0, len(rc.Exceptions)),
		}

		for i, ex := range rc.Exceptions {
			status, err := model.ParseDoorStatus(ex.DoorStatus)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("exception calendar %q (%s) exception %s has unknown door status %q; skipping", rc.Name, rc.ID, exceptionLabel(ex, i), ex.DoorStatus))
				continue
			}

			rule, err := parseException(ex, status)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "exception calendar %q (%s) exception %s", rc.Name, rc.ID, exceptionLabel(ex, i))
			}
			cal.Rules = append(cal.Rules, rule)
		}

		out = append(out, cal)
	}
	return out, warnings, nil
}

func parseException(ex exception, status model.DoorStatus) (model.ExceptionRule, error) {
	date, err := model.ParseDate(ex.Date)
	if err != nil {
		return model.ExceptionRule{}, errors.Wrap(err, "date")
	}
	start, err := model.ParseTimeOfDay(ex.StartTime)
	if err != nil {
		return model.ExceptionRule{}, errors.Wrap(err, "start_time")
	}
	end, err := model.ParseTimeOfDay(ex.EndTime)
	if err != nil {
		return model.ExceptionRule{}, errors.Wrap(err, "end_time")
	}

	rule := model.ExceptionRule{
		ID:        ex.ID,
		Status:    status,
		Date:      date,
		StartTime: start,
		EndTime:   end,
	}
	if ex.RecurrenceRule == nil {
		return rule, nil
	}

	rec, err := parseRecurrence(*ex.RecurrenceRule)
	if err != nil {
		return model.ExceptionRule{}, err
	}
	rule.Recurrence = rec
	return rule, nil
}

// parseRecurrence keeps the frequency verbatim (upper-cased) so that an
// unsupported value reaches the expander and fails the run there.
func parseRecurrence(rr recurrenceRule) (*model.RecurrenceSpec, error) {
	until, err := model.ParseDate(rr.Until)
	if err != nil {
		return nil, errors.Wrap(err, "recurrence until")
	}

	spec := &model.RecurrenceSpec{
		Frequency: model.Frequency(strings.ToUpper(strings.TrimSpace(rr.Frequency))),
		Until:     until,
	}

	for _, code := range rr.ByDay {
		wd, ok := byDayCodes[strings.ToUpper(code)]
		if !ok {
			return nil, errors.Errorf("recurrence by_day: unknown weekday %q", code)
		}
		spec.ByDay = append(spec.ByDay, wd)
	}

	for _, s := range rr.ExcludedDates {
		d, err := model.ParseDate(s)
		if err != nil {
			return nil, errors.Wrap(err, "recurrence excluded_dates")
		}
		spec.ExcludedDates = append(spec.ExcludedDates, d)
	}

	return spec, nil
}

func exceptionLabel(ex exception, index int) string {
	if ex.ID != "" {
		return ex.ID
	}
	return fmt.Sprintf("#%d", index)
}
