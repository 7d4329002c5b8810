package timeline

import (
	"time"

	"github.com/pkg/errors"
	"github.com/teambition/rrule-go"

	appLog "doorcal/internal/log"
	"doorcal/internal/model"
)

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// Expander turns exception rules into naive (UTC-carried, zone-less)
// intervals bounded by a scheduling window.
type Expander struct {
	Window model.ScheduleWindow

	// Today is the date of the run. WEEKLY occurrences only fire on dates
	// strictly after it.
	Today time.Time

	// ClipWeekly applies the window to every WEEKLY occurrence, like DAILY
	// rules do. Off by default: WEEKLY occurrences are bounded only by the
	// rule span pre-check and the rule's own until date.
	ClipWeekly bool
}

// Expand returns the rule's occurrences in chronological order.
func (e Expander) Expand(rule model.ExceptionRule) ([]model.Interval, error) {
	base := model.Date(rule.Date)

	if rule.Recurrence == nil {
		if !e.Window.Contains(base) {
			return nil, nil
		}
		return []model.Interval{e.occurrence(rule, base)}, nil
	}

	spec := normalizeRecurrence(rule)
	until := model.Date(spec.Until)

	// The whole recurrence span misses the window.
	if until.Before(model.Date(e.Window.FirstDate)) || base.After(model.Date(e.Window.LastDate)) {
		return nil, nil
	}

	switch spec.Frequency {
	case model.Daily:
		return e.expandDaily(rule, spec)
	case model.Weekly:
		return e.expandWeekly(rule, spec)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFrequency, "frequency %q", spec.Frequency)
	}
}

func (e Expander) expandDaily(rule model.ExceptionRule, spec model.RecurrenceSpec) ([]model.Interval, error) {
	appLog.Debug("expanding daily exception", "rule_id", rule.ID, "date", rule.Date.Format(time.DateOnly), "until", spec.Until.Format(time.DateOnly))

	set, err := e.ruleSet(rrule.DAILY, rule, spec, nil)
	if err != nil {
		return nil, err
	}

	// Every occurrence shares the rule's start time, so the window bounds
	// expressed at that time of day select exactly the in-window dates.
	lo := rule.StartTime.On(model.Date(e.Window.FirstDate))
	hi := rule.StartTime.On(model.Date(e.Window.LastDate))

	var out []model.Interval
	for _, occ := range set.Between(lo, hi, true) {
		out = append(out, e.occurrence(rule, occ))
	}
	return out, nil
}

func (e Expander) expandWeekly(rule model.ExceptionRule, spec model.RecurrenceSpec) ([]model.Interval, error) {
	appLog.Debug("expanding weekly exception", "rule_id", rule.ID, "date", rule.Date.Format(time.DateOnly), "until", spec.Until.Format(time.DateOnly), "by_day", spec.ByDay)

	set, err := e.ruleSet(rrule.WEEKLY, rule, spec, spec.ByDay)
	if err != nil {
		return nil, err
	}

	today := model.Date(e.Today)

	var out []model.Interval
	for _, occ := range set.All() {
		if !model.Date(occ).After(today) {
			continue
		}
		if e.ClipWeekly && !e.Window.Contains(occ) {
			continue
		}
		out = append(out, e.occurrence(rule, occ))
	}
	return out, nil
}

// ruleSet builds an rrule set starting at the rule's base date and start time,
// running through 23:59:59 on the until date, minus excluded dates.
func (e Expander) ruleSet(freq rrule.Frequency, rule model.ExceptionRule, spec model.RecurrenceSpec, byDay []time.Weekday) (*rrule.Set, error) {
	opt := rrule.ROption{
		Freq:    freq,
		Dtstart: rule.StartTime.On(model.Date(rule.Date)),
		Until:   model.TimeOfDay{Hour: 23, Minute: 59, Second: 59}.On(model.Date(spec.Until)),
	}
	for _, wd := range byDay {
		opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, errors.Wrap(err, "build recurrence")
	}

	set := &rrule.Set{}
	set.RRule(r)
	for _, ex := range spec.ExcludedDates {
		set.ExDate(rule.StartTime.On(model.Date(ex)))
	}
	return set, nil
}

func (e Expander) occurrence(rule model.ExceptionRule, day time.Time) model.Interval {
	day = model.Date(day)
	return model.Interval{
		Status: rule.Status,
		Start:  rule.StartTime.On(day),
		End:    rule.EndTime.On(day),
	}
}

// normalizeRecurrence fills defaults: a WEEKLY rule without weekdays repeats
// on the weekday of its base date.
func normalizeRecurrence(rule model.ExceptionRule) model.RecurrenceSpec {
	spec := *rule.Recurrence
	if spec.Frequency == model.Weekly && len(spec.ByDay) == 0 {
		spec.ByDay = []time.Weekday{model.Date(rule.Date).Weekday()}
	}
	return spec
}
