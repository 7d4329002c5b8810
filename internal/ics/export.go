package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/pkg/errors"

	"doorcal/internal/model"
)

const productID = "-//doorcal//door exception schedule//EN"

// Flatten turns per-door timelines into additions ordered by door name, then
// start.
func Flatten(timelines map[string][]model.Interval) []model.Addition {
	names := make([]string, 0, len(timelines))
	for name := range timelines {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]model.Addition, 0)
	for _, name := range names {
		for _, iv := range timelines[name] {
			out = append(out, model.Addition{DoorName: name, Interval: iv})
		}
	}
	return out
}

// Export writes the additions as an iCalendar feed, one VEVENT per interval.
// UIDs are derived from the interval so re-exports are stable.
func Export(w io.Writer, additions []model.Addition, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetName("Door exception schedule")

	for _, add := range additions {
		ev := cal.AddEvent(uid(add))
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(add.Start)
		ev.SetEndAt(add.End)
		ev.SetSummary(add.DoorName)
		ev.SetDescription(string(add.Status))
		ev.AddProperty(ical.ComponentPropertyCategories, string(add.Status))
	}

	if err := cal.SerializeTo(w); err != nil {
		return errors.Wrap(err, "write ics")
	}
	return nil
}

func uid(add model.Addition) string {
	h := sha256.New()
	h.Write([]byte(add.DoorName))
	h.Write([]byte{0})
	h.Write([]byte(add.Status))
	h.Write([]byte{0})
	h.Write([]byte(add.Start.UTC().Format(time.RFC3339)))
	h.Write([]byte{0})
	h.Write([]byte(add.End.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(h.Sum(nil)[:16]) + "@doorcal"
}
