package gcal

import (
	"time"

	"github.com/pkg/errors"
	"google.golang.org/api/calendar/v3"

	"doorcal/internal/model"
)

// toExternal converts a listed event. ok is false for all-day events.
func toExternal(item *calendar.Event) (model.ExternalEvent, bool, error) {
	if item == nil || item.Start == nil || item.End == nil || item.Start.DateTime == "" || item.End.DateTime == "" {
		return model.ExternalEvent{}, false, nil
	}

	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return model.ExternalEvent{}, false, errors.Wrapf(err, "event %s start", item.Id)
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return model.ExternalEvent{}, false, errors.Wrapf(err, "event %s end", item.Id)
	}

	return model.ExternalEvent{
		ID:       item.Id,
		DoorName: item.Summary,
		Status:   item.Description,
		Start:    start.UTC(),
		End:      end.UTC(),
		ColorID:  item.ColorId,
	}, true, nil
}

// toGoogle builds the event body for an addition. The interval keeps the
// door's zone, which is sent along with the offset timestamp.
func toGoogle(add model.Addition, colorID string) *calendar.Event {
	return &calendar.Event{
		Summary:     add.DoorName,
		Description: string(add.Status),
		Start:       eventTime(add.Start),
		End:         eventTime(add.End),
		ColorId:     colorID,
	}
}

func eventTime(t time.Time) *calendar.EventDateTime {
	edt := &calendar.EventDateTime{DateTime: t.Format(time.RFC3339)}
	if name := t.Location().String(); name != "Local" {
		edt.TimeZone = name
	}
	return edt
}
