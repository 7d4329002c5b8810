package gcal

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	appLog "doorcal/internal/log"
	"doorcal/internal/model"
)

const maxResults = 2500

// Options configures a Client.
type Options struct {
	CalendarID string
	// Colors maps a door status to a Google Calendar colorId.
	Colors map[string]string
	// SendEmails notifies attendees of inserted and deleted events.
	SendEmails bool
}

// Client reads and writes door status events on one Google Calendar.
type Client struct {
	svc        *calendar.Service
	calendarID string
	colors     map[string]string
	sendEmails bool
}

// New logs in with a service-account JSON key file.
func New(ctx context.Context, credentialsFile string, opts Options) (*Client, error) {
	appLog.Info("logging in to google", "credentials", credentialsFile)

	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, errors.Wrapf(err, "read google credentials %s", credentialsFile)
	}
	jwt, err := google.JWTConfigFromJSON(data, calendar.CalendarScope)
	if err != nil {
		return nil, errors.Wrap(err, "parse google credentials")
	}

	svc, err := calendar.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, errors.Wrap(err, "create calendar service")
	}
	return NewWithService(svc, opts), nil
}

// NewWithService wraps an existing calendar service.
func NewWithService(svc *calendar.Service, opts Options) *Client {
	return &Client{
		svc:        svc,
		calendarID: opts.CalendarID,
		colors:     opts.Colors,
		sendEmails: opts.SendEmails,
	}
}

func (c *Client) sendUpdates() string {
	if c.sendEmails {
		return "all"
	}
	return "none"
}

// Download returns the events inside the window, grouped by summary (door
// name) and sorted by start. Recurring events are expanded into instances.
// All-day events carry no status interval and are skipped.
func (c *Client) Download(ctx context.Context, w model.ScheduleWindow) (map[string][]model.ExternalEvent, error) {
	timeMin := w.Start().Format(time.RFC3339)
	timeMax := w.End().Format(time.RFC3339)
	appLog.Info("downloading google calendar events", "calendar_id", c.calendarID, "time_min", timeMin, "time_max", timeMax)

	out := make(map[string][]model.ExternalEvent)
	count, skipped := 0, 0

	call := c.svc.Events.List(c.calendarID).
		TimeMin(timeMin).
		TimeMax(timeMax).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(maxResults).
		Fields("items(summary,id,description,start,end,colorId)", "nextPageToken")

	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			ev, ok, err := toExternal(item)
			if err != nil {
				return err
			}
			if !ok {
				skipped++
				continue
			}
			out[ev.DoorName] = append(out[ev.DoorName], ev)
			count++
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list google calendar events")
	}

	appLog.Info("google calendar events downloaded", "events", count, "doors", len(out), "skipped_all_day", skipped)
	return out, nil
}

// Insert creates one event for a door status interval.
func (c *Client) Insert(ctx context.Context, add model.Addition) error {
	appLog.Info("adding google calendar event", "door", add.DoorName, "status", add.Status, "start", add.Start)

	ev := toGoogle(add, c.colors[string(add.Status)])
	_, err := c.svc.Events.Insert(c.calendarID, ev).
		SendUpdates(c.sendUpdates()).
		Context(ctx).
		Do()
	if err != nil {
		return errors.Wrapf(err, "insert event for %s at %s", add.DoorName, add.Start.Format(time.RFC3339))
	}
	return nil
}

// Delete removes one event by its provider id.
func (c *Client) Delete(ctx context.Context, ev model.ExternalEvent) error {
	appLog.Info("removing google calendar event", "door", ev.DoorName, "status", ev.Status, "start", ev.Start, "id", ev.ID)

	err := c.svc.Events.Delete(c.calendarID, ev.ID).
		SendUpdates(c.sendUpdates()).
		Context(ctx).
		Do()
	if err != nil {
		return errors.Wrapf(err, "delete event %s", ev.ID)
	}
	return nil
}
