package verkada

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	appLog "doorcal/internal/log"
	"doorcal/internal/model"
)

const (
	endpointDevices            = "cameras/v1/devices"
	endpointDoors              = "access/v1/doors"
	endpointExceptionCalendars = "access/v1/door/exception_calendar"
)

// Snapshot is everything read from the provider in one run.
type Snapshot struct {
	// Doors is keyed by door ID.
	Doors     map[string]*model.Door
	Calendars []model.ExceptionCalendar
	// Warnings lists records that were skipped or degraded.
	Warnings []string
}

// Sites returns each site's timezone. The API only exposes site timezones
// through camera devices, so the first camera seen per site wins. Unknown
// zone names are reported and the site is left out.
func (c *Client) Sites(ctx context.Context) (map[string]*time.Location, []string, error) {
	appLog.Info("downloading verkada sites")
	var resp devicesResponse
	if err := c.getJSON(ctx, endpointDevices, &resp); err != nil {
		return nil, nil, err
	}
	sites, warnings := parseSites(resp.Cameras)
	return sites, warnings, nil
}

// doors returns the raw door list.
func (c *Client) doors(ctx context.Context) ([]door, error) {
	appLog.Info("downloading verkada doors")
	var resp doorsResponse
	if err := c.getJSON(ctx, endpointDoors, &resp); err != nil {
		return nil, err
	}
	return resp.Doors, nil
}

// ExceptionCalendars returns every door exception calendar. The API has no
// date filter, so all exceptions are downloaded.
func (c *Client) ExceptionCalendars(ctx context.Context) ([]model.ExceptionCalendar, []string, error) {
	appLog.Info("downloading verkada door exception calendars")
	var resp exceptionCalendarsResponse
	if err := c.getJSON(ctx, endpointExceptionCalendars, &resp); err != nil {
		return nil, nil, err
	}
	return parseCalendars(resp.Calendars)
}

// FetchAll logs in when needed and downloads sites, doors and exception
// calendars concurrently. Any request failure fails the whole fetch.
func (c *Client) FetchAll(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	loggedIn := c.token != ""
	c.mu.RUnlock()
	if !loggedIn {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	var (
		sites        map[string]*time.Location
		siteWarnings []string
		rawDoors     []door
		calendars    []model.ExceptionCalendar
		calWarnings  []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sites, siteWarnings, err = c.Sites(gctx)
		return errors.Wrap(err, "fetch sites")
	})
	g.Go(func() error {
		var err error
		rawDoors, err = c.doors(gctx)
		return errors.Wrap(err, "fetch doors")
	})
	g.Go(func() error {
		var err error
		calendars, calWarnings, err = c.ExceptionCalendars(gctx)
		return errors.Wrap(err, "fetch exception calendars")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	doors, doorWarnings := buildDoors(rawDoors, sites)

	snap := &Snapshot{
		Doors:     doors,
		Calendars: calendars,
	}
	snap.Warnings = append(snap.Warnings, siteWarnings...)
	snap.Warnings = append(snap.Warnings, doorWarnings...)
	snap.Warnings = append(snap.Warnings, calWarnings...)

	appLog.Info("verkada fetch complete", "sites", len(sites), "doors", len(doors), "calendars", len(calendars), "warnings", len(snap.Warnings))
	return snap, nil
}
