package verkada

// Wire shapes of the provider API. Only the fields the sync uses are decoded.

type tokenResponse struct {
	Token string `json:"token"`
}

type camera struct {
	SiteID   string `json:"site_id"`
	Timezone string `json:"timezone"`
}

type devicesResponse struct {
	Cameras []camera `json:"cameras"`
}

type doorSite struct {
	SiteID string `json:"site_id"`
}

type door struct {
	DoorID string   `json:"door_id"`
	Name   string   `json:"name"`
	Site   doorSite `json:"site"`
}

type doorsResponse struct {
	Doors []door `json:"doors"`
}

type recurrenceRule struct {
	Frequency string   `json:"frequency"`
	Until     string   `json:"until"`
	ByDay     []string `json:"by_day"`
	// ExcludedDates is sometimes null and sometimes []; both mean none.
	ExcludedDates []string `json:"excluded_dates"`
}

type exception struct {
	ID             string          `json:"door_exception_id"`
	Date           string          `json:"date"`
	StartTime      string          `json:"start_time"`
	EndTime        string          `json:"end_time"`
	DoorStatus     string          `json:"door_status"`
	RecurrenceRule *recurrenceRule `json:"recurrence_rule"`
}

type exceptionCalendar struct {
	ID         string      `json:"door_exception_calendar_id"`
	Name       string      `json:"name"`
	Doors      []string    `json:"doors"`
	Exceptions []exception `json:"exceptions"`
}

type exceptionCalendarsResponse struct {
	Calendars []exceptionCalendar `json:"door_exception_calendars"`
}
