// internal/clients/calendar_client.go
package clients

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"libracirc/internal/calendar"
)

type openingPeriodsResponse struct {
	OpeningPeriods []struct {
		Date       string `json:"date"`
		OpeningDay struct {
			AllDay      bool `json:"allDay"`
			Open        bool `json:"open"`
			OpeningHour []struct {
				StartTime string `json:"startTime"`
				EndTime   string `json:"endTime"`
			} `json:"openingHour"`
		} `json:"openingDay"`
	} `json:"openingPeriods"`
}

// CalendarClient reads service point opening hours.
type CalendarClient struct {
	*client
	loc *time.Location
}

// NewCalendarClient returns a client whose windows are expressed in loc.
func NewCalendarClient(baseURL string, loc *time.Location, opts Options) *CalendarClient {
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarClient{client: newClient("calendar", baseURL, opts), loc: loc}
}

// GetOpeningDays returns the service point's opening days from from to to,
// inclusive.
func (c *CalendarClient) GetOpeningDays(ctx context.Context, servicePointID uuid.UUID, from, to calendar.Date) (*calendar.Window, error) {
	q := url.Values{}
	q.Set("startDate", from.String())
	q.Set("endDate", to.String())
	q.Set("includeClosedDays", "true")
	q.Set("limit", "1000")

	var resp openingPeriodsResponse
	if err := c.get(ctx, fmt.Sprintf("/calendar/periods/%s/period", servicePointID), q, &resp); err != nil {
		return nil, fmt.Errorf("failed to get opening days for service point %s: %w", servicePointID, err)
	}

	days := make([]calendar.OpeningDay, 0, len(resp.OpeningPeriods))
	for _, p := range resp.OpeningPeriods {
		date, err := calendar.ParseDate(p.Date)
		if err != nil {
			return nil, err
		}

		switch {
		case !p.OpeningDay.Open:
			days = append(days, calendar.ClosedDay(date))
		case p.OpeningDay.AllDay:
			days = append(days, calendar.AllDayOpen(date))
		default:
			hours := make([]calendar.OpeningHour, 0, len(p.OpeningDay.OpeningHour))
			for _, h := range p.OpeningDay.OpeningHour {
				start, err := calendar.ParseTimeOfDay(h.StartTime)
				if err != nil {
					return nil, err
				}
				end, err := calendar.ParseTimeOfDay(h.EndTime)
				if err != nil {
					return nil, err
				}
				hours = append(hours, calendar.OpeningHour{Start: start, End: end})
			}
			days = append(days, calendar.OpenDuring(date, hours...))
		}
	}

	return calendar.NewWindow(c.loc, days)
}
