package clocksync

import (
	"fmt"
	"time"
	_ "time/tzdata" // display zone must resolve on hosts without a zoneinfo database
)

const (
	DefaultDisplayZone = "America/Chicago"

	clockLayout = "3:04:05 PM"
	dateLayout  = "Mon, Jan 2"
)

// Display renders corrected instants in a fixed civil time zone,
// independent of the host's local zone.
type Display struct {
	loc *time.Location
}

func NewDisplay(zone string) (*Display, error) {
	if zone == "" {
		zone = DefaultDisplayZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load display zone %q: %w", zone, err)
	}
	return &Display{loc: loc}, nil
}

func (d *Display) Location() *time.Location { return d.loc }

// Clock formats t as a 12-hour wall clock, e.g. "2:00:01 PM".
func (d *Display) Clock(t time.Time) string {
	return t.In(d.loc).Format(clockLayout)
}

// Date formats t as a short date, e.g. "Fri, Oct 31".
func (d *Display) Date(t time.Time) string {
	return t.In(d.loc).Format(dateLayout)
}

// Zone returns the zone abbreviation in effect at t, e.g. "CDT".
func (d *Display) Zone(t time.Time) string {
	name, _ := t.In(d.loc).Zone()
	return name
}
