package burndown

import (
	"fmt"
	"time"
)

// ReportingZone is the fixed UTC+9 calendar every timestamp is bucketed into.
var ReportingZone = time.FixedZone("UTC+9", 9*60*60)

const dayLayout = "2006-01-02"

// ToReportingDate returns midnight of t's calendar day in the reporting zone.
func ToReportingDate(t time.Time) time.Time {
	local := t.In(ReportingZone)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, ReportingZone)
}

// NextReportingDay returns the reporting midnight following d.
func NextReportingDay(d time.Time) time.Time {
	local := ToReportingDate(d)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, ReportingZone)
}

// DayKey formats a reporting day as 2006-01-02.
func DayKey(d time.Time) string {
	return d.In(ReportingZone).Format(dayLayout)
}

// ParseDate accepts a bare date (read as a reporting-calendar day) or an
// RFC3339 timestamp, and returns the reporting day it falls on.
func ParseDate(s string) (time.Time, error) {
	if d, err := time.ParseInLocation(dayLayout, s, ReportingZone); err == nil {
		return d, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC3339", s)
	}
	return ToReportingDate(ts), nil
}

func minDay(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}
