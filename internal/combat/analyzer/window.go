package analyzer

import (
	"fmt"
	"time"
)

// jst is the reporting timezone; daily windows are anchored to Japan days.
var jst = time.FixedZone("JST", 9*60*60)

// DetermineTimeWindow resolves a [start, end) UTC range for a JST calendar
// date. An empty date means the previous JST day. startHour and endHour are
// JST hours of day; an endHour at or before startHour rolls to the next day.
func DetermineTimeWindow(date string, startHour, endHour int, now time.Time) (time.Time, time.Time, error) {
	var base time.Time
	if date == "" {
		today := now.In(jst)
		base = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, jst).AddDate(0, 0, -1)
	} else {
		parsed, err := time.ParseInLocation("2006-01-02", date, jst)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
		}
		base = parsed
	}

	start := base.Add(time.Duration(startHour) * time.Hour)
	end := base.Add(time.Duration(endHour) * time.Hour)
	if endHour <= startHour {
		end = end.AddDate(0, 0, 1)
	}
	return start.UTC(), end.UTC(), nil
}
