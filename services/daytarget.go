package services

import (
	"time"

	"nollettan-menu/models"
)

// lunchCutoffHour is the local hour from which the next day's lunch is shown.
const lunchCutoffHour = 16

// TargetDay returns the weekday whose lunch should be highlighted at now.
// From 16:00 the next day is targeted, and weekends fall through to Monday.
// Pass now in the restaurant's zone; the hour is read from now's location.
func TargetDay(now time.Time) time.Weekday {
	day := now.Weekday()
	if now.Hour() >= lunchCutoffHour {
		day = (day + 1) % 7
	}
	if day == time.Saturday || day == time.Sunday {
		return time.Monday
	}
	return day
}

// TargetDayName is TargetDay as the label used in the weekly lunch.
func TargetDayName(now time.Time) string {
	return models.DayName(TargetDay(now))
}

// TodaysMenu returns the weekly lunch entry for the targeted day.
func TodaysMenu(m models.MenuSnapshot, now time.Time) (models.DayMenu, bool) {
	name := TargetDayName(now)
	for _, d := range m.WeeklyLunch {
		if d.Day == name {
			return d, true
		}
	}
	return models.DayMenu{Day: name}, false
}
