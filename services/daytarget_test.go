package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nollettan-menu/models"
)

// 2025-10-13 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.October, 13+day, hour, minute, 0, 0, time.UTC)
}

func TestTargetDay(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Weekday
	}{
		{"monday morning", at(0, 9, 0), time.Monday},
		{"monday 15:59", at(0, 15, 59), time.Monday},
		{"monday 16:00 advances", at(0, 16, 0), time.Tuesday},
		{"thursday 23:00", at(3, 23, 0), time.Friday},
		{"friday noon", at(4, 12, 0), time.Friday},
		{"friday 17:00 to monday", at(4, 17, 0), time.Monday},
		{"saturday morning", at(5, 8, 0), time.Monday},
		{"saturday evening", at(5, 20, 0), time.Monday},
		{"sunday before 16", at(6, 10, 0), time.Monday},
		{"sunday after 16", at(6, 18, 0), time.Monday},
		{"midnight wednesday", at(2, 0, 0), time.Wednesday},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TargetDay(tt.now))
		})
	}
}

func TestTargetDayProperties(t *testing.T) {
	start := at(0, 0, 0)
	for h := 0; h < 24*14; h++ {
		now := start.Add(time.Duration(h) * time.Hour)
		got := TargetDay(now)
		require.NotEqual(t, time.Saturday, got, now)
		require.NotEqual(t, time.Sunday, got, now)

		wd := now.Weekday()
		weekday := wd >= time.Monday && wd <= time.Friday
		switch {
		case now.Hour() < 16 && weekday:
			require.Equal(t, wd, got, now)
		case now.Hour() >= 16:
			next := (wd + 1) % 7
			if next == time.Saturday || next == time.Sunday {
				next = time.Monday
			}
			require.Equal(t, next, got, now)
		default:
			require.Equal(t, time.Monday, got, now)
		}
	}
}

func TestTargetDayUsesLocationHour(t *testing.T) {
	stockholm, err := time.LoadLocation("Europe/Stockholm")
	require.NoError(t, err)
	// 14:30 UTC is 16:30 in Stockholm during summer time.
	now := time.Date(2025, time.June, 10, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Tuesday, TargetDay(now))
	assert.Equal(t, time.Wednesday, TargetDay(now.In(stockholm)))
}

func TestTodaysMenu(t *testing.T) {
	m := models.Defaults()
	d, ok := TodaysMenu(m, at(1, 11, 0))
	require.True(t, ok)
	assert.Equal(t, "Tisdag", d.Day)
	assert.Equal(t, "Nattbakad fläskkarre", d.Meals[0].Name)

	m.WeeklyLunch = m.WeeklyLunch[:1]
	d, ok = TodaysMenu(m, at(1, 11, 0))
	assert.False(t, ok)
	assert.Equal(t, "Tisdag", d.Day)
	assert.Equal(t, "Fredag", TargetDayName(at(3, 16, 0)))
}
