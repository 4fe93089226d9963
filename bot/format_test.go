package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"nollettan-menu/models"
	"nollettan-menu/services"
)

func TestFormatToday(t *testing.T) {
	m := models.Defaults()
	// Friday after the cutoff rolls over to Monday.
	friday := time.Date(2025, 10, 17, 17, 0, 0, 0, time.UTC)
	got := formatToday(m, friday)

	assert.True(t, strings.HasPrefix(got, "Lunch Måndag, vecka 41"), got)
	for _, meal := range m.WeeklyLunch[0].Meals {
		assert.Contains(t, got, meal.Name)
	}
	assert.Contains(t, got, "På plats 155 kr, avhämtning 140 kr")
	assert.Contains(t, got, "Ingår: ")
}

func TestFormatTodayMissingDay(t *testing.T) {
	m := models.Defaults()
	m.WeeklyLunch = nil
	got := formatToday(m, time.Date(2025, 10, 14, 10, 0, 0, 0, time.UTC))
	assert.Contains(t, got, "Tisdag")
	assert.Contains(t, got, "Ingen lunch inlagd")
}

func TestFormatWeekAndPrices(t *testing.T) {
	m := models.Defaults()
	week := formatWeek(m)
	for _, d := range m.WeeklyLunch {
		assert.Contains(t, week, d.Day)
	}

	prices := formatPrices(m)
	assert.Contains(t, prices, m.CategoryTexts.PastaTitle)
	assert.Contains(t, prices, m.Pasta[0].Name)

	m.Salads = nil
	assert.NotContains(t, formatPrices(m), m.CategoryTexts.SaladsTitle+"\n")
}

func TestCommand(t *testing.T) {
	tests := map[string]string{
		"/today":             "/today",
		"/week@nollettanbot": "/week",
		"  /prices extra ":   "/prices",
		"":                   "",
		"hej":                "hej",
	}
	for in, want := range tests {
		assert.Equal(t, want, command(in), "input %q", in)
	}
}

func TestFormatNotice(t *testing.T) {
	got := formatNotice(services.Notice{Level: services.NoticeError, Title: "Kunde inte spara menyn", Message: "NOT_ADMIN"})
	assert.Equal(t, "⚠️ Kunde inte spara menyn\nNOT_ADMIN", got)
}
