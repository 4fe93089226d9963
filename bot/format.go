package bot

import (
	"fmt"
	"strings"
	"time"

	"nollettan-menu/models"
	"nollettan-menu/services"
)

func mealLine(meal models.WeeklyMeal) string {
	line := fmt.Sprintf("• %s: %s", meal.Type, meal.Name)
	if meal.Description != "" {
		line += " (" + meal.Description + ")"
	}
	return line
}

// formatToday renders the targeted day's lunch with prices and what is included.
func formatToday(m models.MenuSnapshot, now time.Time) string {
	day, ok := services.TodaysMenu(m, now)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Lunch %s, vecka %d\n", day.Day, m.Week)
	if !ok || len(day.Meals) == 0 {
		sb.WriteString("Ingen lunch inlagd för dagen.\n")
	}
	for _, meal := range day.Meals {
		sb.WriteString(mealLine(meal) + "\n")
	}
	fmt.Fprintf(&sb, "\nPå plats %d kr, avhämtning %d kr\n", m.LunchPricing.OnSite, m.LunchPricing.Takeaway)
	if len(m.LunchIncluded) > 0 {
		names := make([]string, 0, len(m.LunchIncluded))
		for _, it := range m.LunchIncluded {
			names = append(names, it.Name)
		}
		sb.WriteString("Ingår: " + strings.Join(names, ", ") + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatWeek(m models.MenuSnapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Veckans lunch, vecka %d\n", m.Week)
	for _, d := range m.WeeklyLunch {
		sb.WriteString("\n" + d.Day + "\n")
		for _, meal := range d.Meals {
			sb.WriteString(mealLine(meal) + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func catalogTitle(m models.MenuSnapshot, c models.Catalog) string {
	var title string
	switch c {
	case models.CatalogAlwaysOn:
		title = m.CategoryTexts.AlwaysOnTitle
	case models.CatalogPinsaPizza:
		title = m.CategoryTexts.PinsaPizzaTitle
	case models.CatalogSalads:
		title = m.CategoryTexts.SaladsTitle
	case models.CatalogPasta:
		title = m.CategoryTexts.PastaTitle
	}
	if title == "" {
		return c.Label()
	}
	return title
}

// formatPrices lists every priced catalog.
func formatPrices(m models.MenuSnapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Lunch: %d kr på plats, %d kr avhämtning\n", m.LunchPricing.OnSite, m.LunchPricing.Takeaway)
	for _, c := range models.Catalogs {
		items := m.Items(c)
		if len(items) == 0 {
			continue
		}
		sb.WriteString("\n" + catalogTitle(m, c) + "\n")
		for _, it := range items {
			fmt.Fprintf(&sb, "• %s %d kr\n", it.Name, it.Price)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatNotice(n services.Notice) string {
	prefix := "ℹ️"
	switch n.Level {
	case services.NoticeSuccess:
		prefix = "✅"
	case services.NoticeError:
		prefix = "⚠️"
	}
	text := prefix + " " + n.Title
	if n.Message != "" {
		text += "\n" + n.Message
	}
	return text
}
