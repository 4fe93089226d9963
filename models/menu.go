package models

import (
	"errors"
	"fmt"
	"time"
)

// Meal types shown on the weekly lunch.
const (
	MealMeat = "Kött"
	MealFish = "Fisk"
	MealVeg  = "Veg"
)

// Icons for items bundled with lunch.
const (
	IconSoup   = "Soup"
	IconSalad  = "Salad"
	IconCookie = "Cookie"
	IconCoffee = "Coffee"
	IconHeart  = "Heart"
)

type WeeklyMeal struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Type        string `json:"type" yaml:"type"` // MealMeat, MealFish or MealVeg
}

type DayMenu struct {
	Day   string       `json:"day" yaml:"day"`
	Meals []WeeklyMeal `json:"meals" yaml:"meals"`
}

// MenuItem is a priced dish. Category is the display label, not the catalog key.
type MenuItem struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Price       int    `json:"price" yaml:"price"`
	Category    string `json:"category" yaml:"category"`
}

type LunchIncludedItem struct {
	Name string `json:"name" yaml:"name"`
	Icon string `json:"icon" yaml:"icon"`
}

type LunchPricing struct {
	OnSite   int `json:"onSite" yaml:"onSite"`
	Takeaway int `json:"takeaway" yaml:"takeaway"`
}

type CategoryTexts struct {
	AlwaysOnTitle         string `json:"alwaysOnTitle" yaml:"alwaysOnTitle"`
	AlwaysOnDescription   string `json:"alwaysOnDescription" yaml:"alwaysOnDescription"`
	PinsaPizzaTitle       string `json:"pinsaPizzaTitle" yaml:"pinsaPizzaTitle"`
	PinsaPizzaDescription string `json:"pinsaPizzaDescription" yaml:"pinsaPizzaDescription"`
	SaladsTitle           string `json:"saladsTitle" yaml:"saladsTitle"`
	SaladsDescription     string `json:"saladsDescription" yaml:"saladsDescription"`
	PastaTitle            string `json:"pastaTitle" yaml:"pastaTitle"`
	PastaDescription      string `json:"pastaDescription" yaml:"pastaDescription"`
}

// MenuSnapshot is the whole menu as one aggregate. ID is the root record id;
// it is empty until the snapshot has been loaded from or saved to a store.
type MenuSnapshot struct {
	ID            string              `json:"id,omitempty" yaml:"-"`
	Week          int                 `json:"week" yaml:"week"`
	WeeklyLunch   []DayMenu           `json:"weeklyLunch" yaml:"weeklyLunch"`
	AlwaysOnMenu  []MenuItem          `json:"alwaysOnMenu" yaml:"alwaysOnMenu"`
	PinsaPizza    []MenuItem          `json:"pinsaPizza" yaml:"pinsaPizza"`
	Salads        []MenuItem          `json:"salads" yaml:"salads"`
	Pasta         []MenuItem          `json:"pasta" yaml:"pasta"`
	LunchIncluded []LunchIncludedItem `json:"lunchIncluded" yaml:"lunchIncluded"`
	LunchPricing  LunchPricing        `json:"lunchPricing" yaml:"lunchPricing"`
	CategoryTexts CategoryTexts       `json:"categoryTexts" yaml:"categoryTexts"`
}

// Catalog identifies one of the four priced item lists. The value is the
// category tag stored with each menu_items row.
type Catalog string

const (
	CatalogAlwaysOn   Catalog = "always_on"
	CatalogPinsaPizza Catalog = "pinsa_pizza"
	CatalogSalads     Catalog = "salads"
	CatalogPasta      Catalog = "pasta"
)

// Catalogs lists the priced catalogs in display order.
var Catalogs = []Catalog{CatalogAlwaysOn, CatalogPinsaPizza, CatalogSalads, CatalogPasta}

// Label returns the display label new items in the catalog get.
func (c Catalog) Label() string {
	switch c {
	case CatalogAlwaysOn:
		return "Alltid på Noll Ettan"
	case CatalogPinsaPizza:
		return "Pinsa Pizza"
	case CatalogSalads:
		return "Sallader"
	case CatalogPasta:
		return "Pasta"
	}
	return ""
}

func (c Catalog) Valid() bool {
	return c.Label() != ""
}

// ParseCatalog accepts a catalog tag.
func ParseCatalog(s string) (Catalog, error) {
	c := Catalog(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown catalog: %q", s)
	}
	return c, nil
}

// Items returns the list backing the catalog.
func (m *MenuSnapshot) Items(c Catalog) []MenuItem {
	switch c {
	case CatalogAlwaysOn:
		return m.AlwaysOnMenu
	case CatalogPinsaPizza:
		return m.PinsaPizza
	case CatalogSalads:
		return m.Salads
	case CatalogPasta:
		return m.Pasta
	}
	return nil
}

func (m *MenuSnapshot) SetItems(c Catalog, items []MenuItem) {
	switch c {
	case CatalogAlwaysOn:
		m.AlwaysOnMenu = items
	case CatalogPinsaPizza:
		m.PinsaPizza = items
	case CatalogSalads:
		m.Salads = items
	case CatalogPasta:
		m.Pasta = items
	}
}

// Clone returns a deep copy.
func (m MenuSnapshot) Clone() MenuSnapshot {
	out := m
	if m.WeeklyLunch != nil {
		out.WeeklyLunch = make([]DayMenu, len(m.WeeklyLunch))
		for i, d := range m.WeeklyLunch {
			out.WeeklyLunch[i] = DayMenu{Day: d.Day, Meals: cloneSlice(d.Meals)}
		}
	}
	out.AlwaysOnMenu = cloneSlice(m.AlwaysOnMenu)
	out.PinsaPizza = cloneSlice(m.PinsaPizza)
	out.Salads = cloneSlice(m.Salads)
	out.Pasta = cloneSlice(m.Pasta)
	out.LunchIncluded = cloneSlice(m.LunchIncluded)
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

var ErrInvalidSnapshot = errors.New("invalid menu snapshot")

// Validate checks the value constraints admins must respect.
func (m *MenuSnapshot) Validate() error {
	if m.Week < 1 {
		return fmt.Errorf("%w: week %d is not positive", ErrInvalidSnapshot, m.Week)
	}
	if m.LunchPricing.OnSite < 0 || m.LunchPricing.Takeaway < 0 {
		return fmt.Errorf("%w: lunch pricing must be >= 0", ErrInvalidSnapshot)
	}
	for _, c := range Catalogs {
		for i, it := range m.Items(c) {
			if it.Price < 0 {
				return fmt.Errorf("%w: %s[%d] %q has negative price", ErrInvalidSnapshot, c, i, it.Name)
			}
		}
	}
	for _, d := range m.WeeklyLunch {
		for i, meal := range d.Meals {
			switch meal.Type {
			case MealMeat, MealFish, MealVeg:
			default:
				return fmt.Errorf("%w: %s meal %d has unknown type %q", ErrInvalidSnapshot, d.Day, i, meal.Type)
			}
		}
	}
	return nil
}

var dayNames = [...]string{"Söndag", "Måndag", "Tisdag", "Onsdag", "Torsdag", "Fredag", "Lördag"}

// DayName returns the Swedish weekday label used in DayMenu.Day.
func DayName(d time.Weekday) string {
	return dayNames[d%7]
}
