package models

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var builtin MenuSnapshot

func init() {
	if err := yaml.Unmarshal(defaultsYAML, &builtin); err != nil {
		panic(fmt.Sprintf("models: parse defaults.yaml: %v", err))
	}
}

// Defaults returns a fresh copy of the built-in menu.
func Defaults() MenuSnapshot {
	return builtin.Clone()
}

// cachedSnapshot mirrors MenuSnapshot with pointers so absent fields can be
// told apart from zero values.
type cachedSnapshot struct {
	ID            string              `json:"id"`
	Week          *int                `json:"week"`
	WeeklyLunch   []DayMenu           `json:"weeklyLunch"`
	AlwaysOnMenu  []MenuItem          `json:"alwaysOnMenu"`
	PinsaPizza    []MenuItem          `json:"pinsaPizza"`
	Salads        []MenuItem          `json:"salads"`
	Pasta         []MenuItem          `json:"pasta"`
	LunchIncluded []LunchIncludedItem `json:"lunchIncluded"`
	LunchPricing  *LunchPricing       `json:"lunchPricing"`
	CategoryTexts *CategoryTexts      `json:"categoryTexts"`
}

// MergeWithDefaults decodes a cached snapshot and fills every missing field
// from the built-in defaults. On a decode error the defaults are returned
// together with the error.
func MergeWithDefaults(raw []byte) (MenuSnapshot, error) {
	out := Defaults()
	var c cachedSnapshot
	if err := json.Unmarshal(raw, &c); err != nil {
		return out, fmt.Errorf("decode cached menu: %w", err)
	}
	out.ID = c.ID
	if c.Week != nil {
		out.Week = *c.Week
	}
	if c.WeeklyLunch != nil {
		out.WeeklyLunch = c.WeeklyLunch
	}
	if c.AlwaysOnMenu != nil {
		out.AlwaysOnMenu = c.AlwaysOnMenu
	}
	if c.PinsaPizza != nil {
		out.PinsaPizza = c.PinsaPizza
	}
	if c.Salads != nil {
		out.Salads = c.Salads
	}
	if c.Pasta != nil {
		out.Pasta = c.Pasta
	}
	if c.LunchIncluded != nil {
		out.LunchIncluded = c.LunchIncluded
	}
	if c.LunchPricing != nil {
		out.LunchPricing = *c.LunchPricing
	}
	if c.CategoryTexts != nil {
		out.CategoryTexts = *c.CategoryTexts
	}
	return out, nil
}
