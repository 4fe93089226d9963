package services

import (
	"context"
	"strings"
	"time"

	"nollettan-menu/models"
)

// Table names a record store table.
type Table string

const (
	TableMenuData      Table = "menu_data"
	TableWeeklyLunch   Table = "weekly_lunch"
	TableMenuItems     Table = "menu_items"
	TableLunchIncluded Table = "lunch_included"
	TableLunchPricing  Table = "lunch_pricing"
	TableCategoryTexts Table = "category_texts"
)

// ChildTables lists the tables scoped to a root record, in insert order.
var ChildTables = []Table{TableWeeklyLunch, TableMenuItems, TableLunchIncluded, TableLunchPricing, TableCategoryTexts}

// Code is the upper-case form used in error codes.
func (t Table) Code() string {
	return strings.ToUpper(string(t))
}

// RootRow is a menu_data row.
type RootRow struct {
	ID        string
	Week      int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type WeeklyLunchRow struct {
	MenuID     string
	Day        string
	Meals      []models.WeeklyMeal
	OrderIndex int
}

type MenuItemRow struct {
	MenuID      string
	Category    models.Catalog
	Label       string
	Name        string
	Description string
	Price       int
	OrderIndex  int
}

type LunchIncludedRow struct {
	MenuID     string
	Name       string
	Icon       string
	OrderIndex int
}

type LunchPricingRow struct {
	MenuID   string
	OnSite   int
	Takeaway int
}

type CategoryTextsRow struct {
	MenuID string
	models.CategoryTexts
}

// RecordStore is the remote store holding the menu tables. Select methods
// return rows ordered by order index; an empty result is not an error.
type RecordStore interface {
	// LatestRoot returns the most recently created root, or nil when none exists.
	LatestRoot(ctx context.Context) (*RootRow, error)
	CreateRoot(ctx context.Context, id string, week int) error
	UpdateRoot(ctx context.Context, id string, week int) error

	WeeklyLunch(ctx context.Context, menuID string) ([]WeeklyLunchRow, error)
	MenuItems(ctx context.Context, menuID string) ([]MenuItemRow, error)
	LunchIncluded(ctx context.Context, menuID string) ([]LunchIncludedRow, error)
	LunchPricing(ctx context.Context, menuID string) ([]LunchPricingRow, error)
	CategoryTexts(ctx context.Context, menuID string) ([]CategoryTextsRow, error)

	// DeleteChildren removes every row of a child table scoped to menuID.
	DeleteChildren(ctx context.Context, table Table, menuID string) error

	InsertWeeklyLunch(ctx context.Context, rows []WeeklyLunchRow) error
	InsertMenuItems(ctx context.Context, rows []MenuItemRow) error
	InsertLunchIncluded(ctx context.Context, rows []LunchIncludedRow) error
	InsertLunchPricing(ctx context.Context, rows []LunchPricingRow) error
	InsertCategoryTexts(ctx context.Context, rows []CategoryTextsRow) error
}

// Transactional is implemented by stores that can run a unit of work
// atomically. fn receives a store bound to the transaction; returning an
// error rolls everything back.
type Transactional interface {
	InTx(ctx context.Context, fn func(RecordStore) error) error
}

// childRows is a snapshot flattened into store rows.
type childRows struct {
	weeklyLunch   []WeeklyLunchRow
	menuItems     []MenuItemRow
	lunchIncluded []LunchIncludedRow
	lunchPricing  []LunchPricingRow
	categoryTexts []CategoryTextsRow
}

// toRows flattens m for menuID, assigning order indexes by position.
func toRows(menuID string, m models.MenuSnapshot) childRows {
	var r childRows
	for i, d := range m.WeeklyLunch {
		meals := d.Meals
		if meals == nil {
			meals = []models.WeeklyMeal{}
		}
		r.weeklyLunch = append(r.weeklyLunch, WeeklyLunchRow{MenuID: menuID, Day: d.Day, Meals: meals, OrderIndex: i})
	}
	for _, c := range models.Catalogs {
		for i, it := range m.Items(c) {
			r.menuItems = append(r.menuItems, MenuItemRow{
				MenuID:      menuID,
				Category:    c,
				Label:       it.Category,
				Name:        it.Name,
				Description: it.Description,
				Price:       it.Price,
				OrderIndex:  i,
			})
		}
	}
	for i, it := range m.LunchIncluded {
		r.lunchIncluded = append(r.lunchIncluded, LunchIncludedRow{MenuID: menuID, Name: it.Name, Icon: it.Icon, OrderIndex: i})
	}
	r.lunchPricing = []LunchPricingRow{{MenuID: menuID, OnSite: m.LunchPricing.OnSite, Takeaway: m.LunchPricing.Takeaway}}
	r.categoryTexts = []CategoryTextsRow{{MenuID: menuID, CategoryTexts: m.CategoryTexts}}
	return r
}

// insertAll writes r table by table and stops at the first failure.
func (r childRows) insertAll(ctx context.Context, s RecordStore) error {
	steps := []struct {
		table Table
		empty bool
		fn    func() error
	}{
		{TableWeeklyLunch, len(r.weeklyLunch) == 0, func() error { return s.InsertWeeklyLunch(ctx, r.weeklyLunch) }},
		{TableMenuItems, len(r.menuItems) == 0, func() error { return s.InsertMenuItems(ctx, r.menuItems) }},
		{TableLunchIncluded, len(r.lunchIncluded) == 0, func() error { return s.InsertLunchIncluded(ctx, r.lunchIncluded) }},
		{TableLunchPricing, len(r.lunchPricing) == 0, func() error { return s.InsertLunchPricing(ctx, r.lunchPricing) }},
		{TableCategoryTexts, len(r.categoryTexts) == 0, func() error { return s.InsertCategoryTexts(ctx, r.categoryTexts) }},
	}
	for _, st := range steps {
		if st.empty {
			continue
		}
		if err := st.fn(); err != nil {
			return &SyncError{Code: InsertFailedCode(st.table), Table: st.table, Err: err}
		}
	}
	return nil
}
