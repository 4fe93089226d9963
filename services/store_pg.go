package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"nollettan-menu/models"
)

// querier is the part of pgxpool.Pool and pgx.Tx the store uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PgStore is the Postgres RecordStore.
type PgStore struct {
	pool *pgxpool.Pool
	q    querier
	// mu serializes calls on a transaction-bound store; a pgx.Tx owns a
	// single connection and the engine issues deletes concurrently.
	mu *sync.Mutex
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, q: pool}
}

func (s *PgStore) lock() func() {
	if s.mu == nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// InTx runs fn inside one transaction.
func (s *PgStore) InTx(ctx context.Context, fn func(RecordStore) error) error {
	if s.pool == nil {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PgStore{q: tx, mu: &sync.Mutex{}})
	})
}

// isTxAborted reports whether err is Postgres refusing a statement because
// an earlier one in the same transaction failed.
func isTxAborted(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "25P02"
}

// Ping runs the cheap read used to keep an idle database awake.
func (s *PgStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	var id string
	err := s.pool.QueryRow(ctx, `SELECT id::text FROM menu_data LIMIT 1`).Scan(&id)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("keepalive query: %w", err)
	}
	return nil
}

func (s *PgStore) LatestRoot(ctx context.Context) (*RootRow, error) {
	defer s.lock()()
	var r RootRow
	err := s.q.QueryRow(ctx, `
		SELECT id::text, week, created_at, updated_at FROM menu_data
		ORDER BY created_at DESC
		LIMIT 1`,
	).Scan(&r.ID, &r.Week, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select menu_data: %w", err)
	}
	return &r, nil
}

func (s *PgStore) CreateRoot(ctx context.Context, id string, week int) error {
	defer s.lock()()
	_, err := s.q.Exec(ctx, `INSERT INTO menu_data (id, week) VALUES ($1, $2)`, id, week)
	if err != nil {
		return fmt.Errorf("insert menu_data: %w", err)
	}
	return nil
}

func (s *PgStore) UpdateRoot(ctx context.Context, id string, week int) error {
	defer s.lock()()
	tag, err := s.q.Exec(ctx, `UPDATE menu_data SET week = $1, updated_at = now() WHERE id = $2`, week, id)
	if err != nil {
		return fmt.Errorf("update menu_data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update menu_data: no row with id %s", id)
	}
	return nil
}

func (s *PgStore) WeeklyLunch(ctx context.Context, menuID string) ([]WeeklyLunchRow, error) {
	defer s.lock()()
	rows, err := s.q.Query(ctx, `
		SELECT day, meals, order_index FROM weekly_lunch
		WHERE menu_data_id = $1
		ORDER BY order_index`,
		menuID,
	)
	if err != nil {
		return nil, fmt.Errorf("select weekly_lunch: %w", err)
	}
	defer rows.Close()

	var out []WeeklyLunchRow
	for rows.Next() {
		r := WeeklyLunchRow{MenuID: menuID}
		var meals []byte
		if err := rows.Scan(&r.Day, &meals, &r.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan weekly_lunch: %w", err)
		}
		if err := json.Unmarshal(meals, &r.Meals); err != nil {
			return nil, fmt.Errorf("decode meals for %s: %w", r.Day, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgStore) MenuItems(ctx context.Context, menuID string) ([]MenuItemRow, error) {
	defer s.lock()()
	rows, err := s.q.Query(ctx, `
		SELECT category, label, name, COALESCE(description, ''), price, order_index FROM menu_items
		WHERE menu_data_id = $1
		ORDER BY category, order_index`,
		menuID,
	)
	if err != nil {
		return nil, fmt.Errorf("select menu_items: %w", err)
	}
	defer rows.Close()

	var out []MenuItemRow
	for rows.Next() {
		r := MenuItemRow{MenuID: menuID}
		var cat string
		if err := rows.Scan(&cat, &r.Label, &r.Name, &r.Description, &r.Price, &r.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan menu_items: %w", err)
		}
		r.Category = models.Catalog(cat)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgStore) LunchIncluded(ctx context.Context, menuID string) ([]LunchIncludedRow, error) {
	defer s.lock()()
	rows, err := s.q.Query(ctx, `
		SELECT name, icon, order_index FROM lunch_included
		WHERE menu_data_id = $1
		ORDER BY order_index`,
		menuID,
	)
	if err != nil {
		return nil, fmt.Errorf("select lunch_included: %w", err)
	}
	defer rows.Close()

	var out []LunchIncludedRow
	for rows.Next() {
		r := LunchIncludedRow{MenuID: menuID}
		if err := rows.Scan(&r.Name, &r.Icon, &r.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan lunch_included: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgStore) LunchPricing(ctx context.Context, menuID string) ([]LunchPricingRow, error) {
	defer s.lock()()
	rows, err := s.q.Query(ctx, `SELECT on_site, takeaway FROM lunch_pricing WHERE menu_data_id = $1`, menuID)
	if err != nil {
		return nil, fmt.Errorf("select lunch_pricing: %w", err)
	}
	defer rows.Close()

	var out []LunchPricingRow
	for rows.Next() {
		r := LunchPricingRow{MenuID: menuID}
		if err := rows.Scan(&r.OnSite, &r.Takeaway); err != nil {
			return nil, fmt.Errorf("scan lunch_pricing: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgStore) CategoryTexts(ctx context.Context, menuID string) ([]CategoryTextsRow, error) {
	defer s.lock()()
	rows, err := s.q.Query(ctx, `
		SELECT COALESCE(always_on_title, ''), COALESCE(always_on_description, ''),
			COALESCE(pinsa_pizza_title, ''), COALESCE(pinsa_pizza_description, ''),
			COALESCE(salads_title, ''), COALESCE(salads_description, ''),
			COALESCE(pasta_title, ''), COALESCE(pasta_description, '')
		FROM category_texts WHERE menu_data_id = $1`,
		menuID,
	)
	if err != nil {
		return nil, fmt.Errorf("select category_texts: %w", err)
	}
	defer rows.Close()

	var out []CategoryTextsRow
	for rows.Next() {
		r := CategoryTextsRow{MenuID: menuID}
		t := &r.CategoryTexts
		if err := rows.Scan(&t.AlwaysOnTitle, &t.AlwaysOnDescription, &t.PinsaPizzaTitle, &t.PinsaPizzaDescription,
			&t.SaladsTitle, &t.SaladsDescription, &t.PastaTitle, &t.PastaDescription); err != nil {
			return nil, fmt.Errorf("scan category_texts: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgStore) DeleteChildren(ctx context.Context, table Table, menuID string) error {
	switch table {
	case TableWeeklyLunch, TableMenuItems, TableLunchIncluded, TableLunchPricing, TableCategoryTexts:
	default:
		return fmt.Errorf("delete: %s is not a child table", table)
	}
	defer s.lock()()
	// table is one of the constants above, never user input
	if _, err := s.q.Exec(ctx, `DELETE FROM `+string(table)+` WHERE menu_data_id = $1`, menuID); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

func (s *PgStore) sendBatch(ctx context.Context, table Table, b *pgx.Batch) error {
	defer s.lock()()
	if err := s.q.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (s *PgStore) InsertWeeklyLunch(ctx context.Context, rows []WeeklyLunchRow) error {
	b := &pgx.Batch{}
	for _, r := range rows {
		meals, err := json.Marshal(r.Meals)
		if err != nil {
			return fmt.Errorf("encode meals for %s: %w", r.Day, err)
		}
		b.Queue(`INSERT INTO weekly_lunch (menu_data_id, day, meals, order_index) VALUES ($1, $2, $3, $4)`,
			r.MenuID, r.Day, meals, r.OrderIndex)
	}
	return s.sendBatch(ctx, TableWeeklyLunch, b)
}

func (s *PgStore) InsertMenuItems(ctx context.Context, rows []MenuItemRow) error {
	b := &pgx.Batch{}
	for _, r := range rows {
		b.Queue(`
			INSERT INTO menu_items (menu_data_id, category, label, name, description, price, order_index)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.MenuID, string(r.Category), r.Label, r.Name, r.Description, r.Price, r.OrderIndex)
	}
	return s.sendBatch(ctx, TableMenuItems, b)
}

func (s *PgStore) InsertLunchIncluded(ctx context.Context, rows []LunchIncludedRow) error {
	b := &pgx.Batch{}
	for _, r := range rows {
		b.Queue(`INSERT INTO lunch_included (menu_data_id, name, icon, order_index) VALUES ($1, $2, $3, $4)`,
			r.MenuID, r.Name, r.Icon, r.OrderIndex)
	}
	return s.sendBatch(ctx, TableLunchIncluded, b)
}

func (s *PgStore) InsertLunchPricing(ctx context.Context, rows []LunchPricingRow) error {
	b := &pgx.Batch{}
	for _, r := range rows {
		b.Queue(`INSERT INTO lunch_pricing (menu_data_id, on_site, takeaway) VALUES ($1, $2, $3)`,
			r.MenuID, r.OnSite, r.Takeaway)
	}
	return s.sendBatch(ctx, TableLunchPricing, b)
}

func (s *PgStore) InsertCategoryTexts(ctx context.Context, rows []CategoryTextsRow) error {
	b := &pgx.Batch{}
	for _, r := range rows {
		t := r.CategoryTexts
		b.Queue(`
			INSERT INTO category_texts (
				menu_data_id, always_on_title, always_on_description, pinsa_pizza_title, pinsa_pizza_description,
				salads_title, salads_description, pasta_title, pasta_description
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			r.MenuID, t.AlwaysOnTitle, t.AlwaysOnDescription, t.PinsaPizzaTitle, t.PinsaPizzaDescription,
			t.SaladsTitle, t.SaladsDescription, t.PastaTitle, t.PastaDescription)
	}
	return s.sendBatch(ctx, TableCategoryTexts, b)
}
