// Package memstore is an in-memory menu store. It implements the record
// store, transactions, accounts and the change feed, and backs tests and
// the MENU_STORE=memory mode.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"nollettan-menu/services"
)

var ErrNotFound = errors.New("not found")

var (
	_ services.RecordStore    = (*Store)(nil)
	_ services.Transactional  = (*Store)(nil)
	_ services.AccountService = (*Store)(nil)
	_ services.ChangeFeed     = (*Store)(nil)
	_ services.Announcer      = (*Store)(nil)
)

type user struct {
	id    string
	email string
	hash  string
}

type throttle struct {
	fails int
	until time.Time
}

type tables struct {
	roots    []services.RootRow
	weekly   map[string][]services.WeeklyLunchRow
	items    map[string][]services.MenuItemRow
	included map[string][]services.LunchIncludedRow
	pricing  map[string][]services.LunchPricingRow
	texts    map[string][]services.CategoryTextsRow
}

func newTables() tables {
	return tables{
		weekly:   make(map[string][]services.WeeklyLunchRow),
		items:    make(map[string][]services.MenuItemRow),
		included: make(map[string][]services.LunchIncludedRow),
		pricing:  make(map[string][]services.LunchPricingRow),
		texts:    make(map[string][]services.CategoryTextsRow),
	}
}

func (t tables) clone() tables {
	c := newTables()
	c.roots = append([]services.RootRow(nil), t.roots...)
	for k, v := range t.weekly {
		c.weekly[k] = append([]services.WeeklyLunchRow(nil), v...)
	}
	for k, v := range t.items {
		c.items[k] = append([]services.MenuItemRow(nil), v...)
	}
	for k, v := range t.included {
		c.included[k] = append([]services.LunchIncludedRow(nil), v...)
	}
	for k, v := range t.pricing {
		c.pricing[k] = append([]services.LunchPricingRow(nil), v...)
	}
	for k, v := range t.texts {
		c.texts[k] = append([]services.CategoryTextsRow(nil), v...)
	}
	return c
}

// Store keeps every table in memory. The zero value is not usable; call New.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	now  func() time.Time

	data tables
	// pending collects change events while a transaction runs.
	pending []services.ChangeEvent
	inTx    bool

	users     map[string]*user // by email
	roles     map[string]map[string]bool
	sessions  map[string]services.Session
	throttles map[string]*throttle

	subs    map[int]*subscription
	nextSub int
}

func New() *Store {
	return &Store{
		now:       time.Now,
		data:      newTables(),
		users:     make(map[string]*user),
		roles:     make(map[string]map[string]bool),
		sessions:  make(map[string]services.Session),
		throttles: make(map[string]*throttle),
		subs:      make(map[int]*subscription),
	}
}

// SetClock replaces the time source used for sessions and root timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) hasRoot(id string) bool {
	for _, r := range s.data.roots {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (s *Store) LatestRoot(ctx context.Context) (*services.RootRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data.roots) == 0 {
		return nil, nil
	}
	r := s.data.roots[len(s.data.roots)-1]
	return &r, nil
}

func (s *Store) CreateRoot(ctx context.Context, id string, week int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasRoot(id) {
		return fmt.Errorf("menu_data %s already exists", id)
	}
	now := s.now()
	s.data.roots = append(s.data.roots, services.RootRow{ID: id, Week: week, CreatedAt: now, UpdatedAt: now})
	s.publishLocked(services.ChangeEvent{Table: services.TableMenuData, MenuID: id, Op: "INSERT"})
	return nil
}

func (s *Store) UpdateRoot(ctx context.Context, id string, week int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data.roots {
		if s.data.roots[i].ID == id {
			s.data.roots[i].Week = week
			s.data.roots[i].UpdatedAt = s.now()
			s.publishLocked(services.ChangeEvent{Table: services.TableMenuData, MenuID: id, Op: "UPDATE"})
			return nil
		}
	}
	return fmt.Errorf("menu_data %s: %w", id, ErrNotFound)
}

func (s *Store) WeeklyLunch(ctx context.Context, menuID string) ([]services.WeeklyLunchRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]services.WeeklyLunchRow(nil), s.data.weekly[menuID]...), nil
}

func (s *Store) MenuItems(ctx context.Context, menuID string) ([]services.MenuItemRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]services.MenuItemRow(nil), s.data.items[menuID]...), nil
}

func (s *Store) LunchIncluded(ctx context.Context, menuID string) ([]services.LunchIncludedRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]services.LunchIncludedRow(nil), s.data.included[menuID]...), nil
}

func (s *Store) LunchPricing(ctx context.Context, menuID string) ([]services.LunchPricingRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]services.LunchPricingRow(nil), s.data.pricing[menuID]...), nil
}

func (s *Store) CategoryTexts(ctx context.Context, menuID string) ([]services.CategoryTextsRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]services.CategoryTextsRow(nil), s.data.texts[menuID]...), nil
}

func (s *Store) DeleteChildren(ctx context.Context, table services.Table, menuID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch table {
	case services.TableWeeklyLunch:
		delete(s.data.weekly, menuID)
	case services.TableMenuItems:
		delete(s.data.items, menuID)
	case services.TableLunchIncluded:
		delete(s.data.included, menuID)
	case services.TableLunchPricing:
		delete(s.data.pricing, menuID)
	case services.TableCategoryTexts:
		delete(s.data.texts, menuID)
	default:
		return fmt.Errorf("delete from %s: not a child table", table)
	}
	s.publishLocked(services.ChangeEvent{Table: table, MenuID: menuID, Op: "DELETE"})
	return nil
}

// checkInsert enforces the foreign key to menu_data.
func (s *Store) checkInsert(table services.Table, menuIDs ...string) error {
	for _, id := range menuIDs {
		if !s.hasRoot(id) {
			return fmt.Errorf("insert into %s: menu_data %s: %w", table, id, ErrNotFound)
		}
	}
	return nil
}

func (s *Store) InsertWeeklyLunch(ctx context.Context, rows []services.WeeklyLunchRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if err := s.checkInsert(services.TableWeeklyLunch, r.MenuID); err != nil {
			return err
		}
	}
	for _, r := range rows {
		s.data.weekly[r.MenuID] = append(s.data.weekly[r.MenuID], r)
		s.publishLocked(services.ChangeEvent{Table: services.TableWeeklyLunch, MenuID: r.MenuID, Op: "INSERT"})
	}
	return nil
}

func (s *Store) InsertMenuItems(ctx context.Context, rows []services.MenuItemRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if err := s.checkInsert(services.TableMenuItems, r.MenuID); err != nil {
			return err
		}
		if r.Price < 0 {
			return fmt.Errorf("insert into menu_items: negative price %d for %q", r.Price, r.Name)
		}
	}
	for _, r := range rows {
		s.data.items[r.MenuID] = append(s.data.items[r.MenuID], r)
		s.publishLocked(services.ChangeEvent{Table: services.TableMenuItems, MenuID: r.MenuID, Op: "INSERT"})
	}
	return nil
}

func (s *Store) InsertLunchIncluded(ctx context.Context, rows []services.LunchIncludedRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if err := s.checkInsert(services.TableLunchIncluded, r.MenuID); err != nil {
			return err
		}
	}
	for _, r := range rows {
		s.data.included[r.MenuID] = append(s.data.included[r.MenuID], r)
		s.publishLocked(services.ChangeEvent{Table: services.TableLunchIncluded, MenuID: r.MenuID, Op: "INSERT"})
	}
	return nil
}

func (s *Store) InsertLunchPricing(ctx context.Context, rows []services.LunchPricingRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if err := s.checkInsert(services.TableLunchPricing, r.MenuID); err != nil {
			return err
		}
		if len(s.data.pricing[r.MenuID]) > 0 {
			return fmt.Errorf("insert into lunch_pricing: duplicate row for menu_data %s", r.MenuID)
		}
	}
	for _, r := range rows {
		s.data.pricing[r.MenuID] = append(s.data.pricing[r.MenuID], r)
		s.publishLocked(services.ChangeEvent{Table: services.TableLunchPricing, MenuID: r.MenuID, Op: "INSERT"})
	}
	return nil
}

func (s *Store) InsertCategoryTexts(ctx context.Context, rows []services.CategoryTextsRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if err := s.checkInsert(services.TableCategoryTexts, r.MenuID); err != nil {
			return err
		}
	}
	for _, r := range rows {
		s.data.texts[r.MenuID] = append(s.data.texts[r.MenuID], r)
		s.publishLocked(services.ChangeEvent{Table: services.TableCategoryTexts, MenuID: r.MenuID, Op: "INSERT"})
	}
	return nil
}

// InTx runs fn with all writes applied atomically: on error every table is
// restored and no change events are delivered. Transactions are serialized.
func (s *Store) InTx(ctx context.Context, fn func(services.RecordStore) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	saved := s.data.clone()
	s.inTx = true
	s.pending = nil
	s.mu.Unlock()

	err := fn(s)
	if err == nil {
		err = ctx.Err()
	}

	s.mu.Lock()
	s.inTx = false
	pending := s.pending
	s.pending = nil
	if err != nil {
		s.data = saved
		s.mu.Unlock()
		return err
	}
	for _, ev := range pending {
		s.deliverLocked(ev)
	}
	s.mu.Unlock()
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Roots returns the number of root records.
func (s *Store) Roots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.roots)
}

// Rows returns how many rows table holds for menuID.
func (s *Store) Rows(table services.Table, menuID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch table {
	case services.TableMenuData:
		return len(s.data.roots)
	case services.TableWeeklyLunch:
		return len(s.data.weekly[menuID])
	case services.TableMenuItems:
		return len(s.data.items[menuID])
	case services.TableLunchIncluded:
		return len(s.data.included[menuID])
	case services.TableLunchPricing:
		return len(s.data.pricing[menuID])
	case services.TableCategoryTexts:
		return len(s.data.texts[menuID])
	}
	return 0
}

// Auth.

// CreateUser adds a user with a bcrypt-hashed password and returns its id.
func (s *Store) CreateUser(email, password string) (string, error) {
	hash, err := services.HashPassword(password)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email = normalizeEmail(email)
	if u, ok := s.users[email]; ok {
		u.hash = hash
		return u.id, nil
	}
	u := &user{id: uuid.NewString(), email: email, hash: hash}
	s.users[email] = u
	return u.id, nil
}

func (s *Store) GrantRole(userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roles[userID] == nil {
		s.roles[userID] = make(map[string]bool)
	}
	s.roles[userID][role] = true
}

// IssueSession opens a session for userID without a password check.
func (s *Store) IssueSession(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(userID).Token
}

func (s *Store) issueLocked(userID string) services.Session {
	sess := services.Session{Token: uuid.NewString(), UserID: userID, ExpiresAt: s.now().Add(services.SessionTTL)}
	s.sessions[sess.Token] = sess
	return sess
}

func (s *Store) Session(ctx context.Context, token string) (*services.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok || !s.now().Before(sess.ExpiresAt) {
		return nil, nil
	}
	return &sess, nil
}

func (s *Store) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles[userID][role], nil
}

func (s *Store) SignIn(ctx context.Context, email, password string) (*services.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	th := s.throttles[email]
	if th != nil && now.Before(th.until) {
		return nil, &services.ThrottledError{Wait: th.until.Sub(now)}
	}
	u, ok := s.users[email]
	if !ok || bcrypt.CompareHashAndPassword([]byte(u.hash), []byte(password)) != nil {
		if th == nil {
			th = &throttle{}
			s.throttles[email] = th
		}
		th.fails++
		th.until = now.Add(time.Duration(services.CooldownSecondsForFailCount(th.fails)) * time.Second)
		return nil, services.ErrBadCredentials
	}
	delete(s.throttles, email)
	sess := s.issueLocked(u.id)
	return &sess, nil
}

func (s *Store) SignOut(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *Store) CreateAdmin(ctx context.Context, email, password string) (string, error) {
	id, err := s.CreateUser(email, password)
	if err != nil {
		return "", err
	}
	s.GrantRole(id, services.RoleAdmin)
	return id, nil
}
