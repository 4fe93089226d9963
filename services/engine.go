package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"nollettan-menu/models"
)

const (
	DefaultSaveTimeout = 20 * time.Second
	DefaultEchoWindow  = 3 * time.Second
	DefaultDebounce    = 500 * time.Millisecond
	DefaultCacheKey    = "nollettan-menu"

	CodeCommitFailed = "COMMIT_FAILED"
)

// Options wires an Engine. Store is required; Auth is required for saves.
type Options struct {
	Store     RecordStore
	Auth      Authenticator
	Feed      ChangeFeed
	Announcer Announcer
	Cache     SnapshotCache
	CacheKey  string
	Notifier  Notifier
	Metrics   *Metrics
	Breaker   *gobreaker.CircuitBreaker
	Logger    zerolog.Logger

	SaveTimeout time.Duration
	Retry       RetryPolicy
	EchoWindow  time.Duration
	Debounce    time.Duration

	Now   func() time.Time
	NewID func() string
}

// Engine owns the in-memory menu and keeps it in step with the record store.
// Edits stay local until Save; remote changes replace local state on reload.
type Engine struct {
	opts Options
	log  zerolog.Logger

	mu          sync.Mutex
	snap        models.MenuSnapshot
	menuID      string
	loaded      bool
	saving      int
	lastSavedAt time.Time
	listeners   map[int]func(models.MenuSnapshot)
	nextID      int

	stop context.CancelFunc
	done chan struct{}
}

// NewEngine creates an engine holding the built-in defaults until the first load.
func NewEngine(opts Options) *Engine {
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = DefaultSaveTimeout
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.EchoWindow <= 0 {
		opts.EchoWindow = DefaultEchoWindow
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.CacheKey == "" {
		opts.CacheKey = DefaultCacheKey
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Log: opts.Logger}
	}
	return &Engine{
		opts:      opts,
		log:       opts.Logger.With().Str("component", "menu_sync").Logger(),
		snap:      models.Defaults(),
		listeners: make(map[int]func(models.MenuSnapshot)),
	}
}

// Load fetches the menu from the store and replaces local state. On failure
// the current state is kept and an error notice is sent.
func (e *Engine) Load(ctx context.Context) error {
	snap, err := e.fetchGuarded(ctx)
	e.opts.Metrics.observeLoad(err)
	if err != nil {
		e.log.Warn().Err(err).Msg("load menu")
		e.opts.Notifier.Notify(ctx, Notice{
			Level:   NoticeError,
			Title:   "Kunde inte hämta menyn",
			Message: err.Error(),
			Code:    ErrorCode(err),
		})
		e.seedFromCache(ctx)
		return err
	}

	e.mu.Lock()
	e.snap = snap.Clone()
	e.menuID = snap.ID
	e.loaded = true
	e.mu.Unlock()

	e.log.Info().Str("menu_id", snap.ID).Int("week", snap.Week).Msg("menu loaded")
	e.writeCache(ctx, snap)
	e.emit(snap)
	return nil
}

func (e *Engine) fetchGuarded(ctx context.Context) (models.MenuSnapshot, error) {
	if e.opts.Breaker == nil {
		return e.fetch(ctx)
	}
	v, err := e.opts.Breaker.Execute(func() (interface{}, error) {
		return e.fetch(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return models.MenuSnapshot{}, syncErr(CodeStoreUnavailable, err)
	}
	if err != nil {
		return models.MenuSnapshot{}, err
	}
	return v.(models.MenuSnapshot), nil
}

func (e *Engine) fetch(ctx context.Context) (models.MenuSnapshot, error) {
	root, err := e.opts.Store.LatestRoot(ctx)
	if err != nil {
		return models.MenuSnapshot{}, syncErr(CodeLoadFailed, err)
	}
	if root == nil {
		if _, err := e.Bootstrap(ctx); err != nil {
			return models.MenuSnapshot{}, err
		}
		root, err = e.opts.Store.LatestRoot(ctx)
		if err != nil {
			return models.MenuSnapshot{}, syncErr(CodeLoadFailed, err)
		}
		if root == nil {
			return models.MenuSnapshot{}, syncErr(CodeLoadFailed, errors.New("no menu after bootstrap"))
		}
	}
	return e.fetchChildren(ctx, *root)
}

func (e *Engine) fetchChildren(ctx context.Context, root RootRow) (models.MenuSnapshot, error) {
	var (
		weekly   []WeeklyLunchRow
		items    []MenuItemRow
		included []LunchIncludedRow
		pricing  []LunchPricingRow
		texts    []CategoryTextsRow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { weekly, err = e.opts.Store.WeeklyLunch(gctx, root.ID); return })
	g.Go(func() (err error) { items, err = e.opts.Store.MenuItems(gctx, root.ID); return })
	g.Go(func() (err error) { included, err = e.opts.Store.LunchIncluded(gctx, root.ID); return })
	g.Go(func() (err error) { pricing, err = e.opts.Store.LunchPricing(gctx, root.ID); return })
	g.Go(func() (err error) { texts, err = e.opts.Store.CategoryTexts(gctx, root.ID); return })
	if err := g.Wait(); err != nil {
		return models.MenuSnapshot{}, syncErr(CodeLoadFailed, err)
	}

	snap, fallbacks := assembleSnapshot(root, weekly, items, included, pricing, texts)
	for _, entity := range fallbacks {
		e.opts.Metrics.observeFallback(entity)
		e.log.Debug().Str("menu_id", root.ID).Str("entity", entity).Msg("no rows, using defaults")
	}
	return snap, nil
}

// assembleSnapshot builds a menu from store rows. Each table without rows
// falls back to its built-in default on its own; the names of those
// tables are returned. menu_items counts as one table, so a single empty
// catalog stays empty.
func assembleSnapshot(root RootRow, weekly []WeeklyLunchRow, items []MenuItemRow, included []LunchIncludedRow,
	pricing []LunchPricingRow, texts []CategoryTextsRow) (models.MenuSnapshot, []string) {
	defaults := models.Defaults()
	snap := models.MenuSnapshot{ID: root.ID, Week: root.Week}
	var fallbacks []string

	if len(weekly) == 0 {
		snap.WeeklyLunch = defaults.WeeklyLunch
		fallbacks = append(fallbacks, string(TableWeeklyLunch))
	} else {
		sort.SliceStable(weekly, func(i, j int) bool { return weekly[i].OrderIndex < weekly[j].OrderIndex })
		for _, r := range weekly {
			meals := r.Meals
			if meals == nil {
				meals = []models.WeeklyMeal{}
			}
			snap.WeeklyLunch = append(snap.WeeklyLunch, models.DayMenu{Day: r.Day, Meals: meals})
		}
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].OrderIndex < items[j].OrderIndex })
	byCatalog := make(map[models.Catalog][]models.MenuItem)
	for _, r := range items {
		label := r.Label
		if label == "" {
			label = r.Category.Label()
		}
		byCatalog[r.Category] = append(byCatalog[r.Category], models.MenuItem{
			Name:        r.Name,
			Description: r.Description,
			Price:       r.Price,
			Category:    label,
		})
	}
	if len(items) == 0 {
		fallbacks = append(fallbacks, string(TableMenuItems))
	}
	for _, c := range models.Catalogs {
		switch list, ok := byCatalog[c]; {
		case len(items) == 0:
			snap.SetItems(c, defaults.Items(c))
		case ok:
			snap.SetItems(c, list)
		default:
			// emptied by an admin; menu_items as a whole has rows
			snap.SetItems(c, []models.MenuItem{})
		}
	}

	if len(included) == 0 {
		snap.LunchIncluded = defaults.LunchIncluded
		fallbacks = append(fallbacks, string(TableLunchIncluded))
	} else {
		sort.SliceStable(included, func(i, j int) bool { return included[i].OrderIndex < included[j].OrderIndex })
		for _, r := range included {
			snap.LunchIncluded = append(snap.LunchIncluded, models.LunchIncludedItem{Name: r.Name, Icon: r.Icon})
		}
	}

	if len(pricing) == 0 {
		snap.LunchPricing = defaults.LunchPricing
		fallbacks = append(fallbacks, string(TableLunchPricing))
	} else {
		snap.LunchPricing = models.LunchPricing{OnSite: pricing[0].OnSite, Takeaway: pricing[0].Takeaway}
	}

	if len(texts) == 0 {
		snap.CategoryTexts = defaults.CategoryTexts
		fallbacks = append(fallbacks, string(TableCategoryTexts))
	} else {
		snap.CategoryTexts = texts[0].CategoryTexts
	}
	return snap, fallbacks
}

// Bootstrap creates a root record and every child table from the built-in
// defaults under a fresh id.
func (e *Engine) Bootstrap(ctx context.Context) (string, error) {
	id := e.opts.NewID()
	defaults := models.Defaults()
	err := e.write(ctx, func(s RecordStore) error {
		if err := s.CreateRoot(ctx, id, defaults.Week); err != nil {
			return syncErr(CodeLoadFailed, fmt.Errorf("bootstrap menu_data: %w", err))
		}
		return toRows(id, defaults).insertAll(ctx, s)
	})
	if err != nil {
		return "", err
	}
	e.log.Info().Str("menu_id", id).Msg("bootstrapped menu from defaults")
	return id, nil
}

// EnsureRoot bootstraps the store if it holds no menu yet. created reports
// whether a new root was made.
func (e *Engine) EnsureRoot(ctx context.Context) (id string, created bool, err error) {
	root, err := e.opts.Store.LatestRoot(ctx)
	if err != nil {
		return "", false, syncErr(CodeLoadFailed, err)
	}
	if root != nil {
		return root.ID, false, nil
	}
	id, err = e.Bootstrap(ctx)
	return id, err == nil, err
}

// write runs fn in a transaction when the store supports one.
func (e *Engine) write(ctx context.Context, fn func(RecordStore) error) error {
	tx, ok := e.opts.Store.(Transactional)
	if !ok {
		return fn(e.opts.Store)
	}
	err := tx.InTx(ctx, fn)
	if err != nil && ErrorCode(err) == "" {
		return syncErr(CodeCommitFailed, err)
	}
	return err
}

type saveResult struct {
	snap models.MenuSnapshot
	err  error
}

// Save persists snap as the authoritative menu on behalf of the session
// identified by token. The sequence races SaveTimeout; on expiry TIMEOUT is
// returned while the work is cancelled in the background.
func (e *Engine) Save(ctx context.Context, token string, snap models.MenuSnapshot) (models.MenuSnapshot, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.opts.SaveTimeout)
	defer cancel()

	e.mu.Lock()
	e.saving++
	e.mu.Unlock()

	done := make(chan saveResult, 1)
	go func() {
		saved, err := e.save(ctx, token, snap)
		e.mu.Lock()
		e.saving--
		if err == nil {
			e.lastSavedAt = e.opts.Now()
		}
		e.mu.Unlock()
		done <- saveResult{saved, err}
	}()

	var res saveResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.err = syncErr(CodeTimeout, fmt.Errorf("save did not finish within %s", e.opts.SaveTimeout))
	}
	e.opts.Metrics.observeSave(res.err, time.Since(start).Seconds())
	if res.err != nil {
		e.log.Warn().Err(res.err).Str("code", ErrorCode(res.err)).Msg("save menu")
		return models.MenuSnapshot{}, res.err
	}

	e.mu.Lock()
	e.snap = res.snap.Clone()
	e.menuID = res.snap.ID
	e.loaded = true
	e.mu.Unlock()

	e.log.Info().Str("menu_id", res.snap.ID).Int("week", res.snap.Week).Msg("menu saved")
	e.writeCache(ctx, res.snap)
	e.emit(res.snap)
	if e.opts.Announcer != nil {
		ev := ChangeEvent{Table: TableMenuData, MenuID: res.snap.ID, Op: "UPDATE"}
		if err := e.opts.Announcer.Announce(ctx, ev); err != nil {
			e.log.Warn().Err(err).Msg("announce save")
		}
	}
	return res.snap, nil
}

func (e *Engine) save(ctx context.Context, token string, snap models.MenuSnapshot) (models.MenuSnapshot, error) {
	if e.opts.Auth == nil {
		return snap, syncErr(CodePermissionCheckFailed, errors.New("no authenticator configured"))
	}
	sess, err := e.opts.Auth.Session(ctx, token)
	if err != nil {
		return snap, syncErr(CodeSessionExpired, err)
	}
	if sess == nil {
		return snap, syncErr(CodeSessionExpired, errors.New("no active session"))
	}
	isAdmin, err := e.opts.Auth.HasRole(ctx, sess.UserID, RoleAdmin)
	if err != nil {
		return snap, syncErr(CodePermissionCheckFailed, err)
	}
	if !isAdmin {
		return snap, syncErr(CodeNotAdmin, fmt.Errorf("user %s is not an admin", sess.UserID))
	}
	if err := snap.Validate(); err != nil {
		return snap, syncErr(CodeInvalidSnapshot, err)
	}

	menuID, create, err := e.targetRoot(ctx, snap)
	if err != nil {
		return snap, err
	}
	snap = snap.Clone()
	snap.ID = menuID
	rows := toRows(menuID, snap)

	err = e.write(ctx, func(s RecordStore) error {
		if create {
			if err := s.CreateRoot(ctx, menuID, snap.Week); err != nil {
				return syncErr(CodeUpdateFailed, err)
			}
		} else if err := s.UpdateRoot(ctx, menuID, snap.Week); err != nil {
			return syncErr(CodeUpdateFailed, err)
		}
		if err := deleteChildren(ctx, s, menuID); err != nil {
			return err
		}
		return rows.insertAll(ctx, s)
	})
	if err != nil {
		return snap, err
	}
	return snap, nil
}

// targetRoot picks the root record a save writes to: the loaded one, the
// snapshot's own id, the latest in the store, or a new one.
func (e *Engine) targetRoot(ctx context.Context, snap models.MenuSnapshot) (id string, create bool, err error) {
	if id := e.MenuID(); id != "" {
		return id, false, nil
	}
	if snap.ID != "" {
		return snap.ID, false, nil
	}
	root, err := e.opts.Store.LatestRoot(ctx)
	if err != nil {
		return "", false, syncErr(CodeLoadFailed, err)
	}
	if root != nil {
		return root.ID, false, nil
	}
	return e.opts.NewID(), true, nil
}

// deleteChildren clears the five child tables concurrently and waits for
// all of them. Inside a Postgres transaction the first failure aborts the
// rest, so the reported error is the first one that is not an abort.
func deleteChildren(ctx context.Context, s RecordStore, menuID string) error {
	var g errgroup.Group
	errs := make([]error, len(ChildTables))
	for i, t := range ChildTables {
		i, t := i, t
		g.Go(func() error {
			if err := s.DeleteChildren(ctx, t, menuID); err != nil {
				errs[i] = &SyncError{Code: CodeDeleteFailed, Table: t, Err: err}
				return errs[i]
			}
			return nil
		})
	}
	if g.Wait() == nil {
		return nil
	}
	var first error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if !isTxAborted(err) {
			return err
		}
		if first == nil {
			first = err
		}
	}
	return first
}

// SaveWithRetry saves snap, repeating the whole save per the retry policy,
// and reports progress through the notifier.
func (e *Engine) SaveWithRetry(ctx context.Context, token string, snap models.MenuSnapshot) error {
	e.opts.Notifier.Notify(ctx, Notice{Level: NoticeInfo, Title: "Sparar menyn..."})
	err := e.opts.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		_, err := e.Save(ctx, token, snap)
		return err
	}, func(attempt int, err error, wait time.Duration) {
		e.log.Info().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying save")
		e.opts.Notifier.Notify(ctx, Notice{
			Level:   NoticeInfo,
			Title:   fmt.Sprintf("Försöker igen (%d/%d)", attempt+1, e.opts.Retry.Attempts),
			Message: err.Error(),
			Code:    ErrorCode(err),
		})
	})
	if err != nil {
		e.opts.Notifier.Notify(ctx, Notice{
			Level:   NoticeError,
			Title:   "Kunde inte spara menyn",
			Message: err.Error(),
			Code:    ErrorCode(err),
		})
		return err
	}
	e.opts.Notifier.Notify(ctx, Notice{Level: NoticeSuccess, Title: "Menyn sparad"})
	return nil
}

// SaveCurrent saves the local in-memory menu.
func (e *Engine) SaveCurrent(ctx context.Context, token string) error {
	return e.SaveWithRetry(ctx, token, e.Snapshot())
}

func (e *Engine) seedFromCache(ctx context.Context) {
	e.mu.Lock()
	loaded := e.loaded
	e.mu.Unlock()
	if loaded || e.opts.Cache == nil {
		return
	}
	m, ok, err := e.opts.Cache.Get(ctx, e.opts.CacheKey)
	if err != nil {
		e.log.Warn().Err(err).Msg("read local cache")
	}
	if !ok {
		return
	}
	e.mu.Lock()
	if e.loaded {
		e.mu.Unlock()
		return
	}
	e.snap = m.Clone()
	e.menuID = m.ID
	e.mu.Unlock()
	e.log.Info().Str("menu_id", m.ID).Msg("using cached menu")
	e.emit(m)
}

func (e *Engine) writeCache(ctx context.Context, m models.MenuSnapshot) {
	if e.opts.Cache == nil {
		return
	}
	if err := e.opts.Cache.Put(ctx, e.opts.CacheKey, m); err != nil {
		e.log.Warn().Err(err).Msg("write local cache")
	}
}

// suppressReload reports whether a change notification at now is probably
// the echo of our own save.
func (e *Engine) suppressReload(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.saving > 0 {
		return true
	}
	return !e.lastSavedAt.IsZero() && now.Sub(e.lastSavedAt) <= e.opts.EchoWindow
}
