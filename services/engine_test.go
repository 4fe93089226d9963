package services_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nollettan-menu/memstore"
	"nollettan-menu/models"
	"nollettan-menu/services"
)

// faultyStore wraps the in-memory store with injectable failures.
type faultyStore struct {
	*memstore.Store

	latestCalls   atomic.Int32
	menuItemCalls atomic.Int32
	latestErr     error
	menuItemsErr  error
	weeklyDelay   time.Duration
}

func (f *faultyStore) InTx(ctx context.Context, fn func(services.RecordStore) error) error {
	return f.Store.InTx(ctx, func(services.RecordStore) error { return fn(f) })
}

func (f *faultyStore) LatestRoot(ctx context.Context) (*services.RootRow, error) {
	f.latestCalls.Add(1)
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	return f.Store.LatestRoot(ctx)
}

func (f *faultyStore) InsertMenuItems(ctx context.Context, rows []services.MenuItemRow) error {
	f.menuItemCalls.Add(1)
	if f.menuItemsErr != nil {
		return f.menuItemsErr
	}
	return f.Store.InsertMenuItems(ctx, rows)
}

func (f *faultyStore) InsertWeeklyLunch(ctx context.Context, rows []services.WeeklyLunchRow) error {
	if f.weeklyDelay > 0 {
		select {
		case <-time.After(f.weeklyDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.Store.InsertWeeklyLunch(ctx, rows)
}

// plainStore hides InTx so saves run step by step without a transaction.
type plainStore struct {
	services.RecordStore

	failDelete services.Table
	inserts    atomic.Int32
}

func (p *plainStore) DeleteChildren(ctx context.Context, table services.Table, menuID string) error {
	if table == p.failDelete {
		return errors.New("permission denied for table " + string(table))
	}
	return p.RecordStore.DeleteChildren(ctx, table, menuID)
}

func (p *plainStore) InsertWeeklyLunch(ctx context.Context, rows []services.WeeklyLunchRow) error {
	p.inserts.Add(1)
	return p.RecordStore.InsertWeeklyLunch(ctx, rows)
}

func (p *plainStore) InsertMenuItems(ctx context.Context, rows []services.MenuItemRow) error {
	p.inserts.Add(1)
	return p.RecordStore.InsertMenuItems(ctx, rows)
}

func (p *plainStore) InsertLunchIncluded(ctx context.Context, rows []services.LunchIncludedRow) error {
	p.inserts.Add(1)
	return p.RecordStore.InsertLunchIncluded(ctx, rows)
}

func (p *plainStore) InsertLunchPricing(ctx context.Context, rows []services.LunchPricingRow) error {
	p.inserts.Add(1)
	return p.RecordStore.InsertLunchPricing(ctx, rows)
}

func (p *plainStore) InsertCategoryTexts(ctx context.Context, rows []services.CategoryTextsRow) error {
	p.inserts.Add(1)
	return p.RecordStore.InsertCategoryTexts(ctx, rows)
}

// brokenRoles resolves sessions but cannot read role grants.
type brokenRoles struct {
	services.Authenticator
}

func (brokenRoles) HasRole(context.Context, string, string) (bool, error) {
	return false, errors.New("relation \"user_roles\" does not exist")
}

// gateCache holds the first Put until released.
type gateCache struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	salad   string
}

func (c *gateCache) Put(_ context.Context, _ string, m models.MenuSnapshot) error {
	c.once.Do(func() {
		close(c.entered)
		<-c.release
		c.salad = m.Salads[0].Name
	})
	return nil
}

func (c *gateCache) Get(context.Context, string) (models.MenuSnapshot, bool, error) {
	return models.MenuSnapshot{}, false, nil
}

type noticeLog struct {
	mu      sync.Mutex
	notices []services.Notice
}

func (l *noticeLog) Notify(_ context.Context, n services.Notice) {
	l.mu.Lock()
	l.notices = append(l.notices, n)
	l.mu.Unlock()
}

func (l *noticeLog) last() services.Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.notices) == 0 {
		return services.Notice{}
	}
	return l.notices[len(l.notices)-1]
}

type mapCache struct {
	mu sync.Mutex
	m  map[string]models.MenuSnapshot
}

func (c *mapCache) Put(_ context.Context, key string, m models.MenuSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]models.MenuSnapshot)
	}
	c.m[key] = m.Clone()
	return nil
}

func (c *mapCache) Get(_ context.Context, key string) (models.MenuSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.m[key]
	return m.Clone(), ok, nil
}

func newEngine(store services.RecordStore, auth services.Authenticator, mod func(*services.Options)) *services.Engine {
	opts := services.Options{
		Store:  store,
		Auth:   auth,
		Logger: zerolog.Nop(),
		Retry: services.RetryPolicy{
			Attempts:  3,
			Step:      time.Millisecond,
			Retryable: services.Retryable,
		},
		Notifier: services.NotifierFunc(func(context.Context, services.Notice) {}),
	}
	if mod != nil {
		mod(&opts)
	}
	return services.NewEngine(opts)
}

func adminToken(t *testing.T, s *memstore.Store) string {
	t.Helper()
	id, err := s.CreateAdmin(context.Background(), "admin@nollettan.se", "hemligt")
	require.NoError(t, err)
	return s.IssueSession(id)
}

func TestLoadBootstrapsEmptyStore(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	e := newEngine(s, s, nil)

	require.NoError(t, e.Load(ctx))
	require.Equal(t, 1, s.Roots())

	id := e.MenuID()
	require.NotEmpty(t, id)
	for _, table := range services.ChildTables {
		assert.Positive(t, s.Rows(table, id), "table %s", table)
	}

	want := models.Defaults()
	want.ID = id
	assert.Equal(t, want, e.Snapshot())

	// A second load reuses the root.
	require.NoError(t, e.Load(ctx))
	assert.Equal(t, 1, s.Roots())
}

func TestEnsureRoot(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	e := newEngine(s, s, nil)

	id, created, err := e.EnsureRoot(ctx)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := e.EnsureRoot(ctx)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)
}

func TestLoadFallsBackPerEntity(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.CreateRoot(ctx, "m1", 7))
	require.NoError(t, s.InsertLunchPricing(ctx, []services.LunchPricingRow{{MenuID: "m1", OnSite: 160, Takeaway: 145}}))
	require.NoError(t, s.InsertMenuItems(ctx, []services.MenuItemRow{
		{MenuID: "m1", Category: models.CatalogPasta, Name: "Carbonara", Price: 150, OrderIndex: 1},
		{MenuID: "m1", Category: models.CatalogPasta, Label: "Veckans pasta", Name: "Pesto", Price: 140, OrderIndex: 0},
	}))

	e := newEngine(s, s, nil)
	require.NoError(t, e.Load(ctx))
	got := e.Snapshot()
	defaults := models.Defaults()

	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, 7, got.Week)
	assert.Equal(t, models.LunchPricing{OnSite: 160, Takeaway: 145}, got.LunchPricing)
	assert.Equal(t, defaults.LunchIncluded, got.LunchIncluded)
	assert.Len(t, got.LunchIncluded, 5)
	assert.Equal(t, defaults.WeeklyLunch, got.WeeklyLunch)
	assert.Equal(t, defaults.CategoryTexts, got.CategoryTexts)

	// menu_items has rows, so catalogs without any stay empty
	assert.NotNil(t, got.Salads)
	assert.Empty(t, got.Salads)
	assert.Empty(t, got.AlwaysOnMenu)
	assert.Empty(t, got.PinsaPizza)

	require.Len(t, got.Pasta, 2)
	assert.Equal(t, models.MenuItem{Name: "Pesto", Price: 140, Category: "Veckans pasta"}, got.Pasta[0])
	assert.Equal(t, models.MenuItem{Name: "Carbonara", Price: 150, Category: models.CatalogPasta.Label()}, got.Pasta[1])
	assert.Equal(t, 1, s.Roots(), "no bootstrap when a root exists")
}

func TestLoadFailureKeepsStateAndUsesCache(t *testing.T) {
	ctx := context.Background()
	s := &faultyStore{Store: memstore.New(), latestErr: errors.New("connection refused")}
	cached := models.Defaults()
	cached.ID = "cached"
	cached.Week = 12
	cache := &mapCache{}
	require.NoError(t, cache.Put(ctx, services.DefaultCacheKey, cached))
	notices := &noticeLog{}

	e := newEngine(s, s.Store, func(o *services.Options) {
		o.Cache = cache
		o.Notifier = notices
	})
	err := e.Load(ctx)
	require.Error(t, err)
	assert.Equal(t, services.CodeLoadFailed, services.ErrorCode(err))
	assert.Equal(t, services.NoticeError, notices.last().Level)
	assert.Equal(t, cached, e.Snapshot())
}

func TestLoadedMenuIsNotSharedWithCache(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	cache := &gateCache{entered: make(chan struct{}), release: make(chan struct{})}
	e := newEngine(s, s, func(o *services.Options) { o.Cache = cache })

	done := make(chan error, 1)
	go func() { done <- e.Load(ctx) }()
	<-cache.entered
	require.NoError(t, e.UpdateItem(models.CatalogSalads, 0, models.MenuItem{Name: "local edit", Price: 1}))
	close(cache.release)
	require.NoError(t, <-done)

	assert.Equal(t, models.Defaults().Salads[0].Name, cache.salad, "cache gets the menu as loaded")
	assert.Equal(t, "local edit", e.Snapshot().Salads[0].Name)
}

func TestLoadWritesCache(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	cache := &mapCache{}
	e := newEngine(s, s, func(o *services.Options) { o.Cache = cache })
	require.NoError(t, e.Load(ctx))

	got, ok, err := cache.Get(ctx, services.DefaultCacheKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e.Snapshot(), got)
}

func TestSaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	token := adminToken(t, s)
	e := newEngine(s, s, nil)
	require.NoError(t, e.Load(ctx))

	e.UpdateWeek(42)
	require.NoError(t, e.UpdateItem(models.CatalogSalads, 0, models.MenuItem{Name: "Caesar", Price: 139, Category: "Husets sallad"}))
	require.NoError(t, e.DeleteLunchIncluded(4))
	e.UpdateLunchPricing(models.LunchPricing{OnSite: 165, Takeaway: 150})
	require.NoError(t, e.SaveCurrent(ctx, token))

	saved := e.Snapshot()
	other := newEngine(s, s, nil)
	require.NoError(t, other.Load(ctx))
	assert.Equal(t, saved, other.Snapshot())
	assert.Equal(t, 42, other.Snapshot().Week)
	assert.Len(t, other.Snapshot().LunchIncluded, 4)
	assert.Equal(t, 1, s.Roots())
}

func TestSaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	token := adminToken(t, s)
	e := newEngine(s, s, nil)
	require.NoError(t, e.Load(ctx))
	id := e.MenuID()

	snap := e.Snapshot()
	_, err := e.Save(ctx, token, snap)
	require.NoError(t, err)
	counts := map[services.Table]int{}
	for _, table := range services.ChildTables {
		counts[table] = s.Rows(table, id)
	}

	_, err = e.Save(ctx, token, snap)
	require.NoError(t, err)
	for _, table := range services.ChildTables {
		assert.Equal(t, counts[table], s.Rows(table, id), "table %s", table)
	}
	assert.Equal(t, 1, s.Roots())
}

func TestSaveWithoutLoadCreatesRoot(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	token := adminToken(t, s)
	e := newEngine(s, s, nil)

	snap := models.Defaults()
	snap.Week = 3
	saved, err := e.Save(ctx, token, snap)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, saved.ID, e.MenuID())
	assert.Equal(t, 1, s.Roots())
}

func TestSaveRejectsNonAdmin(t *testing.T) {
	ctx := context.Background()
	s := &faultyStore{Store: memstore.New()}
	e := newEngine(s, s.Store, nil)
	require.NoError(t, e.Load(ctx))
	s.menuItemCalls.Store(0)
	before := e.Snapshot()

	userID, err := s.CreateUser("gast@nollettan.se", "hemligt")
	require.NoError(t, err)
	token := s.IssueSession(userID)

	changed := before.Clone()
	changed.Week = 99
	err = e.SaveWithRetry(ctx, token, changed)
	require.ErrorIs(t, err, services.ErrNotAdmin)
	assert.Equal(t, int32(0), s.menuItemCalls.Load(), "no writes")

	root, err := s.LatestRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Week, root.Week)
	assert.Equal(t, before, e.Snapshot())
}

func TestSaveSessionExpired(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	notices := &noticeLog{}
	e := newEngine(s, s, func(o *services.Options) { o.Notifier = notices })
	require.NoError(t, e.Load(ctx))

	err := e.SaveWithRetry(ctx, "no-such-token", e.Snapshot())
	require.ErrorIs(t, err, services.ErrSessionExpired)
	last := notices.last()
	assert.Equal(t, services.NoticeError, last.Level)
	assert.Equal(t, services.CodeSessionExpired, last.Code)
}

func TestSaveRejectsInvalidSnapshot(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	token := adminToken(t, s)
	e := newEngine(s, s, nil)
	require.NoError(t, e.Load(ctx))

	bad := e.Snapshot()
	bad.Pasta[0].Price = -1
	_, err := e.Save(ctx, token, bad)
	require.ErrorIs(t, err, services.ErrInvalidSnapshot)
	assert.NotEqual(t, -1, e.Snapshot().Pasta[0].Price)
}

func TestSaveInsertFailureRetriesAndRollsBack(t *testing.T) {
	ctx := context.Background()
	s := &faultyStore{Store: memstore.New()}
	token := adminToken(t, s.Store)
	notices := &noticeLog{}
	e := newEngine(s, s.Store, func(o *services.Options) { o.Notifier = notices })
	require.NoError(t, e.Load(ctx))
	id := e.MenuID()
	before := s.Rows(services.TableWeeklyLunch, id)

	s.menuItemCalls.Store(0)
	s.menuItemsErr = errors.New("check constraint")
	changed := e.Snapshot()
	changed.Week = 50
	err := e.SaveWithRetry(ctx, token, changed)

	require.ErrorIs(t, err, services.ErrInsertFailed(services.TableMenuItems))
	assert.Equal(t, "MENU_ITEMS_INSERT_FAILED", services.ErrorCode(err))
	assert.Equal(t, int32(3), s.menuItemCalls.Load())
	assert.Equal(t, "MENU_ITEMS_INSERT_FAILED", notices.last().Code)

	root, err := s.LatestRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Defaults().Week, root.Week, "transaction rolled back")
	assert.Equal(t, before, s.Rows(services.TableWeeklyLunch, id))
}

func TestSaveDeleteFailureSkipsInserts(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	token := adminToken(t, s)
	p := &plainStore{RecordStore: s}
	e := newEngine(p, s, nil)
	require.NoError(t, e.Load(ctx))
	before := e.Snapshot()
	p.inserts.Store(0)

	p.failDelete = services.TableLunchIncluded
	changed := before.Clone()
	changed.Week = 9
	_, err := e.Save(ctx, token, changed)

	require.ErrorIs(t, err, services.ErrDeleteFailed)
	var syncErr *services.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, services.TableLunchIncluded, syncErr.Table)
	assert.ErrorContains(t, err, "permission denied")
	assert.Equal(t, int32(0), p.inserts.Load(), "inserts wait for every delete")
	assert.Equal(t, before, e.Snapshot())
}

func TestSaveRoleLookupFailure(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	token := adminToken(t, s)
	e := newEngine(s, brokenRoles{Authenticator: s}, nil)
	require.NoError(t, e.Load(ctx))

	_, err := e.Save(ctx, token, e.Snapshot())
	require.ErrorIs(t, err, services.ErrPermissionCheckFailed)
	assert.Equal(t, services.CodePermissionCheckFailed, services.ErrorCode(err))
	assert.ErrorContains(t, err, "user_roles")
	assert.True(t, services.Retryable(err), "a failed lookup may succeed next attempt")
}

func TestSaveEmptiedCatalogRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	token := adminToken(t, s)
	e := newEngine(s, s, nil)
	require.NoError(t, e.Load(ctx))

	for len(e.Snapshot().Salads) > 0 {
		require.NoError(t, e.DeleteItem(models.CatalogSalads, 0))
	}
	require.NoError(t, e.SaveCurrent(ctx, token))

	other := newEngine(s, s, nil)
	require.NoError(t, other.Load(ctx))
	assert.Empty(t, other.Snapshot().Salads)
	assert.Equal(t, e.Snapshot(), other.Snapshot())
}

func TestSaveTimeout(t *testing.T) {
	ctx := context.Background()
	s := &faultyStore{Store: memstore.New()}
	token := adminToken(t, s.Store)
	e := newEngine(s, s.Store, func(o *services.Options) { o.SaveTimeout = 50 * time.Millisecond })
	require.NoError(t, e.Load(ctx))

	s.weeklyDelay = time.Second
	start := time.Now()
	_, err := e.Save(ctx, token, e.Snapshot())
	require.ErrorIs(t, err, services.ErrTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestMutatorsStayLocal(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	e := newEngine(s, s, nil)
	require.NoError(t, e.Load(ctx))
	id := e.MenuID()
	stored := s.Rows(services.TableMenuItems, id)

	var seen atomic.Int32
	unsubscribe := e.OnChange(func(models.MenuSnapshot) { seen.Add(1) })

	n := len(e.Snapshot().PinsaPizza)
	require.NoError(t, e.AddItem(models.CatalogPinsaPizza, models.MenuItem{Name: "Tryffel", Price: 175}))
	pinsa := e.Snapshot().PinsaPizza
	require.Len(t, pinsa, n+1)
	assert.Equal(t, models.MenuItem{Name: "Tryffel", Price: 175, Category: models.CatalogPinsaPizza.Label()}, pinsa[n])

	require.NoError(t, e.AddItem(models.CatalogPasta, models.MenuItem{Name: "Lasagne", Price: 155, Category: "Veckans pasta"}))
	pasta := e.Snapshot().Pasta
	assert.Equal(t, "Veckans pasta", pasta[len(pasta)-1].Category)

	require.NoError(t, e.DeleteItem(models.CatalogPinsaPizza, 0))
	assert.Len(t, e.Snapshot().PinsaPizza, n)
	assert.Equal(t, pinsa[1], e.Snapshot().PinsaPizza[0])

	err := e.UpdateItem(models.CatalogPasta, 100, models.MenuItem{})
	assert.ErrorIs(t, err, services.ErrIndexOutOfRange)
	assert.ErrorIs(t, e.DeleteLunchIncluded(-1), services.ErrIndexOutOfRange)
	assert.ErrorIs(t, e.UpdateDayMenu(5, models.DayMenu{}), services.ErrIndexOutOfRange)
	assert.Error(t, e.AddItem("desserts", models.MenuItem{Name: "Tiramisu"}))

	e.AddLunchIncluded(models.LunchIncludedItem{Name: "Bröd"})
	assert.Equal(t, models.LunchIncludedItem{Name: "Bröd", Icon: models.IconHeart}, e.Snapshot().LunchIncluded[5])
	require.NoError(t, e.UpdateLunchIncluded(5, models.LunchIncludedItem{Name: "Smör och bröd", Icon: models.IconCookie}))
	require.NoError(t, e.UpdateDayMenu(0, models.DayMenu{Day: "Måndag", Meals: []models.WeeklyMeal{{Name: "Soppa", Type: models.MealVeg}}}))
	e.UpdateCategoryTexts(models.CategoryTexts{PastaTitle: "Pasta!"})

	assert.Equal(t, int32(7), seen.Load())
	unsubscribe()
	e.UpdateWeek(1)
	assert.Equal(t, int32(7), seen.Load())

	assert.Equal(t, stored, s.Rows(services.TableMenuItems, id), "mutators never write")
	assert.Equal(t, id, e.Snapshot().ID)
}

func TestRemoteChangeTriggersReload(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	e := newEngine(s, s, func(o *services.Options) {
		o.Feed = s
		o.Debounce = 10 * time.Millisecond
	})
	require.NoError(t, e.Start(ctx))
	defer e.Close()

	require.NoError(t, s.UpdateRoot(ctx, e.MenuID(), 33))
	assert.Eventually(t, func() bool { return e.Snapshot().Week == 33 }, 2*time.Second, 10*time.Millisecond)
}

func TestOwnSaveDoesNotReload(t *testing.T) {
	ctx := context.Background()
	s := &faultyStore{Store: memstore.New()}
	token := adminToken(t, s.Store)
	e := newEngine(s, s.Store, func(o *services.Options) {
		o.Feed = s.Store
		o.Debounce = 10 * time.Millisecond
		o.EchoWindow = 300 * time.Millisecond
	})
	require.NoError(t, e.Start(ctx))
	defer e.Close()
	loads := s.latestCalls.Load()

	snap := e.Snapshot()
	snap.Week = 44
	_, err := e.Save(ctx, token, snap)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, loads, s.latestCalls.Load(), "echo of own save ignored")

	time.Sleep(300 * time.Millisecond)
	require.NoError(t, s.Announce(ctx, services.ChangeEvent{Table: services.TableMenuData, MenuID: e.MenuID(), Op: "UPDATE"}))
	assert.Eventually(t, func() bool { return s.latestCalls.Load() > loads }, 2*time.Second, 10*time.Millisecond)
}

func TestChangeDuringSaveDoesNotReload(t *testing.T) {
	ctx := context.Background()
	s := &faultyStore{Store: memstore.New()}
	token := adminToken(t, s.Store)
	e := newEngine(s, s.Store, func(o *services.Options) {
		o.Feed = s.Store
		o.Debounce = 10 * time.Millisecond
		o.EchoWindow = 50 * time.Millisecond
	})
	require.NoError(t, e.Start(ctx))
	defer e.Close()
	loads := s.latestCalls.Load()

	s.weeklyDelay = 300 * time.Millisecond
	snap := e.Snapshot()
	saved := make(chan error, 1)
	go func() {
		_, err := e.Save(ctx, token, snap)
		saved <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Announce(ctx, services.ChangeEvent{Table: services.TableMenuItems, MenuID: e.MenuID(), Op: "DELETE"}))
	require.NoError(t, <-saved)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, loads, s.latestCalls.Load(), "change seen mid-save is not reloaded")
}

func TestBurstCoalescesIntoOneReload(t *testing.T) {
	ctx := context.Background()
	s := &faultyStore{Store: memstore.New()}
	e := newEngine(s, s.Store, func(o *services.Options) {
		o.Feed = s.Store
		o.Debounce = 100 * time.Millisecond
	})
	require.NoError(t, e.Start(ctx))
	defer e.Close()
	loads := s.latestCalls.Load()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.UpdateRoot(ctx, e.MenuID(), 20+i))
	}
	assert.Eventually(t, func() bool { return e.Snapshot().Week == 24 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, loads+1, s.latestCalls.Load())
}
