package services

import (
	"fmt"

	"nollettan-menu/models"
)

// Snapshot returns a copy of the current local menu.
func (e *Engine) Snapshot() models.MenuSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.Clone()
}

// MenuID is the root record the engine is bound to, "" before the first load.
func (e *Engine) MenuID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.menuID
}

// OnChange registers fn to receive every new local menu. The returned func
// unregisters it.
func (e *Engine) OnChange(fn func(models.MenuSnapshot)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *Engine) emit(m models.MenuSnapshot) {
	e.mu.Lock()
	fns := make([]func(models.MenuSnapshot), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(m.Clone())
	}
}

// mutate applies fn to the local menu. Nothing is persisted.
func (e *Engine) mutate(fn func(m *models.MenuSnapshot) error) error {
	e.mu.Lock()
	if err := fn(&e.snap); err != nil {
		e.mu.Unlock()
		return err
	}
	snap := e.snap.Clone()
	e.mu.Unlock()
	e.emit(snap)
	return nil
}

func checkIndex(i, n int) error {
	if i < 0 || i >= n {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, n)
	}
	return nil
}

// Replace swaps the whole local menu, keeping the bound root id.
func (e *Engine) Replace(m models.MenuSnapshot) {
	_ = e.mutate(func(cur *models.MenuSnapshot) error {
		id := cur.ID
		*cur = m.Clone()
		if cur.ID == "" {
			cur.ID = id
		}
		return nil
	})
}

func (e *Engine) UpdateWeek(week int) {
	_ = e.mutate(func(m *models.MenuSnapshot) error {
		m.Week = week
		return nil
	})
}

func (e *Engine) UpdateDayMenu(i int, day models.DayMenu) error {
	return e.mutate(func(m *models.MenuSnapshot) error {
		if err := checkIndex(i, len(m.WeeklyLunch)); err != nil {
			return err
		}
		m.WeeklyLunch[i] = models.DayMenu{Day: day.Day, Meals: append([]models.WeeklyMeal{}, day.Meals...)}
		return nil
	})
}

func (e *Engine) UpdateItem(c models.Catalog, i int, item models.MenuItem) error {
	return e.mutate(func(m *models.MenuSnapshot) error {
		items := m.Items(c)
		if err := checkIndex(i, len(items)); err != nil {
			return err
		}
		items[i] = item
		return nil
	})
}

// AddItem appends item to catalog c. An item without a category label gets
// the catalog's own label.
func (e *Engine) AddItem(c models.Catalog, item models.MenuItem) error {
	if !c.Valid() {
		return fmt.Errorf("unknown catalog %q", c)
	}
	if item.Category == "" {
		item.Category = c.Label()
	}
	return e.mutate(func(m *models.MenuSnapshot) error {
		m.SetItems(c, append(m.Items(c), item))
		return nil
	})
}

func (e *Engine) DeleteItem(c models.Catalog, i int) error {
	return e.mutate(func(m *models.MenuSnapshot) error {
		items := m.Items(c)
		if err := checkIndex(i, len(items)); err != nil {
			return err
		}
		out := make([]models.MenuItem, 0, len(items)-1)
		out = append(out, items[:i]...)
		m.SetItems(c, append(out, items[i+1:]...))
		return nil
	})
}

func (e *Engine) UpdateLunchIncluded(i int, item models.LunchIncludedItem) error {
	return e.mutate(func(m *models.MenuSnapshot) error {
		if err := checkIndex(i, len(m.LunchIncluded)); err != nil {
			return err
		}
		m.LunchIncluded[i] = item
		return nil
	})
}

// AddLunchIncluded appends item; an item without an icon gets a heart.
func (e *Engine) AddLunchIncluded(item models.LunchIncludedItem) {
	if item.Icon == "" {
		item.Icon = models.IconHeart
	}
	_ = e.mutate(func(m *models.MenuSnapshot) error {
		m.LunchIncluded = append(m.LunchIncluded, item)
		return nil
	})
}

func (e *Engine) DeleteLunchIncluded(i int) error {
	return e.mutate(func(m *models.MenuSnapshot) error {
		if err := checkIndex(i, len(m.LunchIncluded)); err != nil {
			return err
		}
		out := make([]models.LunchIncludedItem, 0, len(m.LunchIncluded)-1)
		out = append(out, m.LunchIncluded[:i]...)
		m.LunchIncluded = append(out, m.LunchIncluded[i+1:]...)
		return nil
	})
}

func (e *Engine) UpdateLunchPricing(p models.LunchPricing) {
	_ = e.mutate(func(m *models.MenuSnapshot) error {
		m.LunchPricing = p
		return nil
	})
}

func (e *Engine) UpdateCategoryTexts(t models.CategoryTexts) {
	_ = e.mutate(func(m *models.MenuSnapshot) error {
		m.CategoryTexts = t
		return nil
	})
}
