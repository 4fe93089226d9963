package memstore

import (
	"context"
	"strings"
	"sync"

	"nollettan-menu/services"
)

const subscriptionBuffer = 64

type subscription struct {
	store  *Store
	id     int
	menuID string
	ch     chan services.ChangeEvent
	once   sync.Once
}

func (s *subscription) Events() <-chan services.ChangeEvent { return s.ch }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs, s.id)
		s.store.mu.Unlock()
		close(s.ch)
	})
	return nil
}

// Subscribe delivers every committed write to menuID's tables. The
// subscription ends when ctx is done or Close is called.
func (s *Store) Subscribe(ctx context.Context, menuID string) (services.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	sub := &subscription{store: s, id: s.nextSub, menuID: menuID, ch: make(chan services.ChangeEvent, subscriptionBuffer)}
	s.nextSub++
	s.subs[sub.id] = sub
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

// Announce delivers ev to subscribers as if a table had changed.
func (s *Store) Announce(_ context.Context, ev services.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliverLocked(ev)
	return nil
}

// publishLocked queues ev until commit inside a transaction, else delivers it.
func (s *Store) publishLocked(ev services.ChangeEvent) {
	if s.inTx {
		s.pending = append(s.pending, ev)
		return
	}
	s.deliverLocked(ev)
}

// deliverLocked never blocks; a full subscriber misses the event.
func (s *Store) deliverLocked(ev services.ChangeEvent) {
	for _, sub := range s.subs {
		if sub.menuID != "" && ev.MenuID != "" && sub.menuID != ev.MenuID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
