package services

import (
	"context"
	"time"
)

type ReconcileState int

const (
	StateIdle ReconcileState = iota
	StatePendingReload
	StateLoading
)

func (s ReconcileState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingReload:
		return "pending_reload"
	case StateLoading:
		return "loading"
	}
	return "unknown"
}

// Reconciler decides when remote change notifications turn into reloads.
// Bursts inside the debounce window collapse into one reload; notifications
// that arrive while a reload runs schedule exactly one more. It holds no
// timers itself: callers arm a timer for Deadline whenever a method returns true.
type Reconciler struct {
	debounce time.Duration
	state    ReconcileState
	deadline time.Time
	again    bool
}

func NewReconciler(debounce time.Duration) *Reconciler {
	return &Reconciler{debounce: debounce}
}

func (r *Reconciler) State() ReconcileState { return r.state }

// Deadline is when the pending reload becomes due.
func (r *Reconciler) Deadline() time.Time { return r.deadline }

// OnNotify records a change notification. suppressed marks notifications
// caused by our own save. It returns true when the timer must be (re)armed.
func (r *Reconciler) OnNotify(now time.Time, suppressed bool) bool {
	if suppressed {
		return false
	}
	switch r.state {
	case StateLoading:
		r.again = true
		return false
	default:
		r.state = StatePendingReload
		r.deadline = now.Add(r.debounce)
		return true
	}
}

// OnTimer returns true when a reload should start now.
func (r *Reconciler) OnTimer(now time.Time) bool {
	if r.state != StatePendingReload || now.Before(r.deadline) {
		return false
	}
	r.state = StateLoading
	return true
}

// OnLoaded ends a reload. It returns true when another one is pending and
// the timer must be armed.
func (r *Reconciler) OnLoaded(now time.Time) bool {
	if r.state != StateLoading {
		return false
	}
	if r.again {
		r.again = false
		r.state = StatePendingReload
		r.deadline = now.Add(r.debounce)
		return true
	}
	r.state = StateIdle
	return false
}

const resubscribeDelay = time.Second

// Start loads the menu and, when a change feed is configured, keeps it in
// step with remote changes until Close. A failed first load is reported but
// does not stop the engine.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Load(ctx); err != nil {
		e.log.Warn().Err(err).Msg("initial load failed, keeping defaults")
	}
	if e.opts.Feed == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.stop = cancel
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()
	go e.run(ctx, done)
	return nil
}

// Close stops the reconcile loop and releases the subscription.
func (e *Engine) Close() {
	e.mu.Lock()
	stop, done := e.stop, e.done
	e.stop, e.done = nil, nil
	e.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	r := NewReconciler(e.opts.Debounce)
	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer timer.Stop()
	loaded := make(chan struct{}, 1)

	var (
		sub   Subscription
		subID string
	)
	defer func() {
		if sub != nil {
			sub.Close()
		}
	}()

	for {
		if sub == nil {
			subID = e.MenuID()
			s, err := e.opts.Feed.Subscribe(ctx, subID)
			if err != nil {
				e.log.Warn().Err(err).Msg("subscribe to menu changes")
				select {
				case <-ctx.Done():
					return
				case <-time.After(resubscribeDelay):
				}
				continue
			}
			sub = s
			e.log.Debug().Str("menu_id", subID).Msg("subscribed to menu changes")
		}

		select {
		case <-ctx.Done():
			return

		case ev, ok := <-sub.Events():
			if !ok {
				e.log.Warn().Msg("change feed closed, resubscribing")
				sub = nil
				continue
			}
			suppressed := e.suppressReload(e.opts.Now())
			switch {
			case suppressed:
				e.opts.Metrics.observeNotification("suppressed")
			case r.State() == StateLoading:
				e.opts.Metrics.observeNotification("queued")
			default:
				e.opts.Metrics.observeNotification("scheduled")
			}
			e.log.Debug().Str("table", string(ev.Table)).Str("op", ev.Op).Bool("suppressed", suppressed).Msg("menu change")
			if r.OnNotify(time.Now(), suppressed) {
				resetTimer(timer, e.opts.Debounce)
			}

		case <-timer.C:
			if r.OnTimer(time.Now()) {
				go func() {
					_ = e.Load(ctx)
					loaded <- struct{}{}
				}()
			}

		case <-loaded:
			if r.OnLoaded(time.Now()) {
				resetTimer(timer, e.opts.Debounce)
			}
			if id := e.MenuID(); id != subID {
				sub.Close()
				sub = nil
			}
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
