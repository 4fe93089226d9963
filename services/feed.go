package services

import (
	"context"
	"encoding/json"
	"fmt"
)

// PgNotifyChannel is the LISTEN channel the menu triggers publish on.
const PgNotifyChannel = "menu_changes"

// ChangeEvent reports a write to one of the menu tables.
type ChangeEvent struct {
	Table  Table  `json:"table"`
	MenuID string `json:"menu_id"`
	Op     string `json:"op"`
}

// Subscription is a live stream of change events. The channel is closed
// when the subscription ends, either through Close or a broken feed.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// ChangeFeed delivers change notifications for one root record. An empty
// menuID subscribes to every root.
type ChangeFeed interface {
	Subscribe(ctx context.Context, menuID string) (Subscription, error)
}

// Announcer publishes change events for feeds the store itself does not
// drive, such as Redis.
type Announcer interface {
	Announce(ctx context.Context, ev ChangeEvent) error
}

func decodeChangeEvent(payload string) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("decode change event: %w", err)
	}
	return ev, nil
}

func matchesMenu(ev ChangeEvent, menuID string) bool {
	return menuID == "" || ev.MenuID == "" || ev.MenuID == menuID
}
