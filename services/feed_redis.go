package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisChannelPrefix = "menu:changes:"

// RedisFeed carries change events over Redis pub/sub. Writers announce
// their saves; every instance subscribed to the menu reloads.
type RedisFeed struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisFeed(client *redis.Client, log zerolog.Logger) *RedisFeed {
	return &RedisFeed{client: client, log: log.With().Str("component", "redis_feed").Logger()}
}

// RedisChannel returns the pub/sub channel for a menu; "" maps to a pattern
// over all menus.
func RedisChannel(menuID string) string {
	if menuID == "" {
		return redisChannelPrefix + "*"
	}
	return redisChannelPrefix + menuID
}

func (f *RedisFeed) Announce(ctx context.Context, ev ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	if err := f.client.Publish(ctx, RedisChannel(ev.MenuID), payload).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	events chan ChangeEvent
	done   chan struct{}
}

func (s *redisSubscription) Events() <-chan ChangeEvent { return s.events }

func (s *redisSubscription) Close() error {
	err := s.ps.Close()
	<-s.done
	return err
}

func (f *RedisFeed) Subscribe(ctx context.Context, menuID string) (Subscription, error) {
	var ps *redis.PubSub
	if menuID == "" {
		ps = f.client.PSubscribe(ctx, RedisChannel(""))
	} else {
		ps = f.client.Subscribe(ctx, RedisChannel(menuID))
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", RedisChannel(menuID), err)
	}

	sub := &redisSubscription{ps: ps, events: make(chan ChangeEvent, 64), done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer close(sub.events)
		for msg := range ps.Channel() {
			ev, err := decodeChangeEvent(msg.Payload)
			if err != nil {
				f.log.Warn().Err(err).Str("channel", msg.Channel).Msg("skip change event")
				continue
			}
			if !matchesMenu(ev, menuID) {
				continue
			}
			select {
			case sub.events <- ev:
			default:
				// a reload is already due; dropping is harmless
			}
		}
	}()
	return sub, nil
}
