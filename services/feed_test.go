package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeChangeEvent(t *testing.T) {
	ev, err := decodeChangeEvent(`{"table":"menu_items","menu_id":"m1","op":"DELETE"}`)
	require.NoError(t, err)
	assert.Equal(t, ChangeEvent{Table: TableMenuItems, MenuID: "m1", Op: "DELETE"}, ev)

	_, err = decodeChangeEvent("not json")
	assert.Error(t, err)
}

func TestMatchesMenu(t *testing.T) {
	tests := []struct {
		name   string
		event  string
		filter string
		want   bool
	}{
		{"no filter", "m1", "", true},
		{"same menu", "m1", "m1", true},
		{"other menu", "m2", "m1", false},
		{"event without menu", "", "m1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesMenu(ChangeEvent{MenuID: tt.event}, tt.filter))
		})
	}
}

func TestRedisChannel(t *testing.T) {
	assert.Equal(t, "menu:changes:m1", RedisChannel("m1"))
	assert.Equal(t, "menu:changes:*", RedisChannel(""))
}

func TestRedisFeedAnnounce(t *testing.T) {
	client, mock := redismock.NewClientMock()
	feed := NewRedisFeed(client, zerolog.Nop())
	ev := ChangeEvent{Table: TableMenuData, MenuID: "m1", Op: "UPDATE"}
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	mock.ExpectPublish("menu:changes:m1", payload).SetVal(1)
	require.NoError(t, feed.Announce(context.Background(), ev))

	mock.ExpectPublish("menu:changes:m1", payload).SetErr(errors.New("connection refused"))
	err = feed.Announce(context.Background(), ev)
	assert.ErrorContains(t, err, "publish change event")

	assert.NoError(t, mock.ExpectationsWereMet())
}
