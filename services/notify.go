package services

import (
	"context"

	"github.com/rs/zerolog"
)

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-facing message about a load or save.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Title   string      `json:"title"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Notifier delivers notices to whoever is watching (logs, admin chat, browsers).
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

type NotifierFunc func(ctx context.Context, n Notice)

func (f NotifierFunc) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// MultiNotifier fans a notice out to every non-nil notifier.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notice) {
	for _, x := range m {
		if x != nil {
			x.Notify(ctx, n)
		}
	}
}

// LogNotifier writes notices to a zerolog logger.
type LogNotifier struct {
	Log zerolog.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notice) {
	ev := l.Log.Info()
	if n.Level == NoticeError {
		ev = l.Log.Warn()
	}
	ev.Str("level", string(n.Level)).Str("code", n.Code).Str("detail", n.Message).Msg(n.Title)
}
