package guard

import (
	"context"
	"log/slog"

	"github.com/hitoshi/simplyconnect/internal/model"
)

// StateSource はセッション状態の通知元。session.Controllerが実装する。
type StateSource interface {
	Subscribe() (<-chan model.SessionState, func())
}

// Navigator は画面遷移を行うプレゼンテーション層のインターフェース。
type Navigator interface {
	// CurrentRoute は表示中のルートを返す。
	CurrentRoute() string
	// Replace は履歴を残さずにルートを置き換える。
	Replace(route string)
}

// Watcher はセッション状態の遷移を監視し、必要に応じて画面を置き換える。
// プロフィールの編集のようなステータスを伴わない変更には反応しない。
type Watcher struct {
	source StateSource
	nav    Navigator
	logger *slog.Logger
}

// NewWatcher はWatcherを生成する。
func NewWatcher(source StateSource, nav Navigator, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{source: source, nav: nav, logger: logger}
}

// Run はctxが終了するか通知チャネルが閉じられるまで監視を続ける。
func (w *Watcher) Run(ctx context.Context) error {
	states, unsubscribe := w.source.Subscribe()
	defer unsubscribe()

	var last model.SessionStatus
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-states:
			if !ok {
				return nil
			}
			if s.Status == last {
				continue
			}
			last = s.Status
			w.react(s.Status)
		}
	}
}

func (w *Watcher) react(status model.SessionStatus) {
	route := w.nav.CurrentRoute()
	d := Decide(status, GroupOf(route))
	switch d.Action {
	case ActionRedirect, ActionError:
		if d.Route == route {
			return
		}
		w.logger.Info("guard redirect",
			slog.String("status", string(status)),
			slog.String("from", route),
			slog.String("to", d.Route),
		)
		w.nav.Replace(d.Route)
	}
}
