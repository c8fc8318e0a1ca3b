package session

import (
	"log/slog"
	"sync"

	"github.com/hitoshi/simplyconnect/internal/model"
)

// subscriber は購読者ごとの通知チャネル。
// バッファが溢れた場合は最も古い通知を破棄して最新の状態を残す。
type subscriber struct {
	id     uint64
	ch     chan model.SessionState
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func newSubscriber(id uint64, buffer int, logger *slog.Logger) *subscriber {
	return &subscriber{
		id:     id,
		ch:     make(chan model.SessionState, buffer),
		logger: logger,
	}
}

// send は状態を送信する。ブロックしない。
func (s *subscriber) send(state model.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- state:
			return
		default:
		}
		select {
		case dropped := <-s.ch:
			s.logger.Warn("dropping session notification for slow subscriber",
				slog.Uint64("subscriber_id", s.id),
				slog.String("dropped_status", string(dropped.Status)),
			)
		default:
		}
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// Subscribe は状態変化の通知チャネルを返す。
// 最初に現在の状態が届き、以降はステータスかプロフィールIDが変わるたびに届く。
// 返された関数で購読を解除する。Stop後はチャネルは閉じられている。
func (c *Controller) Subscribe() (<-chan model.SessionState, func()) {
	c.mu.Lock()
	c.nextSubID++
	id := c.nextSubID
	sub := newSubscriber(id, c.subBuffer, c.logger)
	sub.send(c.state.Clone())

	if c.stopped {
		c.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	c.subscribers[id] = sub
	c.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			c.mu.Unlock()
			sub.close()
		})
	}
}
