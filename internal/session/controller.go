// Package session はプロセスで唯一のセッション状態を所有し、
// IDプロバイダーの通知と端末ローカルのセッションレコードから認証状態を解決する。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/simplyconnect/internal/auth"
	"github.com/hitoshi/simplyconnect/internal/model"
	"github.com/hitoshi/simplyconnect/internal/repository"
)

var (
	// ErrAlreadyStarted はStartが2回以上呼ばれた場合のエラー。
	ErrAlreadyStarted = errors.New("session controller already started")
	// ErrNotStarted はStart前にイベントを投入した場合のエラー。
	ErrNotStarted = errors.New("session controller not started")
	// ErrStopped は停止後の操作、または停止により破棄されたイベントのエラー。
	ErrStopped = errors.New("session controller stopped")
	// ErrSuperseded は後続のイベントにより結果が破棄された場合のエラー。
	ErrSuperseded = errors.New("session event superseded by a newer event")
)

const (
	defaultSubscriberBuffer = 16
	eventQueueSize          = 16
	signOutTimeout          = 10 * time.Second
)

// Options はコントローラーの任意設定。
type Options struct {
	// Bypass は開発用のバイパスID。nilの場合バイパスセッションは扱わない。
	Bypass *auth.TestIdentityProvider
	Logger *slog.Logger
	// Metrics はnilの場合記録しない。
	Metrics Recorder
	// RecordKey はセッションレコードのキー。空の場合はmodel.DefaultSessionRecordKey。
	RecordKey string
	// SubscriberBuffer は購読チャネルのバッファサイズ。溢れた場合は古い通知から破棄する。
	SubscriberBuffer int
	Now              func() time.Time
}

type eventKind int

const (
	eventBootstrap eventKind = iota
	eventIdentity
	eventBypass
	eventSignOut
)

func (k eventKind) String() string {
	switch k {
	case eventBootstrap:
		return "bootstrap"
	case eventIdentity:
		return "identity"
	case eventBypass:
		return "bypass"
	case eventSignOut:
		return "sign_out"
	default:
		return "unknown"
	}
}

// event はループに投入される入力。identityがnilのeventIdentityはID消失を表す。
type event struct {
	kind     eventKind
	identity *model.IdentityHandle
	done     chan error // 適用完了を待つ呼び出し元がいる場合のみ非nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeAuthenticated
	outcomeUnauthenticated
	outcomeFailed
	outcomeCanceled
)

func (o outcome) String() string {
	switch o {
	case outcomeAuthenticated:
		return "authenticated"
	case outcomeUnauthenticated:
		return "unauthenticated"
	case outcomeFailed:
		return "failed"
	case outcomeCanceled:
		return "canceled"
	default:
		return "skipped"
	}
}

// result は解決処理の結果。適用はループ上でのみ行う。
type result struct {
	generation uint64
	ev         *event
	outcome    outcome
	identity   *model.IdentityHandle
	profile    *model.UserProfile
	explicit   bool  // 利用者操作によるログアウト
	signOut    bool  // 適用後にIDプロバイダーからサインアウトする
	cause      error // ログ用の失敗原因
	callerErr  error // doneで呼び出し元に返すエラー
	elapsed    time.Duration
}

type inflight struct {
	generation uint64
	cancel     context.CancelFunc
}

// Controller はセッション状態を所有する唯一の更新者。
// 状態遷移は単一のループゴルーチンが直列に適用し、
// 解決処理は世代番号でタグ付けして古い結果を破棄する。
type Controller struct {
	provider  auth.IdentityProvider
	docs      repository.DocumentStore
	local     repository.LocalStore
	bypass    *auth.TestIdentityProvider
	logger    *slog.Logger
	metrics   Recorder
	recordKey string
	subBuffer int
	now       func() time.Time

	hasInitialized atomic.Bool
	stopOnce       sync.Once

	ctx       context.Context
	cancel    context.CancelFunc
	stopAfter func() bool
	events    chan *event
	results   chan *result
	loopDone  chan struct{}
	wg        sync.WaitGroup

	mu          sync.RWMutex
	state       model.SessionState
	subscribers map[uint64]*subscriber
	nextSubID   uint64
	unsubscribe func()
	stopped     bool

	// 以下はループゴルーチンのみが参照する
	generation uint64
	running    *inflight
	pending    *event
}

// NewController はControllerを生成する。Startを呼ぶまで状態はuninitializedのまま。
func NewController(
	provider auth.IdentityProvider,
	docs repository.DocumentStore,
	local repository.LocalStore,
	opts Options,
) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopRecorder{}
	}
	if opts.RecordKey == "" {
		opts.RecordKey = model.DefaultSessionRecordKey
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = defaultSubscriberBuffer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		provider:    provider,
		docs:        docs,
		local:       local,
		bypass:      opts.Bypass,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		recordKey:   opts.RecordKey,
		subBuffer:   opts.SubscriberBuffer,
		now:         opts.Now,
		ctx:         ctx,
		cancel:      cancel,
		events:      make(chan *event, eventQueueSize),
		results:     make(chan *result, 1),
		loopDone:    make(chan struct{}),
		state:       model.SessionState{Status: model.SessionUninitialized, UpdatedAt: opts.Now()},
		subscribers: make(map[uint64]*subscriber),
	}
}

// Start は起動プロトコルを実行する。プロセスごとに1回だけ実行でき、
// 2回目以降はErrAlreadyStartedを返す。
// ctxが終了するとコントローラーも停止する。
func (c *Controller) Start(ctx context.Context) error {
	if !c.hasInitialized.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if c.ctx.Err() != nil {
		close(c.loopDone)
		return ErrStopped
	}

	c.mu.Lock()
	c.stopAfter = context.AfterFunc(ctx, c.cancel)
	c.mu.Unlock()

	c.setState(model.SessionState{Status: model.SessionResolving}, 0)
	go c.run()

	// ローカルのセッションレコードを先に投入し、IDプロバイダーの通知を必ずその後に処理させる
	c.enqueue(&event{kind: eventBootstrap})

	unsubscribe := c.provider.OnIdentityChanged(c.onIdentityChanged)

	c.mu.Lock()
	stopped := c.ctx.Err() != nil
	if !stopped {
		c.unsubscribe = unsubscribe
	}
	c.mu.Unlock()
	if stopped {
		unsubscribe()
	}

	c.logger.Info("session controller started", slog.String("record_key", c.recordKey))
	return nil
}

// Stop はIDプロバイダーの購読を解除し、実行中の解決処理を取り消して
// ループの終了を待つ。購読チャネルはすべて閉じられる。複数回呼んでもよい。
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		unsubscribe := c.unsubscribe
		c.unsubscribe = nil
		stopAfter := c.stopAfter
		c.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		if stopAfter != nil {
			stopAfter()
		}
		c.cancel()

		if c.hasInitialized.Load() {
			<-c.loopDone
		}
		c.wg.Wait()

		c.mu.Lock()
		c.stopped = true
		for id, sub := range c.subscribers {
			sub.close()
			delete(c.subscribers, id)
		}
		c.mu.Unlock()

		c.logger.Info("session controller stopped")
	})
}

// Snapshot は現在のセッション状態のコピーを返す。
func (c *Controller) Snapshot() model.SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// AdoptBypass はバイパスIDでのログインを投入し、適用されるまで待つ。
// バイパスユーザーのドキュメントが無ければ設定値で作成する。
func (c *Controller) AdoptBypass(ctx context.Context, identity *model.IdentityHandle) error {
	if identity == nil {
		return fmt.Errorf("bypass identity is required")
	}
	h := *identity
	return c.submit(ctx, &event{kind: eventBypass, identity: &h})
}

// SignOut は利用者操作によるログアウトを行う。
// IDプロバイダーからサインアウトした後、未認証への遷移が適用されるまで待つ。
func (c *Controller) SignOut(ctx context.Context) error {
	if err := c.provider.SignOut(ctx); err != nil {
		return fmt.Errorf("failed to sign out from identity provider: %w", err)
	}
	return c.submit(ctx, &event{kind: eventSignOut})
}

// ReplaceProfile は認証済みプロフィールの編集結果をキャッシュに反映する。
// 同一プロフィールで認証済みの場合のみ反映し、状態遷移は通知しない。
func (c *Controller) ReplaceProfile(p *model.UserProfile) bool {
	if p == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != model.SessionAuthenticated || c.state.Profile == nil || c.state.Profile.ID != p.ID {
		return false
	}
	c.state.Profile = p.Clone()
	c.state.UpdatedAt = c.now()
	return true
}

func (c *Controller) submit(ctx context.Context, ev *event) error {
	if !c.hasInitialized.Load() {
		return ErrNotStarted
	}
	done := make(chan error, 1)
	ev.done = done
	if !c.enqueue(ev) {
		return ErrStopped
	}
	select {
	case err := <-done:
		return err
	case <-c.loopDone:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onIdentityChanged はIDプロバイダーの通知をイベントとして投入する。
// 投入はブロッキングで行い、通知の発生順を保つ。
func (c *Controller) onIdentityChanged(h *model.IdentityHandle) {
	var identity *model.IdentityHandle
	if h != nil {
		copied := *h
		identity = &copied
	}
	c.enqueue(&event{kind: eventIdentity, identity: identity})
}

func (c *Controller) enqueue(ev *event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// run はイベントと解決結果を直列に処理するループ。
// 解決処理は同時に1つだけ実行し、実行中に届いたイベントは最新の1件のみ保留する。
func (c *Controller) run() {
	defer close(c.loopDone)

	for {
		select {
		case <-c.ctx.Done():
			if c.running != nil {
				c.running.cancel()
			}
			if c.pending != nil {
				finish(c.pending, ErrStopped)
				c.pending = nil
			}
			return

		case ev := <-c.events:
			c.generation++
			if c.running != nil {
				c.running.cancel()
				if c.pending != nil {
					finish(c.pending, ErrSuperseded)
				}
				c.pending = ev
				continue
			}
			c.dispatch(ev, c.generation)

		case res := <-c.results:
			c.running = nil
			if res.generation != c.generation {
				c.metrics.RecordStaleDiscard()
				c.logger.Debug("discarding stale session resolution",
					slog.Uint64("generation", res.generation),
					slog.Uint64("current_generation", c.generation),
					slog.String("event", res.ev.kind.String()),
					slog.String("outcome", res.outcome.String()),
				)
				finish(res.ev, ErrSuperseded)
			} else {
				c.apply(res)
			}

			if c.pending != nil {
				ev := c.pending
				c.pending = nil
				c.dispatch(ev, c.generation)
			}
		}
	}
}

// dispatch は解決処理をゴルーチンで開始する。
func (c *Controller) dispatch(ev *event, generation uint64) {
	ctx, cancel := context.WithCancel(c.ctx)
	c.running = &inflight{generation: generation, cancel: cancel}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		started := c.now()
		res := c.resolve(ctx, ev)
		res.generation = generation
		res.ev = ev
		res.elapsed = c.now().Sub(started)

		select {
		case c.results <- res:
		case <-c.ctx.Done():
			finish(ev, ErrStopped)
		}
	}()
}

// apply は最新世代の結果を状態に反映する。
func (c *Controller) apply(res *result) {
	if res.outcome != outcomeSkipped && res.outcome != outcomeCanceled {
		c.metrics.RecordResolution(res.outcome.String(), res.elapsed)
	}

	switch res.outcome {
	case outcomeAuthenticated:
		c.setState(model.SessionState{
			Status:   model.SessionAuthenticated,
			Identity: res.identity,
			Profile:  res.profile,
		}, res.generation)

	case outcomeUnauthenticated:
		if !res.explicit && c.currentStatus() == model.SessionResolutionFailed {
			// 強制サインアウトの通知では解決失敗の表示を維持する
			c.logger.Debug("keeping resolution_failed after identity cleared")
			break
		}
		c.setState(model.SessionState{Status: model.SessionUnauthenticated}, res.generation)

	case outcomeFailed:
		c.logger.Error("session resolution failed",
			slog.String("event", res.ev.kind.String()),
			slog.String("error", errString(res.cause)),
		)
		c.setState(model.SessionState{
			Status:    model.SessionResolutionFailed,
			LastError: model.NewResolutionFailedError(),
		}, res.generation)
		if res.signOut {
			c.forceSignOut()
		}

	case outcomeSkipped:
		if res.cause != nil {
			c.logger.Warn("session event skipped",
				slog.String("event", res.ev.kind.String()),
				slog.String("error", res.cause.Error()),
			)
		}
	}

	finish(res.ev, res.callerErr)
}

// forceSignOut は解決失敗時にIDプロバイダーからサインアウトする。
// サインアウトの通知はループに戻るため、ループ外のゴルーチンで実行する。
func (c *Controller) forceSignOut() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), signOutTimeout)
		defer cancel()
		if err := c.provider.SignOut(ctx); err != nil {
			c.logger.Error("forced sign-out failed", slog.String("error", err.Error()))
		}
	}()
}

// setState は状態を置き換え、ステータスまたはプロフィールIDが変わった場合に購読者へ通知する。
// 不変条件を満たさない状態は解決失敗に置き換える。
func (c *Controller) setState(next model.SessionState, generation uint64) {
	next.Generation = generation
	next.UpdatedAt = c.now()
	if err := next.Validate(); err != nil {
		c.logger.Error("rejecting inconsistent session state", slog.String("error", err.Error()))
		next = model.SessionState{
			Status:     model.SessionResolutionFailed,
			LastError:  model.NewResolutionFailedError(),
			Generation: generation,
			UpdatedAt:  next.UpdatedAt,
		}
	}

	c.mu.Lock()
	prev := c.state
	c.state = next
	changed := prev.Status != next.Status || profileID(prev.Profile) != profileID(next.Profile)
	var snapshot model.SessionState
	if changed {
		snapshot = next.Clone()
		for _, sub := range c.subscribers {
			sub.send(snapshot.Clone())
		}
	}
	c.mu.Unlock()

	if prev.Status != next.Status {
		c.metrics.RecordTransition(prev.Status, next.Status)
		c.logger.Info("session status changed",
			slog.String("from", string(prev.Status)),
			slog.String("to", string(next.Status)),
			slog.Uint64("generation", generation),
			slog.String("profile_id", profileID(next.Profile)),
		)
	}
}

func (c *Controller) currentStatus() model.SessionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Status
}

// finish は呼び出し元が待っている場合に結果を返す。
// doneは投入前に設定され以後書き換えないため、ループと解決ゴルーチンのどちらから呼んでもよい。
// 2回目以降の結果は捨てる。
func finish(ev *event, err error) {
	if ev == nil || ev.done == nil {
		return
	}
	select {
	case ev.done <- err:
	default:
	}
}

func profileID(p *model.UserProfile) string {
	if p == nil {
		return ""
	}
	return p.ID
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
