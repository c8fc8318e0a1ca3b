package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/hitoshi/simplyconnect/internal/model"
	"github.com/hitoshi/simplyconnect/internal/repository"
)

// DefaultIdentityTokenKey はIDトークンを保存するローカルストアのキー。
const DefaultIdentityTokenKey = "identityToken"

// phoneUIDNamespace は電話番号から安定したuidを導出するための名前空間。
var phoneUIDNamespace = uuid.MustParse("6f1c2b1e-8d0a-4c59-9a57-2f4f0b6d7c31")

// 確認コード検証結果のメトリクスラベル
const (
	CodeResultSent        = "sent"
	CodeResultRateLimited = "rate_limited"
	CodeResultVerified    = "verified"
	CodeResultInvalid     = "invalid"
	CodeResultExpired     = "expired"
)

// CodeRecorder は確認コードの発行・検証結果を記録するインターフェース。
type CodeRecorder interface {
	RecordVerificationCode(result string)
}

// PhoneProviderConfig はPhoneProviderの設定を保持する。
type PhoneProviderConfig struct {
	SigningKey      []byte
	TokenTTL        time.Duration // IDトークンの有効期間
	CodeTTL         time.Duration // 確認コードの有効期間
	CodeLength      int
	MaxAttempts     int           // 1つの確認コードに対する最大試行回数
	SendRate        rate.Limit    // 電話番号ごとのコード送信レート
	SendBurst       int           // 電話番号ごとのバーストサイズ
	TokenKey        string        // ローカルストアのキー
	CleanupInterval time.Duration // 期限切れコードとリミッターの掃除間隔
}

// DefaultPhoneProviderConfig はデフォルト設定を返す。
// コード送信は電話番号ごとに10分あたり5回、バースト3回まで。
func DefaultPhoneProviderConfig() PhoneProviderConfig {
	return PhoneProviderConfig{
		TokenTTL:        30 * 24 * time.Hour,
		CodeTTL:         5 * time.Minute,
		CodeLength:      6,
		MaxAttempts:     5,
		SendRate:        rate.Every(2 * time.Minute),
		SendBurst:       3,
		TokenKey:        DefaultIdentityTokenKey,
		CleanupInterval: 5 * time.Minute,
	}
}

// pendingCode は送信済み確認コードの検証待ち状態。コードはbcryptハッシュで保持する。
type pendingCode struct {
	phoneNumber string
	codeHash    []byte
	expiresAt   time.Time
	attempts    int
}

// phoneLimiter は電話番号ごとのレートリミッターとアクセス時刻を保持する。
type phoneLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// PhoneProvider は確認コードによる電話番号認証を行うIDプロバイダー。
// 確定したIDはJWTとしてローカルストアに保存し、再起動後に復元する。
type PhoneProvider struct {
	config   PhoneProviderConfig
	sender   CodeSender
	local    repository.LocalStore
	tokens   *TokenIssuer
	recorder CodeRecorder
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	pending   map[string]*pendingCode
	limiters  map[string]*phoneLimiter
	current   *model.IdentityHandle
	listeners map[uint64]func(*model.IdentityHandle)
	nextID    uint64

	// deliverMu はID更新と購読者への通知を直列化する。
	deliverMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ IdentityProvider = (*PhoneProvider)(nil)

// NewPhoneProvider はPhoneProviderを生成する。
// ローカルストアに有効なIDトークンが保存されていれば現在のIDとして復元する。
// recorderはnilでもよい。
func NewPhoneProvider(
	ctx context.Context,
	config PhoneProviderConfig,
	sender CodeSender,
	local repository.LocalStore,
	recorder CodeRecorder,
) (*PhoneProvider, error) {
	if len(config.SigningKey) == 0 {
		return nil, fmt.Errorf("phone provider: signing key is required")
	}
	defaults := DefaultPhoneProviderConfig()
	if config.TokenTTL <= 0 {
		config.TokenTTL = defaults.TokenTTL
	}
	if config.CodeTTL <= 0 {
		config.CodeTTL = defaults.CodeTTL
	}
	if config.CodeLength <= 0 {
		config.CodeLength = defaults.CodeLength
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.SendRate <= 0 {
		config.SendRate = defaults.SendRate
	}
	if config.SendBurst <= 0 {
		config.SendBurst = defaults.SendBurst
	}
	if config.TokenKey == "" {
		config.TokenKey = defaults.TokenKey
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}

	p := &PhoneProvider{
		config:    config,
		sender:    sender,
		local:     local,
		tokens:    NewTokenIssuer(config.SigningKey, config.TokenTTL),
		recorder:  recorder,
		logger:    slog.Default(),
		now:       time.Now,
		pending:   make(map[string]*pendingCode),
		limiters:  make(map[string]*phoneLimiter),
		listeners: make(map[uint64]func(*model.IdentityHandle)),
		stopCh:    make(chan struct{}),
	}

	if err := p.restore(ctx); err != nil {
		return nil, err
	}

	go p.cleanupLoop()

	return p, nil
}

// Close は掃除用のバックグラウンドゴルーチンを停止する。
func (p *PhoneProvider) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// restore は保存済みのIDトークンを検証して現在のIDに設定する。
// 検証に失敗したトークンは削除する。
func (p *PhoneProvider) restore(ctx context.Context) error {
	raw, ok, err := p.local.Get(ctx, p.config.TokenKey)
	if err != nil {
		return fmt.Errorf("failed to read identity token: %w", err)
	}
	if !ok {
		return nil
	}

	h, err := p.tokens.Verify(raw)
	if err != nil {
		p.logger.Info("discarding stored identity token", slog.String("error", err.Error()))
		if err := p.local.Remove(ctx, p.config.TokenKey); err != nil {
			return fmt.Errorf("failed to remove identity token: %w", err)
		}
		return nil
	}

	p.current = h
	return nil
}

// SendCode は確認コードを生成して送信する。
func (p *PhoneProvider) SendCode(ctx context.Context, phoneNumber string) (*model.PendingVerification, error) {
	if err := ValidatePhoneNumber(phoneNumber); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if !p.getOrCreateLimiter(phoneNumber).Allow() {
		p.record(CodeResultRateLimited)
		p.logger.Warn("verification code rate limit exceeded",
			slog.String("phone_number", MaskPhoneNumber(phoneNumber)),
		)
		return nil, ErrRateLimited
	}

	code, err := generateCode(p.config.CodeLength)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash verification code: %w", err)
	}

	id := ulid.Make().String()
	expiresAt := p.now().Add(p.config.CodeTTL)

	p.mu.Lock()
	p.pending[id] = &pendingCode{phoneNumber: phoneNumber, codeHash: hash, expiresAt: expiresAt}
	p.mu.Unlock()

	if err := p.sender.SendCode(ctx, phoneNumber, code); err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	p.record(CodeResultSent)
	return &model.PendingVerification{ID: id, PhoneNumber: phoneNumber, ExpiresAt: expiresAt}, nil
}

// ConfirmCode は確認コードを検証し、成功時はIDを確定して購読者に通知する。
// 試行回数の上限に達したコードは期限切れとして扱う。
func (p *PhoneProvider) ConfirmCode(ctx context.Context, pv *model.PendingVerification, code string) (*model.IdentityHandle, error) {
	if pv == nil {
		return nil, ErrCodeExpired
	}

	p.mu.Lock()
	pc, ok := p.pending[pv.ID]
	if !ok {
		p.mu.Unlock()
		p.record(CodeResultExpired)
		return nil, ErrCodeExpired
	}
	if !p.now().Before(pc.expiresAt) {
		delete(p.pending, pv.ID)
		p.mu.Unlock()
		p.record(CodeResultExpired)
		return nil, ErrCodeExpired
	}
	pc.attempts++
	attempts := pc.attempts
	hash := pc.codeHash
	phoneNumber := pc.phoneNumber
	p.mu.Unlock()

	if err := bcrypt.CompareHashAndPassword(hash, []byte(code)); err != nil {
		if attempts >= p.config.MaxAttempts {
			p.mu.Lock()
			delete(p.pending, pv.ID)
			p.mu.Unlock()
			p.record(CodeResultExpired)
			return nil, ErrCodeExpired
		}
		p.record(CodeResultInvalid)
		return nil, ErrInvalidCode
	}

	p.mu.Lock()
	delete(p.pending, pv.ID)
	p.mu.Unlock()

	h, err := p.tokens.Issue(uidForPhone(phoneNumber), phoneNumber)
	if err != nil {
		return nil, err
	}
	if err := p.local.Set(ctx, p.config.TokenKey, h.Token); err != nil {
		return nil, fmt.Errorf("failed to persist identity token: %w", err)
	}

	p.record(CodeResultVerified)
	p.setIdentity(h)

	out := *h
	return &out, nil
}

// OnIdentityChanged はIDの変化を購読し、登録直後に現在のIDを通知する。
func (p *PhoneProvider) OnIdentityChanged(listener func(*model.IdentityHandle)) func() {
	p.deliverMu.Lock()
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = listener
	current := cloneHandle(p.current)
	p.mu.Unlock()

	listener(current)
	p.deliverMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// SignOut は保存済みトークンを削除し、購読者にnilを通知する。
func (p *PhoneProvider) SignOut(ctx context.Context) error {
	if err := p.local.Remove(ctx, p.config.TokenKey); err != nil {
		return fmt.Errorf("failed to remove identity token: %w", err)
	}
	p.setIdentity(nil)
	return nil
}

// CurrentIdentity は現在のIDを返す。未ログインの場合はnilを返す。
func (p *PhoneProvider) CurrentIdentity() *model.IdentityHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneHandle(p.current)
}

// setIdentity は現在のIDを更新し、全購読者に登録順で通知する。
func (p *PhoneProvider) setIdentity(h *model.IdentityHandle) {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	p.mu.Lock()
	p.current = cloneHandle(h)
	ids := make([]uint64, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	listeners := make([]func(*model.IdentityHandle), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		listeners = append(listeners, p.listeners[id])
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(cloneHandle(h))
	}
}

func (p *PhoneProvider) record(result string) {
	if p.recorder != nil {
		p.recorder.RecordVerificationCode(result)
	}
}

// getOrCreateLimiter は電話番号ごとのリミッターを取得または作成する。
func (p *PhoneProvider) getOrCreateLimiter(phoneNumber string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pl, ok := p.limiters[phoneNumber]; ok {
		pl.lastAccess = p.now()
		return pl.limiter
	}

	limiter := rate.NewLimiter(p.config.SendRate, p.config.SendBurst)
	p.limiters[phoneNumber] = &phoneLimiter{limiter: limiter, lastAccess: p.now()}
	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的に削除する。
func (p *PhoneProvider) cleanupLoop() {
	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.cleanup()
		case <-p.stopCh:
			return
		}
	}
}

// cleanup は期限切れの確認コードと、一定時間アクセスのないリミッターを削除する。
// リミッターはバーストが完全に回復する時間を過ぎたものを対象とする。
func (p *PhoneProvider) cleanup() {
	now := p.now()
	idle := time.Duration(float64(p.config.SendBurst) / float64(p.config.SendRate) * float64(time.Second))

	p.mu.Lock()
	defer p.mu.Unlock()

	for id, pc := range p.pending {
		if !now.Before(pc.expiresAt) {
			delete(p.pending, id)
		}
	}
	for phone, pl := range p.limiters {
		if now.Sub(pl.lastAccess) > idle {
			delete(p.limiters, phone)
		}
	}
}

// pendingCount は検証待ちのコード数を返す。テスト用。
func (p *PhoneProvider) pendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// uidForPhone は電話番号から安定したuidを導出する。
func uidForPhone(phoneNumber string) string {
	return uuid.NewSHA1(phoneUIDNamespace, []byte(phoneNumber)).String()
}

// generateCode はcrypto/randで指定桁数の数字コードを生成する。
func generateCode(length int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

func cloneHandle(h *model.IdentityHandle) *model.IdentityHandle {
	if h == nil {
		return nil
	}
	c := *h
	return &c
}
