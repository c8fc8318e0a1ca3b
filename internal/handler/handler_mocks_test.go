package handler

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/simplyconnect/internal/middleware"
	"github.com/hitoshi/simplyconnect/internal/model"
	"github.com/hitoshi/simplyconnect/internal/profile"
)

// --- モック定義 ---

type mockAuthService struct {
	sendCodeFn    func(ctx context.Context, phoneNumber string) (*model.PendingVerification, error)
	confirmCodeFn func(ctx context.Context, verificationID, code string) (*model.IdentityHandle, error)
	signOutFn     func(ctx context.Context) error
}

var _ AuthServiceInterface = (*mockAuthService)(nil)

func (m *mockAuthService) SendCode(ctx context.Context, phoneNumber string) (*model.PendingVerification, error) {
	if m.sendCodeFn != nil {
		return m.sendCodeFn(ctx, phoneNumber)
	}
	return &model.PendingVerification{ID: "v-1", PhoneNumber: phoneNumber, ExpiresAt: time.Now().Add(5 * time.Minute)}, nil
}

func (m *mockAuthService) ConfirmCode(ctx context.Context, verificationID, code string) (*model.IdentityHandle, error) {
	if m.confirmCodeFn != nil {
		return m.confirmCodeFn(ctx, verificationID, code)
	}
	return &model.IdentityHandle{ID: "uid-1"}, nil
}

func (m *mockAuthService) SignOut(ctx context.Context) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx)
	}
	return nil
}

type mockProfileService struct {
	currentFn     func(ctx context.Context) (*model.UserProfile, error)
	updateFn      func(ctx context.Context, in profile.UpdateInput) (*model.UserProfile, error)
	connectionsFn func(ctx context.Context) ([]*model.UserProfile, error)
}

var _ ProfileServiceInterface = (*mockProfileService)(nil)

func (m *mockProfileService) Current(ctx context.Context) (*model.UserProfile, error) {
	if m.currentFn != nil {
		return m.currentFn(ctx)
	}
	return nil, model.NewUnauthenticatedError()
}

func (m *mockProfileService) Update(ctx context.Context, in profile.UpdateInput) (*model.UserProfile, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, in)
	}
	return nil, model.NewUnauthenticatedError()
}

func (m *mockProfileService) Connections(ctx context.Context) ([]*model.UserProfile, error) {
	if m.connectionsFn != nil {
		return m.connectionsFn(ctx)
	}
	return nil, nil
}

// fakeSession はSessionSourceのテスト実装。Publishで購読者に状態を配信する。
type fakeSession struct {
	mu    sync.Mutex
	state model.SessionState
	subs  []chan model.SessionState
}

var _ SessionSource = (*fakeSession)(nil)

func newFakeSession(state model.SessionState) *fakeSession {
	return &fakeSession{state: state}
}

func (f *fakeSession) Snapshot() model.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone()
}

func (f *fakeSession) Subscribe() (<-chan model.SessionState, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan model.SessionState, 8)
	ch <- f.state.Clone()
	f.subs = append(f.subs, ch)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, s := range f.subs {
				if s == ch {
					f.subs = append(f.subs[:i], f.subs[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
}

func (f *fakeSession) Publish(state model.SessionState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	for _, ch := range f.subs {
		ch <- state.Clone()
	}
}

func (f *fakeSession) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func authenticatedState(id string) model.SessionState {
	return model.SessionState{
		Status:     model.SessionAuthenticated,
		Profile:    &model.UserProfile{ID: id, PhoneNumber: "+12125550123", FirstName: "Mary", LastName: "Smith"},
		Generation: 3,
	}
}

func newTestRouter(t *testing.T, deps *RouterDeps) http.Handler {
	t.Helper()
	if deps.Session == nil {
		deps.Session = newFakeSession(model.SessionState{Status: model.SessionUnauthenticated})
	}
	if deps.AuthService == nil {
		deps.AuthService = &mockAuthService{}
	}
	if deps.ProfileService == nil {
		deps.ProfileService = &mockProfileService{}
	}
	if deps.RateLimiter == nil {
		rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
		t.Cleanup(rl.Stop)
		deps.RateLimiter = rl
	}
	if deps.RetryAfter == 0 {
		deps.RetryAfter = time.Second
	}
	return NewRouter(deps)
}

func jsonRequest(method, target, body string) *http.Request {
	req, _ := http.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("Content-Type", "application/json")
	return req
}
