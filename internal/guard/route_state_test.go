package guard

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/simplyconnect/internal/model"
)

func TestRouteState_Replace(t *testing.T) {
	s := NewRouteState(HomeRoute)
	if s.CurrentRoute() != HomeRoute {
		t.Fatalf("CurrentRoute() = %q, want %q", s.CurrentRoute(), HomeRoute)
	}
	s.Replace(LoginRoute)
	if s.CurrentRoute() != LoginRoute {
		t.Errorf("CurrentRoute() = %q, want %q", s.CurrentRoute(), LoginRoute)
	}
}

func TestRouteState_FollowsWatcher(t *testing.T) {
	ch := make(chan model.SessionState, 4)
	routes := NewRouteState(HomeRoute)
	w := NewWatcher(&chanSource{ch: ch}, routes, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	ch <- model.SessionState{Status: model.SessionUnauthenticated}
	waitRoute(t, routes, LoginRoute)

	ch <- model.SessionState{Status: model.SessionAuthenticated, Profile: &model.UserProfile{ID: "p-1"}}
	waitRoute(t, routes, HomeRoute)

	cancel()
	<-done
}

func waitRoute(t *testing.T, s *RouteState, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.CurrentRoute() != want {
		if time.Now().After(deadline) {
			t.Fatalf("route = %q, want %q", s.CurrentRoute(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
