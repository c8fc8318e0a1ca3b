package guard

import "sync"

// RouteState は表示中のルートを保持するNavigator。
// 画面を持たないクライアント向けに、ガードが決めたルートをHTTPで公開するために使う。
type RouteState struct {
	mu    sync.RWMutex
	route string
}

var _ Navigator = (*RouteState)(nil)

// NewRouteState は初期ルートを指定してRouteStateを生成する。
func NewRouteState(initial string) *RouteState {
	return &RouteState{route: initial}
}

// CurrentRoute は現在のルートを返す。
func (s *RouteState) CurrentRoute() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.route
}

// Replace はルートを置き換える。
func (s *RouteState) Replace(route string) {
	s.mu.Lock()
	s.route = route
	s.mu.Unlock()
}
