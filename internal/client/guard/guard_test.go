package guard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"companion-go/internal/client/session"
	"companion-go/internal/model"
)

// fakeSessions 是可由测试推送快照的会话来源。
type fakeSessions struct {
	mu    sync.Mutex
	state session.State
	subs  []func(session.State)
	ready chan struct{}
}

func newFakeSessions(st session.State) *fakeSessions {
	f := &fakeSessions{state: st, ready: make(chan struct{})}
	if !st.IsLoading {
		close(f.ready)
	}
	return f
}

func (f *fakeSessions) Current() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSessions) Ready() <-chan struct{} { return f.ready }

func (f *fakeSessions) Subscribe(fn func(session.State)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
	return func() {}
}

func (f *fakeSessions) publish(st session.State) {
	f.mu.Lock()
	wasLoading := f.state.IsLoading
	f.state = st
	subs := append(([]func(session.State))(nil), f.subs...)
	f.mu.Unlock()
	if wasLoading && !st.IsLoading {
		close(f.ready)
	}
	for _, fn := range subs {
		fn(st)
	}
}

func signedIn(userID string) session.State {
	return session.State{Identity: &session.Identity{UserID: userID}, Token: "t-" + userID}
}

type fakeOnboarding struct {
	mu        sync.Mutex
	completed map[string]bool
	gates     map[string]chan struct{}
	calls     atomic.Int32
	upserts   []model.UserProfile
	upsertErr error
}

func newFakeOnboarding(completed map[string]bool) *fakeOnboarding {
	return &fakeOnboarding{completed: completed, gates: make(map[string]chan struct{})}
}

func (f *fakeOnboarding) HasCompletedOnboarding(ctx context.Context, userID string) bool {
	f.calls.Add(1)
	f.mu.Lock()
	gate := f.gates[userID]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed[userID]
}

func (f *fakeOnboarding) Upsert(ctx context.Context, p *model.UserProfile) (*model.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.upserts = append(f.upserts, *p)
	f.completed[p.ID] = p.OnboardingCompleted
	out := *p
	return &out, nil
}

func newGuard(t *testing.T, sessions Sessions, profiles Onboarding) *Guard {
	t.Helper()
	g := New(sessions, profiles, Options{LocalWait: 2 * time.Second})
	g.Start()
	t.Cleanup(g.Close)
	return g
}

func TestNavigateReachesExactlyOneTerminalState(t *testing.T) {
	cases := []struct {
		name      string
		session   session.State
		completed bool
		location  string
		want      Decision
	}{
		{
			name:     "no session",
			session:  session.State{},
			location: "/chat",
			want:     Decision{State: Unauthenticated, Action: RedirectLogin, Location: "/login?next=%2Fchat"},
		},
		{
			name:      "onboarded",
			session:   signedIn("u-1"),
			completed: true,
			location:  "/chat",
			want:      Decision{State: Ready, Action: Render, Location: "/chat"},
		},
		{
			name:     "not onboarded",
			session:  signedIn("u-1"),
			location: "/chat",
			want:     Decision{State: NeedsOnboarding, Action: RedirectOnboarding, Location: "/onboarding"},
		},
		{
			name:     "not onboarded on onboarding route",
			session:  signedIn("u-1"),
			location: "/onboarding?step=2",
			want:     Decision{State: NeedsOnboarding, Action: Render, Location: "/onboarding?step=2"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newGuard(t, newFakeSessions(tc.session), newFakeOnboarding(map[string]bool{"u-1": tc.completed}))
			got := g.Navigate(context.Background(), tc.location)
			if got != tc.want {
				t.Errorf("expected %+v, got %+v", tc.want, got)
			}
			if s := g.State(); s != tc.want.State {
				t.Errorf("expected state %s, got %s", tc.want.State, s)
			}
		})
	}
}

func TestOnboardingCheckedOncePerIdentity(t *testing.T) {
	sessions := newFakeSessions(signedIn("u-1"))
	profiles := newFakeOnboarding(map[string]bool{"u-1": true, "u-2": false})
	g := newGuard(t, sessions, profiles)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d := g.Navigate(ctx, "/chat"); d.State != Ready {
			t.Fatalf("navigation %d: expected READY, got %s", i, d.State)
		}
	}
	// 刷新 token 不改变身份
	refreshed := signedIn("u-1")
	refreshed.Token = "t-refreshed"
	sessions.publish(refreshed)
	g.Navigate(ctx, "/metrics")

	if n := profiles.calls.Load(); n != 1 {
		t.Errorf("expected 1 onboarding check, got %d", n)
	}

	sessions.publish(signedIn("u-2"))
	if d := g.Navigate(ctx, "/chat"); d.State != NeedsOnboarding {
		t.Errorf("expected NEEDS_ONBOARDING for u-2, got %s", d.State)
	}
	if n := profiles.calls.Load(); n != 2 {
		t.Errorf("expected a second check after identity change, got %d", n)
	}
}

func TestStaleCheckForPreviousIdentityIsDiscarded(t *testing.T) {
	sessions := newFakeSessions(session.State{IsLoading: true})
	profiles := newFakeOnboarding(map[string]bool{"u-1": false, "u-2": true})
	gate := make(chan struct{})
	profiles.gates["u-1"] = gate
	g := newGuard(t, sessions, profiles)

	sessions.publish(signedIn("u-1"))
	sessions.publish(signedIn("u-2"))
	if d := g.Navigate(context.Background(), "/chat"); d.State != Ready {
		t.Fatalf("expected READY for u-2, got %s", d.State)
	}

	close(gate)
	deadline := time.Now().Add(time.Second)
	for profiles.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if s := g.State(); s != Ready {
		t.Errorf("expected stale u-1 result to be discarded, got %s", s)
	}
}

func TestReadyToUnauthenticatedOnSignOut(t *testing.T) {
	sessions := newFakeSessions(signedIn("u-1"))
	g := newGuard(t, sessions, newFakeOnboarding(map[string]bool{"u-1": true}))

	if d := g.Navigate(context.Background(), "/chat"); d.State != Ready {
		t.Fatalf("expected READY, got %s", d.State)
	}
	sessions.publish(session.State{})
	d := g.Navigate(context.Background(), "/chat")
	if d.State != Unauthenticated || d.Action != RedirectLogin {
		t.Errorf("expected redirect to login, got %+v", d)
	}
}

func TestCompleteOnboardingMovesToReady(t *testing.T) {
	sessions := newFakeSessions(signedIn("u-1"))
	profiles := newFakeOnboarding(map[string]bool{"u-1": false})
	g := newGuard(t, sessions, profiles)
	ctx := context.Background()

	if d := g.Navigate(ctx, "/chat"); d.State != NeedsOnboarding {
		t.Fatalf("expected NEEDS_ONBOARDING, got %s", d.State)
	}

	profiles.upsertErr = errors.New("network down")
	if _, err := g.CompleteOnboarding(ctx, &model.UserProfile{ID: "u-1", Name: "Ada"}); err == nil {
		t.Fatal("expected upsert error")
	}
	if s := g.State(); s != NeedsOnboarding {
		t.Errorf("expected state unchanged after failed submission, got %s", s)
	}

	profiles.upsertErr = nil
	if _, err := g.CompleteOnboarding(ctx, &model.UserProfile{ID: "u-1", Name: "Ada"}); err != nil {
		t.Fatalf("CompleteOnboarding failed: %v", err)
	}
	if d := g.Navigate(ctx, "/chat"); d.State != Ready || d.Action != Render {
		t.Errorf("expected READY render, got %+v", d)
	}
	if len(profiles.upserts) != 1 || !profiles.upserts[0].OnboardingCompleted {
		t.Errorf("expected upsert with onboarding_completed=true, got %+v", profiles.upserts)
	}
}

func TestCheckingIsBoundedByLocalWait(t *testing.T) {
	sessions := newFakeSessions(session.State{IsLoading: true})
	g := New(sessions, newFakeOnboarding(map[string]bool{}), Options{LocalWait: 30 * time.Millisecond})
	g.Start()
	defer g.Close()

	start := time.Now()
	d := g.Navigate(context.Background(), "/chat")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected navigation to return near the local wait, took %s", elapsed)
	}
	if !d.Degraded || d.State != Unauthenticated || d.Action != RedirectLogin {
		t.Errorf("expected degraded redirect to login, got %+v", d)
	}
	if s := g.State(); s != Checking {
		t.Errorf("expected guard to stay CHECKING until the store resolves, got %s", s)
	}
}

func TestPendingCheckDegradesToOnboarding(t *testing.T) {
	sessions := newFakeSessions(signedIn("u-1"))
	profiles := newFakeOnboarding(map[string]bool{"u-1": true})
	gate := make(chan struct{})
	defer close(gate)
	profiles.gates["u-1"] = gate
	g := New(sessions, profiles, Options{LocalWait: 30 * time.Millisecond})
	g.Start()
	defer g.Close()

	d := g.Navigate(context.Background(), "/chat")
	if !d.Degraded || d.State != NeedsOnboarding || d.Action != RedirectOnboarding {
		t.Errorf("expected degraded redirect to onboarding, got %+v", d)
	}
}
