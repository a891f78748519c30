// Package guard 实现引导门禁与路由守卫的状态机。
package guard

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"companion-go/internal/client/session"
	"companion-go/internal/model"
	"companion-go/pkg/log"
)

const (
	defaultLocalWait = time.Second
	checkTimeout     = 30 * time.Second
)

// State 是守卫的状态。
type State int

const (
	Checking State = iota
	Unauthenticated
	NeedsOnboarding
	Ready
)

func (s State) String() string {
	switch s {
	case Checking:
		return "CHECKING"
	case Unauthenticated:
		return "UNAUTHENTICATED"
	case NeedsOnboarding:
		return "NEEDS_ONBOARDING"
	case Ready:
		return "READY"
	}
	return "UNKNOWN"
}

// Action 是一次导航的处理方式。
type Action int

const (
	Render Action = iota
	RedirectLogin
	RedirectOnboarding
)

func (a Action) String() string {
	switch a {
	case Render:
		return "render"
	case RedirectLogin:
		return "redirect-login"
	case RedirectOnboarding:
		return "redirect-onboarding"
	}
	return "unknown"
}

// Decision 是一次导航的裁决。Location 是最终要展示的路由。
// Degraded 为 true 表示等待超时后按保守默认值裁决。
type Decision struct {
	State    State
	Action   Action
	Location string
	Degraded bool
}

// Sessions 是守卫依赖的会话来源，*session.Store 实现了它。
type Sessions interface {
	Current() session.State
	Ready() <-chan struct{}
	Subscribe(fn func(session.State)) func()
}

// Onboarding 是守卫依赖的资料操作，*profile.Fetcher 实现了它。
type Onboarding interface {
	HasCompletedOnboarding(ctx context.Context, userID string) bool
	Upsert(ctx context.Context, p *model.UserProfile) (*model.UserProfile, error)
}

// Options 配置路由与等待上限。
type Options struct {
	LoginRoute      string
	OnboardingRoute string
	// LocalWait 是 Checking 状态下单次导航的等待上限。
	LocalWait time.Duration
}

// Guard 根据会话与引导状态裁决每次导航。
type Guard struct {
	sessions Sessions
	profiles Onboarding
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	userID      string
	gen         uint64
	changed     chan struct{}
	unsubscribe func()
}

// New 创建守卫，初始状态为 Checking。
func New(sessions Sessions, profiles Onboarding, opts Options) *Guard {
	if opts.LoginRoute == "" {
		opts.LoginRoute = "/login"
	}
	if opts.OnboardingRoute == "" {
		opts.OnboardingRoute = "/onboarding"
	}
	if opts.LocalWait <= 0 {
		opts.LocalWait = defaultLocalWait
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Guard{
		sessions: sessions,
		profiles: profiles,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		state:    Checking,
		changed:  make(chan struct{}),
	}
}

// Start 订阅会话变化。
func (g *Guard) Start() {
	unsubscribe := g.sessions.Subscribe(g.observe)
	g.mu.Lock()
	g.unsubscribe = unsubscribe
	g.mu.Unlock()
	g.observe(g.sessions.Current())
}

// Close 取消订阅，进行中的检查结果将被丢弃。
func (g *Guard) Close() {
	g.mu.Lock()
	g.gen++
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	g.mu.Unlock()
	g.cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// State 返回当前状态。
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Guard) setStateLocked(s State) {
	if g.state == s {
		return
	}
	log.Debugf("guard: %s -> %s", g.state, s)
	g.state = s
	close(g.changed)
	g.changed = make(chan struct{})
}

// observe 处理一次会话快照。引导检查对每个身份只做一次，身份变化时重新检查。
func (g *Guard) observe(st session.State) {
	if st.IsLoading {
		return
	}
	g.mu.Lock()
	if st.Identity == nil {
		if g.userID != "" || g.state != Unauthenticated {
			g.gen++
			g.userID = ""
			g.setStateLocked(Unauthenticated)
		}
		g.mu.Unlock()
		return
	}
	if st.Identity.UserID == g.userID {
		g.mu.Unlock()
		return
	}
	g.gen++
	gen, userID := g.gen, st.Identity.UserID
	g.userID = userID
	g.setStateLocked(Checking)
	g.mu.Unlock()

	go g.check(gen, userID)
}

func (g *Guard) check(gen uint64, userID string) {
	ctx, cancel := context.WithTimeout(g.ctx, checkTimeout)
	defer cancel()
	done := g.profiles.HasCompletedOnboarding(ctx, userID)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen != gen || g.userID != userID {
		log.Debugf("guard: 丢弃过期的引导检查结果, user=%s", userID)
		return
	}
	if done {
		g.setStateLocked(Ready)
	} else {
		g.setStateLocked(NeedsOnboarding)
	}
}

// Navigate 裁决一次到 location 的导航。Checking 状态下最多等待 LocalWait，
// 超时后按已结束加载处理：无身份视为未登录，有身份视为未完成引导。
func (g *Guard) Navigate(ctx context.Context, location string) Decision {
	timer := time.NewTimer(g.opts.LocalWait)
	defer timer.Stop()
	ready := g.sessions.Ready()

	for {
		g.mu.Lock()
		st, changed := g.state, g.changed
		g.mu.Unlock()
		if st != Checking {
			return g.decide(st, location, false)
		}

		select {
		case <-changed:
		case <-ready:
			ready = nil
			g.observe(g.sessions.Current())
		case <-timer.C:
			return g.degraded(location)
		case <-ctx.Done():
			return g.degraded(location)
		}
	}
}

func (g *Guard) degraded(location string) Decision {
	if g.sessions.Current().Identity == nil {
		return g.decide(Unauthenticated, location, true)
	}
	return g.decide(NeedsOnboarding, location, true)
}

func (g *Guard) decide(st State, location string, degraded bool) Decision {
	d := Decision{State: st, Location: location, Degraded: degraded}
	switch st {
	case Unauthenticated:
		d.Action = RedirectLogin
		d.Location = g.opts.LoginRoute + "?next=" + url.QueryEscape(location)
	case NeedsOnboarding:
		if !samePath(location, g.opts.OnboardingRoute) {
			d.Action = RedirectOnboarding
			d.Location = g.opts.OnboardingRoute
		}
	}
	return d
}

func samePath(location, route string) bool {
	if i := strings.IndexAny(location, "?#"); i >= 0 {
		location = location[:i]
	}
	return strings.TrimRight(location, "/") == strings.TrimRight(route, "/")
}

// CompleteOnboarding 提交引导答案并标记完成，成功后状态变为 Ready。
func (g *Guard) CompleteOnboarding(ctx context.Context, p *model.UserProfile) (*model.UserProfile, error) {
	if p == nil {
		return nil, errors.New("guard: nil profile")
	}
	in := *p
	in.OnboardingCompleted = true
	out, err := g.profiles.Upsert(ctx, &in)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.userID == in.ID && g.state != Unauthenticated {
		// 使进行中的检查失效，避免其结果覆盖提交结果
		g.gen++
		g.setStateLocked(Ready)
	}
	return out, nil
}
