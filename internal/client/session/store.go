// Package session 维护客户端“当前是谁在登录”的唯一事实来源。
//
// 启动时的恢复检查与认证事件订阅并发进行，每次更新都带有服务端的全局事件序号，
// 序号严格小于已应用序号的更新会被丢弃。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"companion-go/internal/client/remote"
	"companion-go/pkg/events"
	"companion-go/pkg/log"
)

const (
	defaultRestoreTimeout = 30 * time.Second
	defaultRefreshMargin  = time.Minute
	refreshRetryInterval  = 10 * time.Second
	autoRefreshTimeout    = 30 * time.Second
)

// Identity 是已认证的用户。
type Identity struct {
	UserID      string
	Email       string
	IsAnonymous bool
}

// State 是 Store 对外暴露的只读快照。
type State struct {
	Identity  *Identity
	Token     string
	ExpiresAt time.Time
	IsLoading bool
}

// NotificationKind 是面向用户的提示类型。
type NotificationKind string

const (
	NotifySignedIn  NotificationKind = "signed_in"
	NotifySignedOut NotificationKind = "signed_out"
)

// Notification 仅在登录与登出时产生。
type Notification struct {
	Kind     NotificationKind
	Identity *Identity
}

// Options 配置 Store。
type Options struct {
	// RestoreTimeout 是恢复检查的绝对上限，超时后按“无会话”结束加载。
	RestoreTimeout time.Duration
	// RefreshMargin 是在过期前多久自动刷新。
	RefreshMargin time.Duration
	Notify        func(Notification)
	Now           func() time.Time
}

type source int

const (
	fromRestore source = iota
	fromEvent
	fromLocal
)

type update struct {
	seq       uint64
	atCurrent bool
	session   *events.Session
	kind      events.AuthEventType
	src       source
}

// Store 是会话状态的所有者。
type Store struct {
	auth remote.Auth
	opts Options

	mu           sync.Mutex
	session      *events.Session
	seq          uint64
	loading      bool
	ready        chan struct{}
	restored     chan struct{}
	started      bool
	closed       bool
	subs         map[int]func(State)
	nextSub      int
	// 快照与提示经由唯一的投递者按应用顺序送出
	delivering bool
	pending    *State
	notes      []Notification
	unsubscribe  func()
	cancel       context.CancelFunc
	refreshTimer *time.Timer
	restoreTimer *time.Timer
}

// New 创建 Store，调用 Start 后才开始恢复与订阅。
func New(auth remote.Auth, opts Options) *Store {
	if opts.RestoreTimeout <= 0 {
		opts.RestoreTimeout = defaultRestoreTimeout
	}
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = defaultRefreshMargin
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		auth:     auth,
		opts:     opts,
		loading:  true,
		ready:    make(chan struct{}),
		restored: make(chan struct{}),
		subs:     make(map[int]func(State)),
	}
}

// Start 订阅认证事件并发起恢复检查，两者并发进行。重复调用无效果。
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	rctx, cancel := context.WithTimeout(ctx, s.opts.RestoreTimeout)
	s.cancel = cancel
	s.restoreTimer = time.AfterFunc(s.opts.RestoreTimeout, s.restoreTimedOut)
	s.mu.Unlock()

	unsubscribe := s.auth.OnAuthStateChange(s.onAuthEvent)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsubscribe()
		return
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	go s.restore(rctx)
}

func (s *Store) restore(ctx context.Context) {
	defer close(s.restored)
	sess, err := s.auth.GetSession(ctx)
	if err != nil {
		log.Warnf("会话恢复失败，按未登录处理: %v", err)
		s.finishLoading()
		return
	}
	var seq uint64
	if sess != nil {
		seq = sess.Seq
	}
	s.apply(update{seq: seq, session: sess, kind: events.InitialSession, src: fromRestore})
}

func (s *Store) restoreTimedOut() {
	s.mu.Lock()
	loading := s.loading
	s.mu.Unlock()
	if loading {
		log.Warnf("会话恢复超过 %s，按未登录处理", s.opts.RestoreTimeout)
		s.finishLoading()
	}
}

func (s *Store) onAuthEvent(ev remote.AuthChangeEvent) {
	s.apply(update{seq: ev.Seq, session: ev.Session, kind: ev.Type, src: fromEvent})
}

// Ready 在 IsLoading 变为 false 时关闭。
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Current 返回当前快照。已过期且未刷新的会话视为不存在。
func (s *Store) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Store) stateLocked() State {
	st := State{IsLoading: s.loading}
	if s.session == nil || s.session.Expired(s.opts.Now()) {
		return st
	}
	st.Identity = identityOf(s.session)
	st.Token = s.session.AccessToken
	st.ExpiresAt = s.session.ExpiresAt
	return st
}

func identityOf(sess *events.Session) *Identity {
	if sess == nil {
		return nil
	}
	return &Identity{UserID: sess.UserID, Email: sess.Email, IsAnonymous: sess.IsAnonymous}
}

// Subscribe 注册状态观察者，返回取消函数。观察者在 Store 的锁外按应用顺序被调用，
// 连续的更新可能合并为最新的一次快照。
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// apply 按序号应用一次更新：严格更旧的更新被丢弃，相同序号允许覆盖。
func (s *Store) apply(u update) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if u.atCurrent {
		u.seq = s.seq
	}

	var note *Notification
	if u.seq < s.seq {
		log.Debugf("丢弃过期的认证更新: type=%s seq=%d newest=%d", u.kind, u.seq, s.seq)
	} else {
		prev := identityOf(s.session)
		s.seq = u.seq
		if u.session != nil {
			cp := *u.session
			s.session = &cp
		} else {
			s.session = nil
		}
		s.scheduleRefreshLocked()
		note = s.transitionLocked(u, prev)
	}
	s.loading = false
	s.closeReadyLocked()
	drain := s.publishLocked(note)
	s.mu.Unlock()

	if drain {
		s.deliver()
	}
}

// publishLocked 记录最新快照与提示。没有投递者时由调用方承担投递，返回 true。
func (s *Store) publishLocked(note *Notification) bool {
	st := s.stateLocked()
	s.pending = &st
	if note != nil {
		s.notes = append(s.notes, *note)
	}
	if s.delivering {
		return false
	}
	s.delivering = true
	return true
}

// deliver 在锁外逐轮送出快照与提示，直到没有新的待投递内容。
// 投递期间到达的更新只替换待投递快照，观察者不会在新状态之后再看到旧状态。
func (s *Store) deliver() {
	s.mu.Lock()
	for s.pending != nil || len(s.notes) > 0 {
		st, notes := s.pending, s.notes
		s.pending, s.notes = nil, nil
		subs := s.subscribersLocked()
		s.mu.Unlock()

		if st != nil {
			for _, fn := range subs {
				fn(*st)
			}
		}
		if s.opts.Notify != nil {
			for _, n := range notes {
				s.opts.Notify(n)
			}
		}
		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
}

// transitionLocked 只有登录与登出事件改变了身份时才产生提示，刷新与恢复不提示。
func (s *Store) transitionLocked(u update, prev *Identity) *Notification {
	if u.src == fromRestore {
		return nil
	}
	next := identityOf(s.session)
	switch u.kind {
	case events.SignedIn:
		if next != nil && (prev == nil || prev.UserID != next.UserID) {
			return &Notification{Kind: NotifySignedIn, Identity: next}
		}
	case events.SignedOut:
		if prev != nil && next == nil {
			return &Notification{Kind: NotifySignedOut, Identity: prev}
		}
	}
	return nil
}

func (s *Store) finishLoading() {
	s.mu.Lock()
	if !s.loading || s.closed {
		s.mu.Unlock()
		return
	}
	s.loading = false
	s.closeReadyLocked()
	drain := s.publishLocked(nil)
	s.mu.Unlock()

	if drain {
		s.deliver()
	}
}

func (s *Store) closeReadyLocked() {
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
}

func (s *Store) subscribersLocked() []func(State) {
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}

func (s *Store) scheduleRefreshLocked() {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	if s.session == nil || s.session.RefreshToken == "" {
		return
	}
	d := s.session.ExpiresAt.Sub(s.opts.Now()) - s.opts.RefreshMargin
	if d < 0 {
		d = 0
	}
	s.refreshTimer = time.AfterFunc(d, s.autoRefresh)
}

func (s *Store) autoRefresh() {
	s.mu.Lock()
	if s.closed || s.session == nil {
		s.mu.Unlock()
		return
	}
	sid := s.session.SessionID
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), autoRefreshTimeout)
	defer cancel()
	err := s.Refresh(ctx)
	if err == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.session == nil || s.session.SessionID != sid {
		return
	}
	if errors.Is(err, remote.ErrUnauthorized) || s.session.Expired(s.opts.Now()) {
		log.Warnf("会话无法刷新，已失效: %v", err)
		go s.apply(update{atCurrent: true, kind: events.SignedOut, src: fromLocal})
		return
	}
	log.Warnf("自动刷新会话失败，%s 后重试: %v", refreshRetryInterval, err)
	s.refreshTimer = time.AfterFunc(refreshRetryInterval, s.autoRefresh)
}

// Refresh 立即刷新会话。
func (s *Store) Refresh(ctx context.Context) error {
	sess, err := s.auth.RefreshSession(ctx)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	s.apply(update{seq: sess.Seq, session: sess, kind: events.TokenRefreshed, src: fromLocal})
	return nil
}

func (s *Store) signedIn(sess *events.Session, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.apply(update{seq: sess.Seq, session: sess, kind: events.SignedIn, src: fromLocal})
	return nil
}

func (s *Store) SignInWithPassword(ctx context.Context, email, password string) error {
	sess, err := s.auth.SignInWithPassword(ctx, email, password)
	return s.signedIn(sess, err, "sign in")
}

func (s *Store) SignUp(ctx context.Context, email, password string) error {
	sess, err := s.auth.SignUp(ctx, email, password)
	return s.signedIn(sess, err, "sign up")
}

func (s *Store) SignInAnonymously(ctx context.Context) error {
	sess, err := s.auth.SignInAnonymously(ctx)
	return s.signedIn(sess, err, "sign in anonymously")
}

func (s *Store) SignInWithOAuth(ctx context.Context, provider, idToken string) error {
	sess, err := s.auth.SignInWithOAuth(ctx, provider, idToken)
	return s.signedIn(sess, err, "sign in with "+provider)
}

// SignOut 请求服务端吊销会话。成功后身份变为不存在；失败时保留原身份并返回错误。
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	signedIn := s.session != nil
	s.mu.Unlock()
	if !signedIn {
		return nil
	}
	if err := s.auth.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	s.apply(update{atCurrent: true, kind: events.SignedOut, src: fromLocal})
	return nil
}

// Close 停止订阅与定时器，之后到达的更新不再生效。
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}
	if s.restoreTimer != nil {
		s.restoreTimer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}
