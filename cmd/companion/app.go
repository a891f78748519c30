package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"companion-go/internal/client/guard"
	"companion-go/internal/client/localstate"
	"companion-go/internal/client/profile"
	"companion-go/internal/client/remote"
	"companion-go/internal/client/session"
	"companion-go/internal/config"
	"companion-go/internal/model"
	"companion-go/pkg/log"
)

// app 持有一次命令执行所需的客户端组件，依赖逐层显式传入。
type app struct {
	cfg      config.ClientConfig
	state    *localstate.File
	remote   *remote.Client
	store    *session.Store
	profiles *profile.Fetcher
	guard    *guard.Guard
}

// loadApp 读取配置、恢复会话并等待会话状态就绪。
func loadApp(ctx context.Context, configPath string, out io.Writer) (*app, error) {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return nil, err
	}
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)

	state, err := localstate.Open(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	rc := remote.NewClient(cfg.BaseURL, cfg.RequestTimeout, state)
	store := session.New(rc, session.Options{
		RestoreTimeout: cfg.RestoreTimeout,
		RefreshMargin:  cfg.RefreshMargin,
		Notify: func(n session.Notification) {
			_, _ = fmt.Fprintln(out, formatNotification(n))
		},
	})
	store.Start(ctx)

	select {
	case <-store.Ready():
	case <-ctx.Done():
		store.Close()
		rc.Close()
		return nil, ctx.Err()
	}

	profiles := profile.New(rc, store)
	g := guard.New(store, profiles, guard.Options{
		LoginRoute:      cfg.LoginRoute,
		OnboardingRoute: cfg.OnboardingRoute,
		LocalWait:       cfg.GuardLocalWait,
	})
	g.Start()

	return &app{cfg: cfg, state: state, remote: rc, store: store, profiles: profiles, guard: g}, nil
}

func (a *app) Close() {
	a.guard.Close()
	a.store.Close()
	a.remote.Close()
	log.Sync()
}

func formatNotification(n session.Notification) string {
	who := "anonymous user"
	if n.Identity != nil && n.Identity.Email != "" {
		who = n.Identity.Email
	} else if n.Identity != nil && !n.Identity.IsAnonymous {
		who = n.Identity.UserID
	}
	switch n.Kind {
	case session.NotifySignedIn:
		return "signed in as " + who
	case session.NotifySignedOut:
		return "signed out"
	}
	return string(n.Kind)
}

func formatDecision(d guard.Decision) string {
	s := fmt.Sprintf("%s: %s %s", d.State, d.Action, d.Location)
	if d.Degraded {
		s += " (timed out waiting for session)"
	}
	return s
}

// onboardingInput 是 onboard 命令的参数。
type onboardingInput struct {
	Name         string
	Birthdate    string
	Gender       string
	GenderDetail string
	Goals        []string
}

func (in onboardingInput) profile(userID string) (*model.UserProfile, error) {
	p := &model.UserProfile{
		ID:           userID,
		Name:         in.Name,
		Gender:       in.Gender,
		GenderDetail: in.GenderDetail,
		Goals:        model.StringList(in.Goals),
	}
	if strings.TrimSpace(in.Birthdate) != "" {
		d, err := model.ParseDate(in.Birthdate)
		if err != nil {
			return nil, err
		}
		p.Birthdate = profile.Birthdate(d.Time())
	}
	return p, nil
}

func timeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
