// Package profile 读取与写入当前用户的资料，所有操作都要求会话身份等于资料 ID。
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"companion-go/internal/client/remote"
	"companion-go/internal/client/session"
	"companion-go/internal/model"
	"companion-go/pkg/log"

	"golang.org/x/sync/singleflight"
)

// ErrUnauthorized 表示没有会话或会话身份与资料 ID 不一致，此时不会发起远程读取。
var ErrUnauthorized = fmt.Errorf("profile: %w", remote.ErrUnauthorized)

// FetchError 包装除“没有记录”以外的远程失败。
type FetchError struct {
	UserID string
	Cause  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch profile %s: %v", e.UserID, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// SessionSource 提供当前会话快照，*session.Store 实现了它。
type SessionSource interface {
	Current() session.State
}

// Fetcher 是资料的读写入口。
type Fetcher struct {
	data     remote.Data
	sessions SessionSource
	group    singleflight.Group
}

// New 创建 Fetcher。
func New(data remote.Data, sessions SessionSource) *Fetcher {
	return &Fetcher{data: data, sessions: sessions}
}

func (f *Fetcher) authorize(userID string) error {
	st := f.sessions.Current()
	if st.Identity == nil || userID == "" || st.Identity.UserID != userID {
		return ErrUnauthorized
	}
	return nil
}

// Get 返回资料，尚未创建时返回 (nil, nil)。同一用户并发的读取会合并为一次远程调用。
func (f *Fetcher) Get(ctx context.Context, userID string) (*model.UserProfile, error) {
	if err := f.authorize(userID); err != nil {
		return nil, err
	}
	v, err, _ := f.group.Do(userID, func() (interface{}, error) {
		p, err := f.data.SelectProfile(ctx, userID)
		if errors.Is(err, remote.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, &FetchError{UserID: userID, Cause: err}
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p, _ := v.(*model.UserProfile)
	return clone(p), nil
}

// Upsert 以 ID 为键整体写入资料，生日在写入前截为日历日期。
func (f *Fetcher) Upsert(ctx context.Context, p *model.UserProfile) (*model.UserProfile, error) {
	if p == nil {
		return nil, errors.New("profile: nil profile")
	}
	if err := f.authorize(p.ID); err != nil {
		return nil, err
	}
	in := clone(p)
	in.Normalize()
	out, err := f.data.UpsertProfile(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("upsert profile %s: %w", p.ID, err)
	}
	return out, nil
}

// HasCompletedOnboarding 从不失败：资料不存在或任何错误都视为未完成引导。
func (f *Fetcher) HasCompletedOnboarding(ctx context.Context, userID string) bool {
	p, err := f.Get(ctx, userID)
	if err != nil {
		log.Warnf("读取资料失败，按未完成引导处理: %v", err)
		return false
	}
	return p != nil && p.OnboardingCompleted
}

// MarkWelcomeSeen 记录用户已看过欢迎页。
func (f *Fetcher) MarkWelcomeSeen(ctx context.Context, userID string) error {
	if err := f.authorize(userID); err != nil {
		return err
	}
	seen := true
	if _, err := f.data.UpdateProfile(ctx, userID, remote.ProfileUpdate{HasSeenWelcome: &seen}); err != nil {
		return fmt.Errorf("mark welcome seen: %w", err)
	}
	return nil
}

// Birthdate 取 t 在其自身时区中的日历日期。
func Birthdate(t time.Time) *model.Date {
	d := model.NewDate(t)
	return &d
}

func clone(p *model.UserProfile) *model.UserProfile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Goals != nil {
		cp.Goals = append(model.StringList(nil), p.Goals...)
	}
	if p.Birthdate != nil {
		d := *p.Birthdate
		cp.Birthdate = &d
	}
	return &cp
}
