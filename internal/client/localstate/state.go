// Package localstate 将客户端会话与本机标记保存在状态目录下的 YAML 文件中。
package localstate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"companion-go/pkg/events"

	"github.com/spf13/viper"
)

const fileName = "state.yaml"

// File 实现 remote.TokenStore 与 chat.VisitFlag。
type File struct {
	mu   sync.Mutex
	path string
	v    *viper.Viper
}

// Open 打开 dir 下的状态文件，不存在时在首次写入时创建。
func Open(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("创建状态目录失败: %w", err)
	}
	path := filepath.Join(dir, fileName)

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetConfigPermissions(0o600)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取状态文件失败: %w", err)
		}
	}
	return &File{path: path, v: v}, nil
}

// Path 返回状态文件路径。
func (f *File) Path() string { return f.path }

func (f *File) write() error {
	if err := f.v.WriteConfigAs(f.path); err != nil {
		return fmt.Errorf("写入状态文件失败: %w", err)
	}
	return nil
}

// Load 返回保存的会话，没有时返回 (nil, nil)。
func (f *File) Load() (*events.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.v.GetString("session.access_token") == "" {
		return nil, nil
	}
	s := &events.Session{
		UserID:       f.v.GetString("session.user_id"),
		SessionID:    f.v.GetString("session.session_id"),
		AccessToken:  f.v.GetString("session.access_token"),
		RefreshToken: f.v.GetString("session.refresh_token"),
		Email:        f.v.GetString("session.email"),
		IsAnonymous:  f.v.GetBool("session.is_anonymous"),
		Seq:          f.v.GetUint64("session.seq"),
	}
	if raw := f.v.GetString("session.expires_at"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("状态文件中的过期时间无效: %w", err)
		}
		s.ExpiresAt = t
	}
	return s, nil
}

// Save 保存会话，nil 等同于 Clear。
func (f *File) Save(s *events.Session) error {
	if s == nil {
		return f.Clear()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setSession(s)
	return f.write()
}

// setSession 逐个覆盖键值，文件中读入的旧值不会透出。
func (f *File) setSession(s *events.Session) {
	expires := ""
	if !s.ExpiresAt.IsZero() {
		expires = s.ExpiresAt.Format(time.RFC3339Nano)
	}
	f.v.Set("session.user_id", s.UserID)
	f.v.Set("session.session_id", s.SessionID)
	f.v.Set("session.access_token", s.AccessToken)
	f.v.Set("session.refresh_token", s.RefreshToken)
	f.v.Set("session.expires_at", expires)
	f.v.Set("session.email", s.Email)
	f.v.Set("session.is_anonymous", s.IsAnonymous)
	f.v.Set("session.seq", s.Seq)
}

// Clear 删除保存的会话，保留其他标记。
func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setSession(&events.Session{})
	return f.write()
}

// HasVisitedChat 报告本机是否进入过聊天页。
func (f *File) HasVisitedChat() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.v.GetBool("has_visited_chat")
}

// MarkVisitedChat 记录本机已进入过聊天页。
func (f *File) MarkVisitedChat() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.v.Set("has_visited_chat", true)
	return f.write()
}
