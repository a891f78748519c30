package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"companion-go/internal/model"
	"companion-go/internal/repository"
	"companion-go/pkg/events"
	"companion-go/pkg/hash"
	"companion-go/pkg/log"
	"companion-go/pkg/oauth"
	"companion-go/pkg/token"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const minPasswordLen = 6

// SessionView 是会话恢复接口返回的内容，不含 token。
type SessionView struct {
	User      *model.User `json:"user"`
	SessionID string      `json:"session_id"`
	ExpiresAt time.Time   `json:"expires_at"`
	// Seq 为该会话签发或最近一次刷新时的事件序号，客户端据此与推送事件比较先后
	Seq uint64 `json:"seq"`
}

// UserUpdate 描述 PUT /user 的可变字段，nil 表示不修改。
type UserUpdate struct {
	Email    *string
	Password *string
}

// AuthService 接口定义了认证相关的业务操作。
type AuthService interface {
	SignUp(ctx context.Context, email, password string) (*events.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*events.Session, error)
	SignInAnonymously(ctx context.Context) (*events.Session, error)
	SignInWithIDToken(ctx context.Context, provider, idToken string) (*events.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*events.Session, error)
	// Authenticate 校验 access token 并返回用户，已吊销的会话视为未认证。
	Authenticate(ctx context.Context, accessToken string) (*model.User, *token.CustomClaims, error)
	CurrentSession(ctx context.Context, user *model.User, claims *token.CustomClaims) (*SessionView, error)
	// SignOut 返回本次 SIGNED_OUT 事件的序号。
	SignOut(ctx context.Context, claims *token.CustomClaims) (uint64, error)
	UpdateUser(ctx context.Context, user *model.User, claims *token.CustomClaims, upd UserUpdate) (*events.Session, error)
}

type authService struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	jwtManager  *token.JWTManager
	verifier    oauth.Verifier
	publisher   EventPublisher
	now         func() time.Time
}

// NewAuthService 创建一个新的 AuthService 实例。
func NewAuthService(userRepo repository.UserRepository, sessionRepo repository.SessionRepository, jwtManager *token.JWTManager, verifier oauth.Verifier, publisher EventPublisher) AuthService {
	return &authService{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		jwtManager:  jwtManager,
		verifier:    verifier,
		publisher:   publisher,
		now:         time.Now,
	}
}

// SignUp 注册邮箱账号并直接登录。
func (s *authService) SignUp(ctx context.Context, email, password string) (*events.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}

	_, err = s.userRepo.FindByEmail(email)
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		ID:       uuid.NewString(),
		Email:    &email,
		Password: hashedPassword,
		Provider: model.ProviderEmail,
		Role:     model.RoleUser,
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}
	log.Infof("[AuthService] 新用户注册, userID: %s", user.ID)

	return s.issue(ctx, user, uuid.NewString(), events.SignedIn)
}

// SignInWithPassword 校验邮箱密码并签发新会话。
func (s *authService) SignInWithPassword(ctx context.Context, email, password string) (*events.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := s.userRepo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.Password == "" || !hash.CheckPasswordHash(password, user.Password) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, user, uuid.NewString(), events.SignedIn)
}

// SignInAnonymously 创建一个匿名账号并登录。
func (s *authService) SignInAnonymously(ctx context.Context) (*events.Session, error) {
	user := &model.User{
		ID:          uuid.NewString(),
		Provider:    model.ProviderAnonymous,
		Role:        model.RoleUser,
		IsAnonymous: true,
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}
	return s.issue(ctx, user, uuid.NewString(), events.SignedIn)
}

// SignInWithIDToken 使用第三方 ID token 登录，首次登录时创建账号。
func (s *authService) SignInWithIDToken(ctx context.Context, provider, idToken string) (*events.Session, error) {
	identity, err := s.verifier.Verify(ctx, provider, idToken)
	if err != nil {
		log.Warnf("[AuthService] ID token 校验失败, provider: %s, error: %v", provider, err)
		if errors.Is(err, oauth.ErrUnsupportedProvider) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, ErrInvalidCredentials
	}

	user, err := s.userRepo.FindByProviderSubject(identity.Provider, identity.Subject)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = &model.User{
			ID:              uuid.NewString(),
			Provider:        identity.Provider,
			ProviderSubject: &identity.Subject,
			Role:            model.RoleUser,
		}
		if identity.Email != "" {
			// 邮箱已被其他账号占用时只记录 subject
			if _, ferr := s.userRepo.FindByEmail(strings.ToLower(identity.Email)); errors.Is(ferr, gorm.ErrRecordNotFound) {
				email := strings.ToLower(identity.Email)
				user.Email = &email
			}
		}
		if err := s.userRepo.Create(user); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return s.issue(ctx, user, uuid.NewString(), events.SignedIn)
}

// Refresh 用 refresh token 换取同一会话的新 token 对。
func (s *authService) Refresh(ctx context.Context, refreshToken string) (*events.Session, error) {
	claims, err := s.jwtManager.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	revoked, err := s.sessionRepo.IsRevoked(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrUnauthenticated
	}
	user, err := s.userRepo.FindByID(claims.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	return s.issue(ctx, user, claims.SessionID, events.TokenRefreshed)
}

// Authenticate 校验 access token。
func (s *authService) Authenticate(ctx context.Context, accessToken string) (*model.User, *token.CustomClaims, error) {
	claims, err := s.jwtManager.VerifyToken(accessToken)
	if err != nil {
		return nil, nil, ErrUnauthenticated
	}
	revoked, err := s.sessionRepo.IsRevoked(ctx, claims.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if revoked {
		return nil, nil, ErrUnauthenticated
	}
	user, err := s.userRepo.FindByID(claims.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrUnauthenticated
		}
		return nil, nil, err
	}
	return user, claims, nil
}

// CurrentSession 返回当前会话的视图。序号取自 token 签发时的事件序号，
// 而不是读取时刻的全局序号，否则先发出的恢复请求可能压过之后的登录。
func (s *authService) CurrentSession(_ context.Context, user *model.User, claims *token.CustomClaims) (*SessionView, error) {
	view := &SessionView{User: user, SessionID: claims.SessionID, Seq: claims.Seq}
	if claims.ExpiresAt != nil {
		view.ExpiresAt = claims.ExpiresAt.Time
	}
	return view, nil
}

// SignOut 吊销会话并广播 SIGNED_OUT。
func (s *authService) SignOut(ctx context.Context, claims *token.CustomClaims) (uint64, error) {
	if err := s.sessionRepo.Revoke(ctx, claims.SessionID, s.jwtManager.RefreshTokenTTL()); err != nil {
		return 0, err
	}
	seq, err := s.sessionRepo.NextSeq(ctx)
	if err != nil {
		return 0, err
	}
	s.publish(ctx, events.AuthEvent{
		Seq:        seq,
		Type:       events.SignedOut,
		UserID:     claims.UserID,
		SessionID:  claims.SessionID,
		OccurredAt: s.now(),
	})
	return seq, nil
}

// UpdateUser 修改邮箱或密码。匿名账号设置邮箱和密码后转为正式账号。
func (s *authService) UpdateUser(ctx context.Context, user *model.User, claims *token.CustomClaims, upd UserUpdate) (*events.Session, error) {
	if upd.Email == nil && upd.Password == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}

	if upd.Email != nil {
		email, err := normalizeEmail(*upd.Email)
		if err != nil {
			return nil, err
		}
		if email != user.EmailValue() {
			existing, err := s.userRepo.FindByEmail(email)
			if err == nil && existing.ID != user.ID {
				return nil, ErrEmailTaken
			}
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
			user.Email = &email
		}
	}
	if upd.Password != nil {
		if len(*upd.Password) < minPasswordLen {
			return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
		}
		hashed, err := hash.HashPassword(*upd.Password)
		if err != nil {
			return nil, err
		}
		user.Password = hashed
	}

	if user.IsAnonymous {
		if user.Email == nil || user.Password == "" {
			return nil, fmt.Errorf("%w: anonymous accounts need both email and password to upgrade", ErrInvalidInput)
		}
		user.IsAnonymous = false
		user.Provider = model.ProviderEmail
	}

	if err := s.userRepo.Update(user); err != nil {
		return nil, err
	}
	return s.issue(ctx, user, claims.SessionID, events.UserUpdated)
}

// issue 分配事件序号、签发 token 并广播事件。
func (s *authService) issue(ctx context.Context, user *model.User, sessionID string, kind events.AuthEventType) (*events.Session, error) {
	seq, err := s.sessionRepo.NextSeq(ctx)
	if err != nil {
		return nil, err
	}

	sub := token.Subject{UserID: user.ID, SessionID: sessionID, Role: user.Role, Anonymous: user.IsAnonymous, Seq: seq}
	accessToken, expiresAt, err := s.jwtManager.GenerateToken(sub)
	if err != nil {
		return nil, err
	}
	refreshToken, _, err := s.jwtManager.GenerateRefreshToken(sub)
	if err != nil {
		return nil, err
	}

	session := &events.Session{
		UserID:       user.ID,
		SessionID:    sessionID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		Email:        user.EmailValue(),
		IsAnonymous:  user.IsAnonymous,
		Seq:          seq,
	}
	s.publish(ctx, events.AuthEvent{
		Seq:        seq,
		Type:       kind,
		UserID:     user.ID,
		SessionID:  sessionID,
		Session:    session,
		OccurredAt: s.now(),
	})
	return session, nil
}

// publish 广播失败只记录日志，不影响登录本身。
func (s *authService) publish(ctx context.Context, ev events.AuthEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.Errorf("[AuthService] 广播认证事件失败, type: %s, seq: %d, error: %v", ev.Type, ev.Seq, err)
	}
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return email, nil
}
