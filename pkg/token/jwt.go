// Package token 提供了用于生成和验证 JSON Web Tokens (JWT) 的功能。
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// token 类型，防止 refresh token 被当作 access token 使用
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	// ErrInvalidToken 表示 token 签名、格式或有效期不合法。
	ErrInvalidToken = errors.New("invalid token")
	// ErrWrongTokenType 表示 token 类型与期望不符。
	ErrWrongTokenType = errors.New("unexpected token type")
)

// JWTManager 负责管理 JWT 的生成和验证。
type JWTManager struct {
	secretKey       []byte        // secretKey 用于签名和验证 token 的密钥
	accessTokenDur  time.Duration // accessTokenDur 定义了 access token 的有效期
	refreshTokenDur time.Duration // refreshTokenDur 定义了 refresh token 的有效期
	now             func() time.Time
}

// Subject 描述了 token 所代表的登录会话。
type Subject struct {
	UserID    string
	SessionID string
	Role      string
	Anonymous bool
	// Seq 是签发本 token 的认证事件序号
	Seq uint64
}

// CustomClaims 定义了我们想要在 JWT 中存储的自定义数据。
// 它嵌入了 jwt.RegisteredClaims 以包含标准的 JWT 声明（如过期时间）。
type CustomClaims struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sid"`
	Role      string `json:"role"`
	Anonymous bool   `json:"anon,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Subject 从 claims 中还原会话主体。
func (c *CustomClaims) Subject() Subject {
	return Subject{UserID: c.UserID, SessionID: c.SessionID, Role: c.Role, Anonymous: c.Anonymous, Seq: c.Seq}
}

// NewJWTManager 创建一个新的 JWTManager 实例。
// secret: 用于签名的密钥字符串。
// accessTokenExpireHours: access token 的过期时间（小时）。
// refreshTokenExpireDays: refresh token 的过期时间（天）。
func NewJWTManager(secret string, accessTokenExpireHours, refreshTokenExpireDays int) *JWTManager {
	return &JWTManager{
		secretKey:       []byte(secret),
		accessTokenDur:  time.Hour * time.Duration(accessTokenExpireHours),
		refreshTokenDur: time.Duration(refreshTokenExpireDays) * 24 * time.Hour,
		now:             time.Now,
	}
}

// RefreshTokenTTL 返回 refresh token 的有效期，吊销记录的保留时间与之对齐。
func (m *JWTManager) RefreshTokenTTL() time.Duration {
	return m.refreshTokenDur
}

// GenerateToken 为给定会话生成一个新的 access token，并返回其过期时间。
func (m *JWTManager) GenerateToken(sub Subject) (string, time.Time, error) {
	return m.sign(sub, TypeAccess, m.accessTokenDur)
}

// GenerateRefreshToken 为给定会话生成一个新的 refresh token。
// 它的工作方式与 GenerateToken 类似，但使用更长的过期时间。
func (m *JWTManager) GenerateRefreshToken(sub Subject) (string, time.Time, error) {
	return m.sign(sub, TypeRefresh, m.refreshTokenDur)
}

func (m *JWTManager) sign(sub Subject, tokenType string, ttl time.Duration) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(ttl)
	claims := CustomClaims{
		UserID:    sub.UserID,
		SessionID: sub.SessionID,
		Role:      sub.Role,
		Anonymous: sub.Anonymous,
		Seq:       sub.Seq,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	// 使用 HS256 签名方法创建新的 token 对象
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, expiresAt, nil
}

// VerifyToken 验证 access token。
func (m *JWTManager) VerifyToken(tokenString string) (*CustomClaims, error) {
	return m.verify(tokenString, TypeAccess)
}

// VerifyRefreshToken 验证 refresh token。
func (m *JWTManager) VerifyRefreshToken(tokenString string) (*CustomClaims, error) {
	return m.verify(tokenString, TypeRefresh)
}

func (m *JWTManager) verify(tokenString, wantType string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 检查签名方法是否为 HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// GenerateRandomString generates a random hex string of a given length.
func GenerateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("fallback%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
