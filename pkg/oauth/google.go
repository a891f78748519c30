// Package oauth 校验第三方身份提供方签发的 ID token。
package oauth

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

const ProviderGoogle = "google"

var (
	ErrUnsupportedProvider = errors.New("unsupported oauth provider")
	ErrNotConfigured       = errors.New("oauth provider not configured")
)

// Identity 是从 ID token 中解析出的用户信息。
type Identity struct {
	Provider string
	Subject  string
	Email    string
	Name     string
}

// Verifier 校验 ID token 并返回身份信息。
type Verifier interface {
	Verify(ctx context.Context, provider, token string) (*Identity, error)
}

type googleVerifier struct {
	clientID string
	validate func(ctx context.Context, token, audience string) (*idtoken.Payload, error)
}

// NewGoogleVerifier 创建 Google ID token 校验器，clientID 为空时所有校验都返回 ErrNotConfigured。
func NewGoogleVerifier(clientID string) Verifier {
	return &googleVerifier{clientID: clientID, validate: idtoken.Validate}
}

func (v *googleVerifier) Verify(ctx context.Context, provider, token string) (*Identity, error) {
	if provider != ProviderGoogle {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	if v.clientID == "" {
		return nil, ErrNotConfigured
	}
	payload, err := v.validate(ctx, token, v.clientID)
	if err != nil {
		return nil, fmt.Errorf("invalid google id token: %w", err)
	}

	email, _ := payload.Claims["email"].(string)
	name, _ := payload.Claims["name"].(string)
	return &Identity{
		Provider: ProviderGoogle,
		Subject:  payload.Subject,
		Email:    email,
		Name:     name,
	}, nil
}
