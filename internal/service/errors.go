package service

import "errors"

// 业务层通用错误，handler 根据它们映射 HTTP 状态码。
var (
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrUpstream           = errors.New("upstream failure")
)
