// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 登录方式
const (
	ProviderEmail     = "email"
	ProviderGoogle    = "google"
	ProviderAnonymous = "anonymous"
)

// 角色
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User 对应于数据库中的 'users' 表，即认证账号。
// 匿名用户没有 Email 与密码。
type User struct {
	ID              string    `gorm:"type:char(36);primaryKey" json:"id"`
	Email           *string   `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	Password        string    `gorm:"type:varchar(255)" json:"-"`
	Provider        string    `gorm:"type:varchar(32);not null;default:'email'" json:"provider"`
	ProviderSubject *string   `gorm:"type:varchar(255);uniqueIndex" json:"-"`
	Role            string    `gorm:"type:varchar(16);not null;default:'USER'" json:"role"`
	IsAnonymous     bool      `gorm:"not null;default:false" json:"isAnonymous"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}

// EmailValue 返回邮箱，匿名用户返回空串。
func (u *User) EmailValue() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}
