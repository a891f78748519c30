package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// GenderOther 是保留的性别取值，表示非二元或其他细分类别，细分写在 GenderDetail 中。
const GenderOther = "other"

// UserProfile 对应于 'profiles' 表，保存引导流程收集的用户资料。
// ID 必须等于所属会话的用户 ID。
type UserProfile struct {
	ID                  string     `gorm:"type:char(36);primaryKey" json:"id"`
	Name                string     `gorm:"type:varchar(100)" json:"name"`
	Birthdate           *Date      `gorm:"type:date" json:"birthdate"`
	Gender              string     `gorm:"type:varchar(32)" json:"gender"`
	GenderDetail        string     `gorm:"type:varchar(64)" json:"gender_detail,omitempty"`
	OnboardingCompleted bool       `gorm:"not null;default:false" json:"onboarding_completed"`
	HasSeenWelcome      bool       `gorm:"not null;default:false" json:"has_seen_welcome"`
	Goals               StringList `gorm:"type:json" json:"goals"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (UserProfile) TableName() string {
	return "profiles"
}

// Normalize 规整可见字段：生日截为日历日期，性别小写，目标去空去重。
func (p *UserProfile) Normalize() {
	if p.Birthdate != nil {
		d := NewDate(p.Birthdate.Time())
		if d.IsZero() {
			p.Birthdate = nil
		} else {
			p.Birthdate = &d
		}
	}
	p.Name = strings.TrimSpace(p.Name)
	p.Gender = strings.ToLower(strings.TrimSpace(p.Gender))
	if p.Gender != GenderOther {
		p.GenderDetail = ""
	}
	seen := make(map[string]struct{}, len(p.Goals))
	goals := make(StringList, 0, len(p.Goals))
	for _, g := range p.Goals {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		goals = append(goals, g)
	}
	p.Goals = goals
}

// SameVisibleFields 比较除时间戳以外的字段。
func (p *UserProfile) SameVisibleFields(other *UserProfile) bool {
	if p == nil || other == nil {
		return p == other
	}
	if (p.Birthdate == nil) != (other.Birthdate == nil) {
		return false
	}
	if p.Birthdate != nil && !p.Birthdate.Equal(*other.Birthdate) {
		return false
	}
	if len(p.Goals) != len(other.Goals) {
		return false
	}
	for i := range p.Goals {
		if p.Goals[i] != other.Goals[i] {
			return false
		}
	}
	return p.ID == other.ID &&
		p.Name == other.Name &&
		p.Gender == other.Gender &&
		p.GenderDetail == other.GenderDetail &&
		p.OnboardingCompleted == other.OnboardingCompleted &&
		p.HasSeenWelcome == other.HasSeenWelcome
}

// StringList 以 JSON 数组形式存入数据库。
type StringList []string

// Value 实现 driver.Valuer。
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner。
func (l *StringList) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported string list source %T", src)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, (*[]string)(l))
}
