package model

import "time"

// Post 对应 'community_posts' 表，即社区讨论主题。
type Post struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	AuthorID   string    `gorm:"type:char(36);index;not null" json:"authorId"`
	AuthorName string    `gorm:"type:varchar(100)" json:"authorName"`
	Topic      string    `gorm:"type:varchar(64);index" json:"topic"`
	Title      string    `gorm:"type:varchar(200);not null" json:"title"`
	Body       string    `gorm:"type:text;not null" json:"body"`
	ReplyCount int       `gorm:"not null;default:0" json:"replyCount"`
	Replies    []Reply   `gorm:"foreignKey:PostID" json:"replies,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Post) TableName() string {
	return "community_posts"
}

// Reply 对应 'community_replies' 表。
type Reply struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	PostID     uint      `gorm:"index;not null" json:"postId"`
	AuthorID   string    `gorm:"type:char(36);index;not null" json:"authorId"`
	AuthorName string    `gorm:"type:varchar(100)" json:"authorName"`
	Body       string    `gorm:"type:text;not null" json:"body"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Reply) TableName() string {
	return "community_replies"
}
