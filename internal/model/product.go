package model

import "time"

// Product 对应于 'products' 表，即商品目录。
type Product struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SKU         string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"sku"`
	Name        string    `gorm:"type:varchar(200);not null" json:"name"`
	Category    string    `gorm:"type:varchar(64);index" json:"category"`
	Description string    `gorm:"type:text" json:"description"`
	PriceCents  int64     `gorm:"not null" json:"priceCents"`
	Currency    string    `gorm:"type:char(3);not null;default:'USD'" json:"currency"`
	ImageObject string    `gorm:"type:varchar(255)" json:"-"`
	Active      bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Product) TableName() string {
	return "products"
}

// ProductDTO 附带了图片的临时访问链接。
type ProductDTO struct {
	Product
	ImageURL string `json:"imageUrl,omitempty"`
}
