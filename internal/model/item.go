package model

import "time"

// Category は商品カテゴリを表す。
type Category string

const (
	// CategoryElectronics は家電カテゴリ。
	CategoryElectronics Category = "electronics"
	// CategoryClothes は衣類カテゴリ。
	CategoryClothes Category = "clothes"
)

// Valid はカテゴリが定義済みの値かどうかを返す。
func (c Category) Valid() bool {
	switch c {
	case CategoryElectronics, CategoryClothes:
		return true
	default:
		return false
	}
}

// Delivery は配送可否を表す。値は "Yes" または "No"。
type Delivery string

const (
	DeliveryYes Delivery = "Yes"
	DeliveryNo  Delivery = "No"
)

// Valid は配送可否が定義済みの値かどうかを返す。
func (d Delivery) Valid() bool {
	return d == DeliveryYes || d == DeliveryNo
}

// Item は出品された商品を表す。
// 所有者は常に1人で、購入によって移転する。
type Item struct {
	ID          string
	Name        string
	Price       int64
	Category    Category
	Description string
	Location    string
	Delivery    Delivery
	OwnerID     string
	Pictures    []Picture
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Picture は商品画像を表す。
// ファイル実体は商品ごとのディレクトリに保存される。
type Picture struct {
	ID        string
	Filename  string
	ItemID    string
	CreatedAt time.Time
}
