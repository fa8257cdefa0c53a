package model

import "time"

// DatabaseUser はusersテーブルの1行を表す。
// 認証で扱うIdentityとは別物で、業務データとしてのユーザー一覧に使う。
type DatabaseUser struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLogin   *time.Time `json:"last_login"`
	IsActive    bool       `json:"is_active"`
}

// Product はproductsテーブルの1行を表す。
type Product struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Price         float64   `json:"price"`
	Category      string    `json:"category"`
	StockQuantity int       `json:"stock_quantity"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	IsActive      bool      `json:"is_active"`
}

// NewProduct は商品登録リクエストの入力値を表す。
type NewProduct struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Price         float64 `json:"price"`
	Category      string  `json:"category"`
	StockQuantity int     `json:"stock_quantity"`
}

// Order はordersテーブルとusersテーブルを結合した注文情報を表す。
type Order struct {
	ID          int64     `json:"id"`
	TotalAmount float64   `json:"total_amount"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	UserEmail   string    `json:"user_email"`
	UserName    string    `json:"user_name"`
}

// Stats は各テーブルの件数集計を表す。
type Stats struct {
	Users     int       `json:"users"`
	Products  int       `json:"products"`
	Orders    int       `json:"orders"`
	Timestamp time.Time `json:"timestamp"`
}
