// Package repository は業務レコード（ユーザー・商品・注文）の参照と登録を提供する。
// 認証処理はこのパッケージに依存しない。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/authgate/internal/model"
)

// ErrRecordsUnavailable はデータストアに到達できない場合のエラー。
var ErrRecordsUnavailable = errors.New("records unavailable")

// RecordRepository は業務レコードの参照インターフェース。
type RecordRepository interface {
	// ListUsers は全ユーザーを作成日時の降順で返す。
	ListUsers(ctx context.Context) ([]model.DatabaseUser, error)

	// ListProducts は有効な商品を名前順で返す。
	ListProducts(ctx context.Context) ([]model.Product, error)

	// ListOrdersByEmail は指定メールアドレスのユーザーの注文を作成日時の降順で返す。
	ListOrdersByEmail(ctx context.Context, email string) ([]model.Order, error)

	// CreateProduct は商品を登録し、採番後の行を返す。
	CreateProduct(ctx context.Context, product model.NewProduct) (*model.Product, error)

	// Stats は有効ユーザー数・有効商品数・注文数を返す。
	Stats(ctx context.Context) (*model.Stats, error)

	// Ping はデータストアへの疎通を確認する。
	Ping(ctx context.Context) error
}
