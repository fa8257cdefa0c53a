package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// MemoryRecordRepo はDATABASE_URL未設定時に使うインメモリのレコードリポジトリ。
// 開発用の固定データセットで初期化される。
type MemoryRecordRepo struct {
	mu            sync.RWMutex
	users         []model.DatabaseUser
	products      []model.Product
	orders        []memoryOrder
	nextProductID int64
	now           func() time.Time
}

type memoryOrder struct {
	order  model.Order
	userID int64
}

// NewMemoryRecordRepo は開発用データセットを持つMemoryRecordRepoを生成する。
// nowがnilの場合はtime.Nowを使用する。
func NewMemoryRecordRepo(now func() time.Time) *MemoryRecordRepo {
	if now == nil {
		now = time.Now
	}
	seeded := now().UTC()
	lastLogin := seeded

	r := &MemoryRecordRepo{now: now}
	r.users = []model.DatabaseUser{
		{ID: 1, Email: "dev.user@example.com", DisplayName: "Development User", CreatedAt: seeded, LastLogin: &lastLogin, IsActive: true},
		{ID: 2, Email: "admin@example.com", DisplayName: "Admin User", CreatedAt: seeded, LastLogin: &lastLogin, IsActive: true},
	}
	r.products = []model.Product{
		{ID: 1, Name: "Sample Product 1", Description: "A sample product for development", Price: 29.99, Category: "Electronics", StockQuantity: 10, CreatedAt: seeded, UpdatedAt: seeded, IsActive: true},
		{ID: 2, Name: "Sample Product 2", Description: "Another sample product", Price: 49.99, Category: "Books", StockQuantity: 5, CreatedAt: seeded, UpdatedAt: seeded, IsActive: true},
	}
	r.orders = []memoryOrder{
		{userID: 1, order: model.Order{ID: 1, TotalAmount: 29.99, Status: "completed", CreatedAt: seeded, UpdatedAt: seeded}},
	}
	r.nextProductID = 3
	return r
}

// ListUsers は全ユーザーを作成日時の降順で返す。
func (r *MemoryRecordRepo) ListUsers(_ context.Context) ([]model.DatabaseUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]model.DatabaseUser, len(r.users))
	copy(users, r.users)
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

// ListProducts は有効な商品を名前順で返す。
func (r *MemoryRecordRepo) ListProducts(_ context.Context) ([]model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	products := make([]model.Product, 0, len(r.products))
	for _, p := range r.products {
		if p.IsActive {
			products = append(products, p)
		}
	}
	sort.SliceStable(products, func(i, j int) bool {
		return products[i].Name < products[j].Name
	})
	return products, nil
}

// ListOrdersByEmail は指定メールアドレスのユーザーの注文を作成日時の降順で返す。
// メールアドレスの比較は大文字小文字を区別しない。
func (r *MemoryRecordRepo) ListOrdersByEmail(_ context.Context, email string) ([]model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var owner *model.DatabaseUser
	for i := range r.users {
		if strings.EqualFold(r.users[i].Email, email) {
			owner = &r.users[i]
			break
		}
	}

	orders := make([]model.Order, 0)
	if owner == nil {
		return orders, nil
	}
	for _, mo := range r.orders {
		if mo.userID != owner.ID {
			continue
		}
		o := mo.order
		o.UserEmail = owner.Email
		o.UserName = owner.DisplayName
		orders = append(orders, o)
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

// CreateProduct は商品を登録し、採番後の行を返す。
func (r *MemoryRecordRepo) CreateProduct(_ context.Context, np model.NewProduct) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	p := model.Product{
		ID:            r.nextProductID,
		Name:          np.Name,
		Description:   np.Description,
		Price:         np.Price,
		Category:      np.Category,
		StockQuantity: np.StockQuantity,
		CreatedAt:     now,
		UpdatedAt:     now,
		IsActive:      true,
	}
	r.nextProductID++
	r.products = append(r.products, p)
	return &p, nil
}

// Stats は有効ユーザー数・有効商品数・注文数を返す。
func (r *MemoryRecordRepo) Stats(_ context.Context) (*model.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &model.Stats{Orders: len(r.orders), Timestamp: r.now().UTC()}
	for _, u := range r.users {
		if u.IsActive {
			stats.Users++
		}
	}
	for _, p := range r.products {
		if p.IsActive {
			stats.Products++
		}
	}
	return stats, nil
}

// Ping は常に成功する。
func (r *MemoryRecordRepo) Ping(_ context.Context) error {
	return nil
}
