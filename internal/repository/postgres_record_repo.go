package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// PostgresRecordRepo はPostgreSQLを使用したレコードリポジトリ。
type PostgresRecordRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRecordRepo はPostgresRecordRepoを生成する。
func NewPostgresRecordRepo(db *sql.DB) *PostgresRecordRepo {
	return &PostgresRecordRepo{db: db, now: time.Now}
}

// ListUsers は全ユーザーを作成日時の降順で返す。
func (r *PostgresRecordRepo) ListUsers(ctx context.Context) ([]model.DatabaseUser, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, email, display_name, created_at, last_login, is_active
		 FROM users
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w: %v", ErrRecordsUnavailable, err)
	}
	defer rows.Close()

	users := make([]model.DatabaseUser, 0)
	for rows.Next() {
		var u model.DatabaseUser
		var lastLogin sql.NullTime
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt, &lastLogin, &u.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if lastLogin.Valid {
			t := lastLogin.Time
			u.LastLogin = &t
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}

// ListProducts は有効な商品を名前順で返す。
func (r *PostgresRecordRepo) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, description, price, category, stock_quantity, created_at, updated_at, is_active
		 FROM products
		 WHERE is_active = TRUE
		 ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w: %v", ErrRecordsUnavailable, err)
	}
	defer rows.Close()

	products := make([]model.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}

	return products, nil
}

// ListOrdersByEmail は指定メールアドレスのユーザーの注文を作成日時の降順で返す。
func (r *PostgresRecordRepo) ListOrdersByEmail(ctx context.Context, email string) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT o.id, o.total_amount, o.status, o.created_at, o.updated_at,
		        u.email, u.display_name
		 FROM orders o
		 INNER JOIN users u ON o.user_id = u.id
		 WHERE u.email = $1
		 ORDER BY o.created_at DESC`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w: %v", ErrRecordsUnavailable, err)
	}
	defer rows.Close()

	orders := make([]model.Order, 0)
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.TotalAmount, &o.Status, &o.CreatedAt, &o.UpdatedAt, &o.UserEmail, &o.UserName); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}

	return orders, nil
}

// CreateProduct は商品を登録し、採番後の行を返す。
func (r *PostgresRecordRepo) CreateProduct(ctx context.Context, np model.NewProduct) (*model.Product, error) {
	now := r.now().UTC()
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO products (name, description, price, category, stock_quantity, created_at, updated_at, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $6, TRUE)
		 RETURNING id, name, description, price, category, stock_quantity, created_at, updated_at, is_active`,
		np.Name, np.Description, np.Price, np.Category, np.StockQuantity, now,
	)

	p, err := scanProduct(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert product: %w", err)
	}
	return p, nil
}

// Stats は有効ユーザー数・有効商品数・注文数を返す。
func (r *PostgresRecordRepo) Stats(ctx context.Context) (*model.Stats, error) {
	stats := &model.Stats{}
	err := r.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT count(*) FROM users WHERE is_active = TRUE),
		   (SELECT count(*) FROM products WHERE is_active = TRUE),
		   (SELECT count(*) FROM orders)`,
	).Scan(&stats.Users, &stats.Products, &stats.Orders)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w: %v", ErrRecordsUnavailable, err)
	}

	stats.Timestamp = r.now().UTC()
	return stats, nil
}

// Ping はデータストアへの疎通を確認する。
func (r *PostgresRecordRepo) Ping(ctx context.Context) error {
	var one int
	if err := r.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("%w: %v", ErrRecordsUnavailable, err)
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(s rowScanner) (*model.Product, error) {
	var p model.Product
	err := s.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Category,
		&p.StockQuantity, &p.CreatedAt, &p.UpdatedAt, &p.IsActive)
	if err != nil {
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	return &p, nil
}
