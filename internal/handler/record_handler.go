package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

const maxProductBodyBytes = 64 << 10

// RecordHandler は業務レコードのHTTPハンドラー。
// すべてのエンドポイントは認証ミドルウェアの後に配置する。
type RecordHandler struct {
	repo repository.RecordRepository
	now  func() time.Time
}

// NewRecordHandler はRecordHandlerを生成する。
func NewRecordHandler(repo repository.RecordRepository) *RecordHandler {
	return &RecordHandler{repo: repo, now: time.Now}
}

type listResponse[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    []T    `json:"data"`
	Count   int    `json:"count"`
	User    string `json:"user"`
}

type itemResponse[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
	User    string `json:"user"`
}

type healthResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user,omitempty"`
}

// ListUsers はユーザー一覧を返す。
// GET /api/users
func (h *RecordHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.repo.ListUsers(r.Context())
	if err != nil {
		h.recordsUnavailable(w, "list users", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[model.DatabaseUser]{
		Success: true,
		Message: "Users retrieved successfully",
		Data:    users,
		Count:   len(users),
		User:    currentEmail(r.Context()),
	})
}

// ListProducts は有効な商品一覧を返す。
// GET /api/products
func (h *RecordHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.repo.ListProducts(r.Context())
	if err != nil {
		h.recordsUnavailable(w, "list products", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[model.Product]{
		Success: true,
		Message: "Products retrieved successfully",
		Data:    products,
		Count:   len(products),
		User:    currentEmail(r.Context()),
	})
}

// ListOrders はログイン中ユーザーの注文一覧を返す。
// GET /api/orders
func (h *RecordHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	email := currentEmail(r.Context())
	orders, err := h.repo.ListOrdersByEmail(r.Context(), email)
	if err != nil {
		h.recordsUnavailable(w, "list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[model.Order]{
		Success: true,
		Message: "Orders retrieved successfully",
		Data:    orders,
		Count:   len(orders),
		User:    email,
	})
}

// CreateProduct は商品を登録する。adminロールを要求するルートに配置する。
// POST /api/products
func (h *RecordHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var input model.NewProduct
	if err := json.NewDecoder(io.LimitReader(r.Body, maxProductBodyBytes)).Decode(&input); err != nil {
		writeAPIError(w, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}
	if err := validateNewProduct(&input); err != nil {
		writeAPIError(w, model.NewValidationError(err.Error()))
		return
	}

	product, err := h.repo.CreateProduct(r.Context(), input)
	if err != nil {
		h.recordsUnavailable(w, "create product", err)
		return
	}

	slog.Info("product created",
		slog.Int64("product_id", product.ID),
		slog.String("subject", currentSubject(r.Context())),
	)

	writeJSON(w, http.StatusCreated, itemResponse[*model.Product]{
		Success: true,
		Message: "Product created successfully",
		Data:    product,
		User:    currentEmail(r.Context()),
	})
}

// Stats は件数集計を返す。
// GET /api/stats
func (h *RecordHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		h.recordsUnavailable(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, itemResponse[*model.Stats]{
		Success: true,
		Message: "Statistics retrieved successfully",
		Data:    stats,
		User:    currentEmail(r.Context()),
	})
}

// Health はデータストアへの疎通を確認する。
// GET /api/health
func (h *RecordHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		h.recordsUnavailable(w, "health", err)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Success:   true,
		Message:   "Database connection healthy",
		Timestamp: h.now().UTC(),
		User:      currentEmail(r.Context()),
	})
}

func (h *RecordHandler) recordsUnavailable(w http.ResponseWriter, op string, err error) {
	slog.Error("records operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	writeAPIError(w, model.NewRecordsUnavailableError())
}

// validateNewProduct は商品登録の入力値を検証し、文字列項目の前後空白を取り除く。
func validateNewProduct(p *model.NewProduct) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	p.Category = strings.TrimSpace(p.Category)

	switch {
	case p.Name == "":
		return fmt.Errorf("name is required")
	case utf8.RuneCountInString(p.Name) > 255:
		return fmt.Errorf("name must be at most 255 characters")
	case utf8.RuneCountInString(p.Description) > 1000:
		return fmt.Errorf("description must be at most 1000 characters")
	case utf8.RuneCountInString(p.Category) > 100:
		return fmt.Errorf("category must be at most 100 characters")
	case math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || p.Price <= 0:
		return fmt.Errorf("price must be a positive number")
	case math.Abs(p.Price*100-math.Round(p.Price*100)) > 1e-6:
		return fmt.Errorf("price must have at most 2 decimal places")
	case p.StockQuantity < 0:
		return fmt.Errorf("stock_quantity must be 0 or greater")
	}
	return nil
}

func currentEmail(ctx context.Context) string {
	if claims, ok := middleware.ClaimsFromContext(ctx); ok {
		return claims.Email
	}
	return ""
}

func currentSubject(ctx context.Context) string {
	if claims, ok := middleware.ClaimsFromContext(ctx); ok {
		return claims.Subject
	}
	return ""
}
