package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Verifier          middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler

	// 認証
	AuthService AuthServiceInterface

	// 業務レコード
	Records repository.RecordRepository
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → RealIP → Logging → StatusMetrics → SecurityHeaders → CORS
//
// /auth/callback にはIP単位のレート制限、/api/* には認証とサブジェクト単位のレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewStatusMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, model.NewNotFoundError("エンドポイント"))
	})

	authn := middleware.NewAuthMiddleware(deps.Verifier, collector)
	authHandler := NewAuthHandler(deps.AuthService)
	recordHandler := NewRecordHandler(deps.Records)

	// --- 認証不要のルート ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
		})
	})
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", authHandler.Login)
		r.With(deps.RateLimiter.CallbackMiddleware()).Group(func(r chi.Router) {
			r.Get("/callback", authHandler.Callback)
			r.Post("/callback", authHandler.Callback)
		})
		r.Post("/verify", authHandler.Verify)
		r.Post("/logout", authHandler.Logout)
		r.With(authn).Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General) → RequireRoles(個別)
	r.Route("/api", func(r chi.Router) {
		r.Use(authn)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/users", recordHandler.ListUsers)
		r.Get("/products", recordHandler.ListProducts)
		r.With(middleware.RequireRoles(model.AdminRole)).Post("/products", recordHandler.CreateProduct)
		r.Get("/orders", recordHandler.ListOrders)
		r.Get("/stats", recordHandler.Stats)
		r.Get("/health", recordHandler.Health)
	})

	return r
}
