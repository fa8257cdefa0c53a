// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// claimsContextKey はリクエストコンテキストに検証済みクレームを格納するためのキー。
var claimsContextKey = contextKey("claims")

// TokenVerifier はセッショントークンの検証に必要なインターフェース。
type TokenVerifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// クレームをリクエストコンテキストに注入するミドルウェアを返す。
// 検証に失敗した場合は理由コード付きの401を返し、後続のハンドラーは実行しない。
func NewAuthMiddleware(verifier TokenVerifier, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, _ := BearerToken(r)

			claims, err := verifier.Verify(raw)
			if err != nil {
				code := token.Code(err)
				collector.RecordAuthorizationDenied(code)
				WriteTokenError(w, model.NewTokenError(code, err.Error()))
				return
			}

			setLogSubject(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
// スキーム名の大文字小文字は区別しない。
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, value, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// Authorize は保持ロールと許可ロールの共通部分を判定する。
// クレームがない場合は401相当、共通部分が空の場合は403相当のエラーを返す。
func Authorize(claims *token.Claims, allowed []string) (int, *model.APIError) {
	if claims == nil {
		return http.StatusUnauthorized, model.NewUnauthenticatedError()
	}
	if !claims.HasAnyRole(allowed) {
		return http.StatusForbidden, model.NewForbiddenError(allowed)
	}
	return http.StatusOK, nil
}

// RequireRoles はallowedのいずれかのロールを要求するミドルウェアを返す。
// NewAuthMiddlewareの後に配置する。
func RequireRoles(allowed ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := ClaimsFromContext(r.Context())
			if status, apiErr := Authorize(claims, allowed); apiErr != nil {
				WriteErrorResponse(w, status, apiErr)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext はリクエストコンテキストから検証済みクレームを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*token.Claims)
	return claims, ok && claims != nil
}

// ContextWithClaims はコンテキストにクレームを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
