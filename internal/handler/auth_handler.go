// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
)

// maxAuthBodyBytes は認証系エンドポイントで受け付けるリクエストボディの上限。
const maxAuthBodyBytes = 16 << 10

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	LoginURL() (*auth.LoginResult, error)
	HandleCallback(ctx context.Context, req auth.CallbackRequest) (*auth.CallbackResult, error)
	Verify(tokenString string) (*token.Claims, error)
	Logout(tokenString string)
}

// AuthHandler はOAuth認証とトークン検証のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type loginResponse struct {
	Success         bool   `json:"success"`
	AuthURL         string `json:"authUrl"`
	Message         string `json:"message"`
	DevelopmentMode bool   `json:"developmentMode"`
}

type callbackRequestBody struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type callbackResponse struct {
	Success         bool           `json:"success"`
	Message         string         `json:"message"`
	Token           string         `json:"token"`
	User            model.Identity `json:"user"`
	Roles           []string       `json:"roles"`
	ExpiresIn       int64          `json:"expiresIn"`
	ExpiresAt       time.Time      `json:"expiresAt"`
	DevelopmentMode bool           `json:"developmentMode"`
}

type verifyRequestBody struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	User    model.Identity `json:"user"`
	Roles   []string       `json:"roles"`
	Exp     int64          `json:"exp"`
}

type meResponse struct {
	Success   bool           `json:"success"`
	User      model.Identity `json:"user"`
	Roles     []string       `json:"roles"`
	IssuedAt  time.Time      `json:"issuedAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Login は認可URLを返す。
// GET /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.LoginURL()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	message := "Redirect the browser to authUrl to sign in."
	if result.DevelopmentMode {
		message = "Development mode: authUrl completes the login without a real identity provider."
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Success:         true,
		AuthURL:         result.URL,
		Message:         message,
		DevelopmentMode: result.DevelopmentMode,
	})
}

// Callback は認可コードを交換し、セッショントークンを発行する。
// GET /auth/callback?code=xxx&state=yyy
// POST /auth/callback {"code": "xxx", "state": "yyy"}
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := auth.CallbackRequest{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	if r.Method == http.MethodPost {
		var body callbackRequestBody
		if err := decodeOptionalJSON(r, &body); err != nil {
			writeAPIError(w, model.NewValidationError("リクエストボディの解析に失敗しました"))
			return
		}
		if body.Code != "" {
			req.Code = body.Code
		}
		if body.State != "" {
			req.State = body.State
		}
	}

	result, err := h.service.HandleCallback(r.Context(), req)
	if err != nil {
		writeAPIError(w, callbackAPIError(err))
		return
	}

	writeJSON(w, http.StatusOK, callbackResponse{
		Success:         true,
		Message:         "Authentication successful",
		Token:           result.Token,
		User:            result.Identity,
		Roles:           result.Roles,
		ExpiresIn:       int64(result.ExpiresIn() / time.Second),
		ExpiresAt:       result.ExpiresAt,
		DevelopmentMode: result.DevelopmentMode,
	})
}

// Verify はトークンを検証し、クレームの投影を返す。
// ボディのtokenを優先し、なければAuthorizationヘッダーを使用する。
// 解析できないボディはトークンなしとして扱う。
// POST /auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var body verifyRequestBody
	if err := decodeOptionalJSON(r, &body); err != nil {
		body = verifyRequestBody{}
	}

	raw := strings.TrimSpace(body.Token)
	if raw == "" {
		raw, _ = middleware.BearerToken(r)
	}

	claims, err := h.service.Verify(raw)
	if err != nil {
		middleware.WriteTokenError(w, model.NewTokenError(token.Code(err), err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Success: true,
		Message: "Token is valid",
		User:    claims.Identity(),
		Roles:   claims.Roles,
		Exp:     claims.ExpiresAt.Unix(),
	})
}

// Logout はログアウトを記録する。トークンの有無や正否に関わらず常に成功する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	raw, _ := middleware.BearerToken(r)
	h.service.Logout(raw)

	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "Logged out successfully",
	})
}

// Me は現在のトークンのクレームを返す。認証ミドルウェアの後に配置する。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeAPIError(w, model.NewUnauthenticatedError())
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		Success:   true,
		User:      claims.Identity(),
		Roles:     claims.Roles,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	})
}

// callbackAPIError はコールバック処理のエラーを応答用のAPIErrorに変換する。
func callbackAPIError(err error) *model.APIError {
	switch auth.ErrorCode(err) {
	case model.ErrCodeOAuthError:
		var providerErr *auth.ProviderError
		errors.As(err, &providerErr)
		description := providerErr.Description
		if description == "" {
			description = providerErr.Code
		}
		return model.NewOAuthError(description)
	case model.ErrCodeMissingCode:
		return model.NewMissingCodeError()
	case model.ErrCodeInvalidState:
		return model.NewInvalidStateError()
	case model.ErrCodeInvalidGrant:
		return model.NewInvalidGrantError()
	case model.ErrCodeProviderUnavailable:
		return model.NewProviderUnavailableError()
	case model.ErrCodeProfileFetchFailed:
		return model.NewProfileFetchFailedError()
	default:
		slog.Error("unexpected callback error", slog.String("error", err.Error()))
		return model.NewInternalError()
	}
}

// decodeOptionalJSON はボディが空でなければJSONとして読み込む。
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxAuthBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
