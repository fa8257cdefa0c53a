package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
)

// --- モック定義 ---

type mockAuthService struct {
	loginURLFn       func() (*auth.LoginResult, error)
	handleCallbackFn func(ctx context.Context, req auth.CallbackRequest) (*auth.CallbackResult, error)
	verifyFn         func(tokenString string) (*token.Claims, error)
	logoutFn         func(tokenString string)
}

var _ AuthServiceInterface = (*mockAuthService)(nil)

func (m *mockAuthService) LoginURL() (*auth.LoginResult, error) {
	if m.loginURLFn != nil {
		return m.loginURLFn()
	}
	return &auth.LoginResult{}, nil
}

func (m *mockAuthService) HandleCallback(ctx context.Context, req auth.CallbackRequest) (*auth.CallbackResult, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) Verify(tokenString string) (*token.Claims, error) {
	if m.verifyFn != nil {
		return m.verifyFn(tokenString)
	}
	return nil, token.ErrTokenMissing
}

func (m *mockAuthService) Logout(tokenString string) {
	if m.logoutFn != nil {
		m.logoutFn(tokenString)
	}
}

var handlerTestNow = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func devIdentity() model.Identity {
	return model.Identity{
		SubjectID:   "dev-user-123",
		Email:       "dev.user@example.com",
		DisplayName: "Development User",
		Username:    "dev.user@example.com",
	}
}

func devClaims(roles ...string) *token.Claims {
	id := devIdentity()
	return &token.Claims{
		Subject:   id.SubjectID,
		Email:     id.Email,
		Name:      id.DisplayName,
		Username:  id.Username,
		Roles:     roles,
		IssuedAt:  handlerTestNow,
		ExpiresAt: handlerTestNow.Add(time.Hour),
	}
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

// --- テスト ---

func TestAuthHandler_Login_ReturnsAuthURL(t *testing.T) {
	svc := &mockAuthService{
		loginURLFn: func() (*auth.LoginResult, error) {
			return &auth.LoginResult{
				URL:             "https://login.microsoftonline.com/tenant/oauth2/v2.0/authorize?state=s1",
				State:           "s1",
				DevelopmentMode: false,
			}, nil
		},
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body loginResponse
	decodeJSON(t, w, &body)
	if !body.Success {
		t.Error("success should be true")
	}
	if !strings.Contains(body.AuthURL, "login.microsoftonline.com") {
		t.Errorf("authUrl = %q, want provider URL", body.AuthURL)
	}
	if body.DevelopmentMode {
		t.Error("developmentMode should be false")
	}
}

func TestAuthHandler_Login_ServiceError_Returns500(t *testing.T) {
	svc := &mockAuthService{
		loginURLFn: func() (*auth.LoginResult, error) {
			return nil, errors.New("random source exhausted")
		},
	}
	h := NewAuthHandler(svc)

	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestAuthHandler_Callback_Success(t *testing.T) {
	var got auth.CallbackRequest
	svc := &mockAuthService{
		handleCallbackFn: func(_ context.Context, req auth.CallbackRequest) (*auth.CallbackResult, error) {
			got = req
			return &auth.CallbackResult{
				Token:           "signed.jwt.token",
				Identity:        devIdentity(),
				Roles:           []string{"user"},
				IssuedAt:        handlerTestNow,
				ExpiresAt:       handlerTestNow.Add(time.Hour),
				DevelopmentMode: true,
			}, nil
		},
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=xyz", nil)
	w := httptest.NewRecorder()
	h.Callback(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got.Code != "abc" || got.State != "xyz" {
		t.Errorf("request = %+v, want code=abc state=xyz", got)
	}

	var body callbackResponse
	decodeJSON(t, w, &body)
	if body.Token != "signed.jwt.token" {
		t.Errorf("token = %q", body.Token)
	}
	if body.ExpiresIn != 3600 {
		t.Errorf("expiresIn = %d, want 3600", body.ExpiresIn)
	}
	if !body.ExpiresAt.Equal(handlerTestNow.Add(time.Hour)) {
		t.Errorf("expiresAt = %v", body.ExpiresAt)
	}
	if body.User.SubjectID != "dev-user-123" {
		t.Errorf("user.id = %q", body.User.SubjectID)
	}
	if !body.DevelopmentMode {
		t.Error("developmentMode should be true")
	}
}

func TestAuthHandler_Callback_PostBody(t *testing.T) {
	var got auth.CallbackRequest
	svc := &mockAuthService{
		handleCallbackFn: func(_ context.Context, req auth.CallbackRequest) (*auth.CallbackResult, error) {
			got = req
			return &auth.CallbackResult{IssuedAt: handlerTestNow, ExpiresAt: handlerTestNow.Add(time.Minute)}, nil
		},
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/callback", strings.NewReader(`{"code":"body-code","state":"body-state"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Callback(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got.Code != "body-code" || got.State != "body-state" {
		t.Errorf("request = %+v, want body values", got)
	}
}

func TestAuthHandler_Callback_PostMalformedBody_Returns400(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodPost, "/auth/callback", strings.NewReader(`{not json`))
	w := httptest.NewRecorder()
	h.Callback(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuthHandler_Callback_ProviderErrorPassthrough(t *testing.T) {
	var got auth.CallbackRequest
	svc := &mockAuthService{
		handleCallbackFn: func(_ context.Context, req auth.CallbackRequest) (*auth.CallbackResult, error) {
			got = req
			return nil, &auth.ProviderError{Code: req.Error, Description: req.ErrorDescription}
		},
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?error=access_denied&error_description=User+cancelled", nil)
	w := httptest.NewRecorder()
	h.Callback(w, req)

	if got.Error != "access_denied" || got.ErrorDescription != "User cancelled" {
		t.Errorf("request = %+v, want provider error fields", got)
	}
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	var body middleware.ErrorResponseBody
	decodeJSON(t, w, &body)
	if body.Code != model.ErrCodeOAuthError {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeOAuthError)
	}
	if !strings.Contains(body.Message, "User cancelled") {
		t.Errorf("message = %q, want provider description", body.Message)
	}
}

func TestAuthHandler_Callback_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"認可コード欠落", auth.ErrMissingCode, http.StatusBadRequest, model.ErrCodeMissingCode},
		{"state不正", fmt.Errorf("consume: %w", auth.ErrInvalidState), http.StatusBadRequest, model.ErrCodeInvalidState},
		{"コード拒否", fmt.Errorf("exchange: %w", auth.ErrInvalidGrant), http.StatusBadRequest, model.ErrCodeInvalidGrant},
		{"IdP到達不能", fmt.Errorf("exchange: %w", auth.ErrProviderUnavailable), http.StatusBadGateway, model.ErrCodeProviderUnavailable},
		{"プロフィール取得失敗", fmt.Errorf("exchange: %w", auth.ErrProfileFetchFailed), http.StatusBadGateway, model.ErrCodeProfileFetchFailed},
		{"想定外", errors.New("boom"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				handleCallbackFn: func(context.Context, auth.CallbackRequest) (*auth.CallbackResult, error) {
					return nil, tt.err
				},
			}
			h := NewAuthHandler(svc)

			w := httptest.NewRecorder()
			h.Callback(w, httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state=s", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body middleware.ErrorResponseBody
			decodeJSON(t, w, &body)
			if body.Success {
				t.Error("success should be false")
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestAuthHandler_Verify_BodyToken(t *testing.T) {
	var got string
	svc := &mockAuthService{
		verifyFn: func(tokenString string) (*token.Claims, error) {
			got = tokenString
			return devClaims("user"), nil
		},
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/verify", strings.NewReader(`{"token":"body-token"}`))
	req.Header.Set("Authorization", "Bearer header-token")
	w := httptest.NewRecorder()
	h.Verify(w, req)

	if got != "body-token" {
		t.Errorf("verified token = %q, want body token to take precedence", got)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body verifyResponse
	decodeJSON(t, w, &body)
	if body.Exp != handlerTestNow.Add(time.Hour).Unix() {
		t.Errorf("exp = %d, want %d", body.Exp, handlerTestNow.Add(time.Hour).Unix())
	}
	if body.User.Email != "dev.user@example.com" {
		t.Errorf("user.email = %q", body.User.Email)
	}
}

func TestAuthHandler_Verify_BearerFallback(t *testing.T) {
	var got string
	svc := &mockAuthService{
		verifyFn: func(tokenString string) (*token.Claims, error) {
			got = tokenString
			return devClaims("user"), nil
		},
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/verify", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	w := httptest.NewRecorder()
	h.Verify(w, req)

	if got != "header-token" {
		t.Errorf("verified token = %q, want header-token", got)
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthHandler_Verify_Failure_Returns401WithReason(t *testing.T) {
	svc := &mockAuthService{
		verifyFn: func(string) (*token.Claims, error) {
			return nil, token.ErrTokenExpired
		},
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/verify", strings.NewReader(`{"token":"old"}`))
	w := httptest.NewRecorder()
	h.Verify(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if got := w.Header().Get("WWW-Authenticate"); !strings.Contains(got, "invalid_token") {
		t.Errorf("WWW-Authenticate = %q", got)
	}
	var body middleware.ErrorResponseBody
	decodeJSON(t, w, &body)
	if body.Code != model.ErrCodeTokenExpired {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeTokenExpired)
	}
}

func TestAuthHandler_Verify_MalformedBody_Returns401(t *testing.T) {
	var got *string
	svc := &mockAuthService{
		verifyFn: func(tokenString string) (*token.Claims, error) {
			got = &tokenString
			return nil, token.ErrTokenMissing
		},
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/verify", strings.NewReader(`{"token":`))
	w := httptest.NewRecorder()
	h.Verify(w, req)

	if got == nil || *got != "" {
		t.Errorf("verified token = %v, want empty token", got)
	}
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	var body middleware.ErrorResponseBody
	decodeJSON(t, w, &body)
	if body.Code != model.ErrCodeTokenMissing {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeTokenMissing)
	}
}

func TestAuthHandler_Logout_AlwaysSucceeds(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"トークンあり", "Bearer some-token", "some-token"},
		{"トークンなし", "", ""},
		{"不正なヘッダー", "Basic dXNlcjpwYXNz", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			called := false
			svc := &mockAuthService{
				logoutFn: func(tokenString string) {
					called = true
					got = tokenString
				},
			}
			h := NewAuthHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.Logout(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if !called || got != tt.want {
				t.Errorf("Logout called=%v with %q, want %q", called, got, tt.want)
			}
			var body messageResponse
			decodeJSON(t, w, &body)
			if !body.Success {
				t.Error("success should be true")
			}
		})
	}
}

func TestAuthHandler_Me(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{})

	t.Run("クレームあり", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req = req.WithContext(middleware.ContextWithClaims(req.Context(), devClaims("user", "admin")))
		w := httptest.NewRecorder()
		h.Me(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		var body meResponse
		decodeJSON(t, w, &body)
		if body.User.SubjectID != "dev-user-123" || len(body.Roles) != 2 {
			t.Errorf("body = %+v", body)
		}
	})

	t.Run("クレームなし", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Me(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{model.ErrCodeTokenMissing, http.StatusUnauthorized},
		{model.ErrCodeTokenClaimsInvalid, http.StatusUnauthorized},
		{model.ErrCodeUnauthenticated, http.StatusUnauthorized},
		{model.ErrCodeForbidden, http.StatusForbidden},
		{model.ErrCodeValidation, http.StatusBadRequest},
		{model.ErrCodeInvalidGrant, http.StatusBadRequest},
		{model.ErrCodeProfileFetchFailed, http.StatusBadGateway},
		{model.ErrCodeRateLimited, http.StatusTooManyRequests},
		{model.ErrCodeNotFound, http.StatusNotFound},
		{model.ErrCodeRecordsUnavailable, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := mapAPIErrorToHTTPStatus(&model.APIError{Code: tt.code}); got != tt.want {
				t.Errorf("mapAPIErrorToHTTPStatus(%q) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}
