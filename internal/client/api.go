package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/authgate/internal/model"
)

// DefaultTimeout は1リクエストあたりのタイムアウト。
const DefaultTimeout = 10 * time.Second

// maxResponseBytes はレスポンスボディの読み込み上限。
const maxResponseBytes = 1 << 20

// ErrUnauthorized はサーバーが401を返したことを表す。
var ErrUnauthorized = errors.New("unauthorized")

// ResponseError は2xx以外のレスポンスを表す。
type ResponseError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *ResponseError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Is は401のときErrUnauthorizedとして扱えるようにする。
func (e *ResponseError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// LoginInfo はGET /auth/loginの応答。
type LoginInfo struct {
	AuthURL         string `json:"authUrl"`
	Message         string `json:"message"`
	DevelopmentMode bool   `json:"developmentMode"`
}

// State は認可URLに含まれるstateパラメータを返す。
func (l *LoginInfo) State() string {
	u, err := url.Parse(l.AuthURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("state")
}

// CallbackResult はコールバックの応答。
type CallbackResult struct {
	Token           string         `json:"token"`
	User            model.Identity `json:"user"`
	Roles           []string       `json:"roles"`
	ExpiresIn       int64          `json:"expiresIn"`
	ExpiresAt       time.Time      `json:"expiresAt"`
	DevelopmentMode bool           `json:"developmentMode"`
}

// VerifyResult はPOST /auth/verifyの応答。
type VerifyResult struct {
	User  model.Identity `json:"user"`
	Roles []string       `json:"roles"`
	Exp   int64          `json:"exp"`
}

type listEnvelope[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

type itemEnvelope[T any] struct {
	Data T `json:"data"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIClient はauthgate APIへのHTTPクライアント。
// 保存済みのトークンをBearerとして付与し、401を受けたらセッションを消して通知する。
type APIClient struct {
	baseURL *url.URL
	http    *http.Client
	store   *SessionStore

	mu             sync.RWMutex
	onUnauthorized func()
}

// NewAPIClient はAPIClientを生成する。timeoutが0以下の場合はDefaultTimeoutを使用する。
func NewAPIClient(baseURL string, store *SessionStore, timeout time.Duration) (*APIClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &APIClient{
		baseURL: u,
		http:    &http.Client{Timeout: timeout, Jar: jar},
		store:   store,
	}, nil
}

// SetUnauthorizedHandler は401受信時に呼ばれる関数を設定する。
// セッションの削除後に同期的に呼ばれる。
func (c *APIClient) SetUnauthorizedHandler(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

// LoginURL は認可URLを取得する。
func (c *APIClient) LoginURL(ctx context.Context) (*LoginInfo, error) {
	var out LoginInfo
	if err := c.do(ctx, http.MethodGet, "/auth/login", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Callback は認可コードとstateをサーバーに渡し、セッショントークンを受け取る。
func (c *APIClient) Callback(ctx context.Context, code, state string) (*CallbackResult, error) {
	body := map[string]string{"code": code, "state": state}
	var out CallbackResult
	if err := c.do(ctx, http.MethodPost, "/auth/callback", body, "", &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, errors.New("callback response did not include a token")
	}
	return &out, nil
}

// Verify はトークンをサーバーで検証する。
func (c *APIClient) Verify(ctx context.Context, token string) (*VerifyResult, error) {
	var out VerifyResult
	if err := c.do(ctx, http.MethodPost, "/auth/verify", map[string]string{"token": token}, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout はサーバーにログアウトを通知する。tokenは保存済みのものと異なってよい。
func (c *APIClient) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, token, nil)
}

// Users はユーザー一覧を取得する。
func (c *APIClient) Users(ctx context.Context) ([]model.DatabaseUser, error) {
	var out listEnvelope[model.DatabaseUser]
	if err := c.GetJSON(ctx, "/api/users", &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Products は商品一覧を取得する。
func (c *APIClient) Products(ctx context.Context) ([]model.Product, error) {
	var out listEnvelope[model.Product]
	if err := c.GetJSON(ctx, "/api/products", &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Orders はログイン中ユーザーの注文一覧を取得する。
func (c *APIClient) Orders(ctx context.Context) ([]model.Order, error) {
	var out listEnvelope[model.Order]
	if err := c.GetJSON(ctx, "/api/orders", &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Stats は件数集計を取得する。
func (c *APIClient) Stats(ctx context.Context) (*model.Stats, error) {
	var out itemEnvelope[model.Stats]
	if err := c.GetJSON(ctx, "/api/stats", &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Health はデータストアの疎通を確認する。
func (c *APIClient) Health(ctx context.Context) error {
	return c.GetJSON(ctx, "/api/health", nil)
}

// GetJSON は保存済みトークンを付与してpathをGETし、outにデコードする。
func (c *APIClient) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, c.store.Token(), out)
}

// do はリクエストを送信する。tokenが空でなければBearerとして付与する。
func (c *APIClient) do(ctx context.Context, method, path string, body any, token string, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("invalid path %q: %w", path, err)
	}
	target := c.baseURL.JoinPath(ref.Path)
	target.RawQuery = ref.RawQuery

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respErr := &ResponseError{StatusCode: resp.StatusCode}
		var env errorEnvelope
		if json.Unmarshal(data, &env) == nil {
			respErr.Code = env.Code
			respErr.Message = env.Message
		}
		if resp.StatusCode == http.StatusUnauthorized {
			c.handleUnauthorized(token)
		}
		return respErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// handleUnauthorized はセッションを消してハンドラーを呼ぶ。
// 拒否されたトークンが別のログインで置き換わった後の遅延応答は無視する。
func (c *APIClient) handleUnauthorized(token string) {
	superseded, err := c.store.ClearUnlessSuperseded(token)
	if err != nil {
		slog.Warn("failed to clear session after 401", slog.String("error", err.Error()))
	}
	if superseded {
		return
	}

	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}
