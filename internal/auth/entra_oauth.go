package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/security"
)

const (
	// EntraProviderName はMicrosoft Entra IDプロバイダーの名前。
	EntraProviderName = "entra"

	defaultAuthorityHost   = "https://login.microsoftonline.com"
	defaultGraphProfileURL = "https://graph.microsoft.com/v1.0/me"

	// DefaultProviderTimeout はコード交換全体のタイムアウト。
	DefaultProviderTimeout = 15 * time.Second

	maxProfileBytes = 1 << 20
)

// entraScopes はEntraに要求するスコープ。User.ReadはGraphのプロフィール取得に必要。
var entraScopes = []string{"openid", "profile", "email", "User.Read"}

// EntraOAuthConfig はMicrosoft Entra IDプロバイダーの設定。
type EntraOAuthConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthorityHost string
	AuthURL       string
	TokenURL      string
	ProfileURL    string

	Timeout time.Duration

	// 未指定の場合はSSRF防止付きクライアントを生成する
	HTTPClient *http.Client
	Sanitizer  security.ProfileSanitizer
}

// EntraOAuthProvider はMicrosoft Entra IDによる認可コードフローを提供する。
type EntraOAuthProvider struct {
	oauth      *oauth2.Config
	profileURL string
	timeout    time.Duration
	httpClient *http.Client
	sanitizer  security.ProfileSanitizer
}

// NewEntraOAuthProvider はEntraOAuthProviderを生成する。
func NewEntraOAuthProvider(config EntraOAuthConfig) *EntraOAuthProvider {
	if config.AuthorityHost == "" {
		config.AuthorityHost = defaultAuthorityHost
	}
	base := strings.TrimRight(config.AuthorityHost, "/") + "/" + config.TenantID + "/oauth2/v2.0"
	if config.AuthURL == "" {
		config.AuthURL = base + "/authorize"
	}
	if config.TokenURL == "" {
		config.TokenURL = base + "/token"
	}
	if config.ProfileURL == "" {
		config.ProfileURL = defaultGraphProfileURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultProviderTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = security.NewEndpointGuard().NewProviderClient(config.Timeout)
	}
	if config.Sanitizer == nil {
		config.Sanitizer = security.NewProfileSanitizer()
	}

	return &EntraOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       entraScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.AuthURL,
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		profileURL: config.ProfileURL,
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
		sanitizer:  config.Sanitizer,
	}
}

// Name はプロバイダー名を返す。
func (p *EntraOAuthProvider) Name() string {
	return EntraProviderName
}

// GetLoginURL はEntraの認可URLを生成する。
func (p *EntraOAuthProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "query"))
}

// graphProfile はGraphの/meエンドポイントのレスポンス。
type graphProfile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、プロフィールからIdentityを構築する。
// 交換とプロフィール取得の全体にタイムアウトを適用する。
func (p *EntraOAuthProvider) ExchangeCode(ctx context.Context, code string) (*model.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	// 1. 認可コードをアクセストークンに交換
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, classifyExchangeError(err)
	}

	// 2. アクセストークンでプロフィールを取得
	profile, err := p.fetchProfile(ctx, tok)
	if err != nil {
		return nil, err
	}

	email := profile.Mail
	if email == "" {
		email = profile.UserPrincipalName
	}

	return &model.Identity{
		SubjectID:   profile.ID,
		Email:       strings.TrimSpace(email),
		DisplayName: p.sanitizer.SanitizeText(profile.DisplayName),
		Username:    p.sanitizer.SanitizeText(profile.UserPrincipalName),
	}, nil
}

// classifyExchangeError はトークンエンドポイントのエラーを失敗種別に変換する。
func classifyExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		if re.Response.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: token endpoint status %d", ErrProviderUnavailable, re.Response.StatusCode)
		}
		return fmt.Errorf("%w: %s", ErrInvalidGrant, re.ErrorCode)
	}
	return fmt.Errorf("%w: token request failed: %v", ErrProviderUnavailable, err)
}

// fetchProfile はアクセストークン付きクライアントでプロフィールを取得する。
func (p *EntraOAuthProvider) fetchProfile(ctx context.Context, tok *oauth2.Token) (*graphProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create profile request: %v", ErrProfileFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: profile request timed out: %v", ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("%w: profile request failed: %v", ErrProfileFetchFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read profile response: %v", ErrProfileFetchFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: profile status %d", ErrProfileFetchFailed, resp.StatusCode)
	}

	var profile graphProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("%w: failed to parse profile response: %v", ErrProfileFetchFailed, err)
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("%w: empty id in profile response", ErrProfileFetchFailed)
	}

	return &profile, nil
}

// compile-time interface check
var _ IdentityProvider = (*EntraOAuthProvider)(nil)
