package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
)

// ErrMissingCode はコールバックに認可コードが含まれていないことを表す。
var ErrMissingCode = errors.New("authorization code missing")

// ProviderError はIdPがコールバックでerrorパラメータを返したことを表す。
type ProviderError struct {
	Code        string
	Description string
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("provider returned error: %s", e.Code)
	}
	return fmt.Sprintf("provider returned error: %s: %s", e.Code, e.Description)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	TokenTTL time.Duration // 0以下の場合はIssuerのデフォルト
}

// LoginResult はログイン開始時に返す認可URLとstate。
type LoginResult struct {
	URL             string
	State           string
	DevelopmentMode bool
}

// CallbackRequest はコールバックで受け取ったパラメータ。
type CallbackRequest struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResult はコード交換とトークン発行の結果。
type CallbackResult struct {
	Token           string
	Identity        model.Identity
	Roles           []string
	IssuedAt        time.Time
	ExpiresAt       time.Time
	DevelopmentMode bool
}

// ExpiresIn はトークンの有効期間を返す。
func (r *CallbackResult) ExpiresIn() time.Duration {
	return r.ExpiresAt.Sub(r.IssuedAt)
}

// Service は認証に関するビジネスロジックを提供する。
// サーバー側にセッション状態は持たず、トークンがすべてを保持する。
type Service struct {
	provider IdentityProvider
	issuer   *token.Issuer
	verifier *token.Verifier
	state    *StateCodec
	roles    RoleMapper
	metrics  metrics.MetricsCollector
	config   ServiceConfig
}

// NewService はServiceを生成する。rolesとcollectorはnilの場合デフォルトを使用する。
func NewService(
	provider IdentityProvider,
	issuer *token.Issuer,
	verifier *token.Verifier,
	state *StateCodec,
	roles RoleMapper,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if roles == nil {
		roles = DefaultRoleMapper{}
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		provider: provider,
		issuer:   issuer,
		verifier: verifier,
		state:    state,
		roles:    roles,
		metrics:  collector,
		config:   config,
	}
}

// DevelopmentMode はオフラインプロバイダーで動作しているかを返す。
func (s *Service) DevelopmentMode() bool {
	return s.provider.Name() == OfflineProviderName
}

// LoginURL は新しいstateを発行し、IdPの認可URLを返す。
func (s *Service) LoginURL() (*LoginResult, error) {
	state, err := s.state.Issue()
	if err != nil {
		return nil, fmt.Errorf("failed to issue state: %w", err)
	}
	return &LoginResult{
		URL:             s.provider.GetLoginURL(state),
		State:           state,
		DevelopmentMode: s.DevelopmentMode(),
	}, nil
}

// HandleCallback はコールバックを処理し、セッショントークンを発行する。
// 処理順序: IdPエラー → 認可コード → state → コード交換 → ロール決定 → 発行。
// オフラインモードではstateの検証を省略する。
func (s *Service) HandleCallback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	result, err := s.handleCallback(ctx, req)
	if err != nil {
		s.metrics.RecordLogin(ErrorCode(err))
		slog.Warn("oauth callback failed",
			slog.String("provider", s.provider.Name()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	s.metrics.RecordLogin(metrics.ResultSuccess)
	return result, nil
}

func (s *Service) handleCallback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	if req.Error != "" {
		return nil, &ProviderError{Code: req.Error, Description: req.ErrorDescription}
	}
	if req.Code == "" {
		return nil, ErrMissingCode
	}
	if !s.DevelopmentMode() {
		if err := s.state.Consume(req.State); err != nil {
			return nil, err
		}
	}

	// 1. 認可コードを交換し、Identityを取得
	start := time.Now()
	identity, err := s.provider.ExchangeCode(ctx, req.Code)
	s.metrics.RecordProviderLatency(s.provider.Name(), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. ロールを決定
	roles := normalizeRoles(s.roles.Roles(*identity))

	// 3. トークンを発行
	issued, err := s.issuer.Issue(*identity, roles, s.config.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	s.metrics.RecordTokenIssued()

	slog.Info("user logged in",
		slog.String("subject", identity.SubjectID),
		slog.String("provider", s.provider.Name()),
		slog.Any("roles", roles),
	)

	return &CallbackResult{
		Token:           issued.Token,
		Identity:        *identity,
		Roles:           issued.Claims.Roles,
		IssuedAt:        issued.IssuedAt,
		ExpiresAt:       issued.ExpiresAt,
		DevelopmentMode: s.DevelopmentMode(),
	}, nil
}

// Verify はセッショントークンを検証する。アクセス制御ミドルウェアからも利用する。
func (s *Service) Verify(tokenString string) (*token.Claims, error) {
	claims, err := s.verifier.Verify(tokenString)
	if err != nil {
		s.metrics.RecordVerification(token.Code(err))
		return nil, err
	}
	s.metrics.RecordVerification(metrics.ResultSuccess)
	return claims, nil
}

// Logout はログアウトを記録する。
// トークンはステートレスで失効リストも持たないため、サーバー側で破棄するものはない。
// 失敗することはない。
func (s *Service) Logout(tokenString string) {
	if claims, err := token.InspectUnverified(tokenString); err == nil {
		slog.Info("user logged out", slog.String("subject", claims.Subject))
		return
	}
	slog.Info("logout without token")
}

// ErrorCode はコールバック処理のエラーを応答用のエラーコードに変換する。
func ErrorCode(err error) string {
	var providerErr *ProviderError
	switch {
	case errors.As(err, &providerErr):
		return model.ErrCodeOAuthError
	case errors.Is(err, ErrMissingCode):
		return model.ErrCodeMissingCode
	case errors.Is(err, ErrInvalidState):
		return model.ErrCodeInvalidState
	case errors.Is(err, ErrInvalidGrant):
		return model.ErrCodeInvalidGrant
	case errors.Is(err, ErrProviderUnavailable):
		return model.ErrCodeProviderUnavailable
	case errors.Is(err, ErrProfileFetchFailed):
		return model.ErrCodeProfileFetchFailed
	default:
		return model.ErrCodeInternal
	}
}
