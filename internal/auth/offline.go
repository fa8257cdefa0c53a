package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hitoshi/authgate/internal/model"
)

const (
	// OfflineProviderName はオフライン（開発用）プロバイダーの名前。
	OfflineProviderName = "offline"
	// DevMockCode はオフラインモードで受理する唯一の認可コード。
	DevMockCode = "dev_mock_code"
)

// DevIdentity はオフラインモードで返す固定のIdentity。
var DevIdentity = model.Identity{
	SubjectID:   "dev-user-123",
	Email:       "dev.user@example.com",
	DisplayName: "Development User",
	Username:    "dev.user@example.com",
}

// OfflineProvider はIdPの資格情報が未設定の環境で使う開発用プロバイダー。
// I/Oを一切行わない。
type OfflineProvider struct {
	redirectURL string
}

// NewOfflineProvider はOfflineProviderを生成する。
// redirectURLはコールバックURL。ログインURLはそこへ固定コード付きで直接戻る。
func NewOfflineProvider(redirectURL string) *OfflineProvider {
	return &OfflineProvider{redirectURL: redirectURL}
}

// Name はプロバイダー名を返す。
func (p *OfflineProvider) Name() string {
	return OfflineProviderName
}

// GetLoginURL はコールバックURLに固定コードとstateを付与して返す。
func (p *OfflineProvider) GetLoginURL(state string) string {
	params := url.Values{
		"code":  {DevMockCode},
		"state": {state},
	}
	sep := "?"
	if strings.Contains(p.redirectURL, "?") {
		sep = "&"
	}
	return p.redirectURL + sep + params.Encode()
}

// ExchangeCode は固定コードに対してのみDevIdentityを返す。
func (p *OfflineProvider) ExchangeCode(_ context.Context, code string) (*model.Identity, error) {
	if code != DevMockCode {
		return nil, fmt.Errorf("%w: offline mode accepts only %s", ErrInvalidGrant, DevMockCode)
	}
	identity := DevIdentity
	return &identity, nil
}

// compile-time interface check
var _ IdentityProvider = (*OfflineProvider)(nil)
