// Package auth はOAuth認可コードフローとセッショントークンの発行・検証を提供する。
package auth

import (
	"context"
	"errors"

	"github.com/hitoshi/authgate/internal/model"
)

// コード交換の失敗種別。呼び出し側はerrors.Isで判別する。
// いずれも自動リトライは行わない。
var (
	// ErrProviderUnavailable はIdPに到達できない、タイムアウト、または5xx応答を表す。
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrInvalidGrant はIdPが認可コードを拒否したことを表す（使用済み、期限切れ、リダイレクトURI不一致）。
	ErrInvalidGrant = errors.New("authorization code rejected")
	// ErrProfileFetchFailed はトークン取得後のプロフィール取得失敗を表す。
	ErrProfileFetchFailed = errors.New("profile fetch failed")
)

// IdentityProvider はIdPとの認可コード交換のインターフェース。
// 実IdPとオフライン用の2つの実装があり、起動時に設定から1つを選択する。
type IdentityProvider interface {
	// Name はメトリクスとログに使うプロバイダー名を返す。
	Name() string
	// GetLoginURL はstateを埋め込んだ認可URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードを交換し、検証済みのIdentityを返す。
	ExchangeCode(ctx context.Context, code string) (*model.Identity, error)
}
