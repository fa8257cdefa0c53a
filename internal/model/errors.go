package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, provider, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeTokenMissing          = "TOKEN_MISSING"
	ErrCodeTokenMalformed        = "TOKEN_MALFORMED"
	ErrCodeTokenInvalidSignature = "TOKEN_INVALID_SIGNATURE"
	ErrCodeTokenExpired          = "TOKEN_EXPIRED"
	ErrCodeTokenClaimsInvalid    = "TOKEN_CLAIMS_INVALID"
	ErrCodeUnauthenticated       = "UNAUTHENTICATED"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeInvalidState          = "INVALID_STATE"
	ErrCodeMissingCode           = "MISSING_CODE"
	ErrCodeOAuthError            = "OAUTH_ERROR"
	ErrCodeInvalidGrant          = "INVALID_GRANT"
	ErrCodeProviderUnavailable   = "PROVIDER_UNAVAILABLE"
	ErrCodeProfileFetchFailed    = "PROFILE_FETCH_FAILED"
	ErrCodeValidation            = "VALIDATION"
	ErrCodeRecordsUnavailable    = "RECORDS_UNAVAILABLE"
	ErrCodeRateLimited           = "RATE_LIMITED"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// NewTokenError はトークン検証失敗エラーを生成する。
// codeにはErrCodeToken*のいずれかを指定する。
func NewTokenError(code, reason string) *APIError {
	return &APIError{
		Code:     code,
		Message:  fmt.Sprintf("認証トークンが無効です: %s", reason),
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewUnauthenticatedError は認証コンテキストが存在しない場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewForbiddenError はロール不足による認可失敗エラーを生成する。
// メッセージには許可されたロールをすべて列挙する。
func NewForbiddenError(allowed []string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("アクセスが拒否されました。必要なロール: %s", strings.Join(allowed, ", ")),
		Category: "auth",
		Action:   "必要なロールを持つアカウントでログインしてください。",
	}
}

// NewInvalidStateError はOAuthのstateパラメータ検証失敗エラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "stateパラメータが無効または期限切れです。",
		Category: "auth",
		Action:   "ログインをやり直してください。",
	}
}

// NewMissingCodeError は認可コード欠落エラーを生成する。
func NewMissingCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCode,
		Message:  "認可コードが指定されていません。",
		Category: "validation",
		Action:   "ログインをやり直してください。",
	}
}

// NewOAuthError はIdPがコールバックでエラーを返した場合のエラーを生成する。
func NewOAuthError(description string) *APIError {
	return &APIError{
		Code:     ErrCodeOAuthError,
		Message:  fmt.Sprintf("OAuth認証に失敗しました: %s", description),
		Category: "provider",
		Action:   "ログインをやり直してください。",
	}
}

// NewInvalidGrantError はIdPが認可コードを拒否した場合のエラーを生成する。
func NewInvalidGrantError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidGrant,
		Message:  "認可コードが無効です（使用済み、期限切れ、またはリダイレクトURIの不一致）。",
		Category: "provider",
		Action:   "ログインをやり直してください。",
	}
}

// NewProviderUnavailableError はIdPに到達できない場合のエラーを生成する。
func NewProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "認証プロバイダーに接続できませんでした。",
		Category: "provider",
		Action:   "しばらく待ってからログインをやり直してください。",
	}
}

// NewProfileFetchFailedError はプロフィール取得に失敗した場合のエラーを生成する。
func NewProfileFetchFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileFetchFailed,
		Message:  "ユーザープロフィールの取得に失敗しました。",
		Category: "provider",
		Action:   "しばらく待ってからログインをやり直してください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewRecordsUnavailableError はデータストアへのアクセス失敗エラーを生成する。
func NewRecordsUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeRecordsUnavailable,
		Message:  "データの取得に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewNotFoundError はリソースが存在しない場合のエラーを生成する。
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%sが見つかりません。", resource),
		Category: "validation",
		Action:   "URLを確認してください。",
	}
}

// NewInternalError は想定外の内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
