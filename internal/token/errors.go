package token

import (
	"errors"

	"github.com/hitoshi/authgate/internal/model"
)

// 検証失敗の種別。呼び出し側はerrors.Isで判別する。
// いずれもHTTPでは401として扱われるが、クライアントの回復手段を決めるため区別する。
var (
	ErrTokenMissing          = errors.New("token missing")
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenInvalidSignature = errors.New("token signature invalid")
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenClaimsInvalid    = errors.New("token claims invalid")
)

// Code は検証エラーを応答用のエラーコードに変換する。
// 未知のエラーはTOKEN_MALFORMEDとして扱う。
func Code(err error) string {
	switch {
	case errors.Is(err, ErrTokenMissing):
		return model.ErrCodeTokenMissing
	case errors.Is(err, ErrTokenInvalidSignature):
		return model.ErrCodeTokenInvalidSignature
	case errors.Is(err, ErrTokenExpired):
		return model.ErrCodeTokenExpired
	case errors.Is(err, ErrTokenClaimsInvalid):
		return model.ErrCodeTokenClaimsInvalid
	default:
		return model.ErrCodeTokenMalformed
	}
}
