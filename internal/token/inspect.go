package token

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// InspectUnverified は署名を検証せずにトークンのクレームをデコードする。
// UI表示（有効期限やユーザー名の表示）専用であり、認可判断に使用してはならない。
// 認可にはVerifier.Verifyを使うこと。
func InspectUnverified(tokenString string) (*Claims, error) {
	raw := strings.TrimSpace(tokenString)
	if raw == "" {
		return nil, ErrTokenMissing
	}

	var sc sessionClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &sc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	return sc.toClaims(), nil
}
