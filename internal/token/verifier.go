package token

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier は提示されたトークンの構造、署名、有効期限、発行者を検証する。
// 共有シークレット以外の可変状態を持たないため、並行リクエストから安全に使用できる。
type Verifier struct {
	config Config
	parser *jwt.Parser
}

// NewVerifier はVerifierを生成する。Issuerと同じConfigを渡すこと。
func NewVerifier(config Config) (*Verifier, error) {
	cfg, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Verifier{
		config: cfg,
		// 有効期限は注入された時計で判定するため、ライブラリのクレーム検証は無効化する
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Verify はトークンを検証し、クレームを返す。
// 判定順序: 未提示 → 構造 → 署名 → 有効期限 → issuer/audience。
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	raw := strings.TrimSpace(tokenString)
	if raw == "" {
		return nil, ErrTokenMissing
	}

	var sc sessionClaims
	_, err := v.parser.ParseWithClaims(raw, &sc, func(t *jwt.Token) (any, error) {
		return v.config.Secret, nil
	})
	if err != nil {
		return nil, mapParseError(err)
	}

	if sc.ExpiresAt == nil || !v.config.Now().Before(sc.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}

	if sc.Issuer != v.config.Issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrTokenClaimsInvalid, sc.Issuer)
	}
	if !slices.Contains([]string(sc.Audience), v.config.Audience) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrTokenClaimsInvalid)
	}
	if sc.Subject == "" {
		return nil, fmt.Errorf("%w: subject is empty", ErrTokenClaimsInvalid)
	}

	return sc.toClaims(), nil
}

// mapParseError はjwtライブラリのエラーを検証失敗の種別に変換する。
func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrTokenInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}
