package token

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/authgate/internal/model"
)

// Issued は発行済みトークンとそのメタデータ。
type Issued struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Claims    *Claims
}

// Issuer は検証済みIdentityとロールから署名付きセッショントークンを発行する。
type Issuer struct {
	config Config
}

// NewIssuer はIssuerを生成する。シークレット、issuer、audienceは必須。
func NewIssuer(config Config) (*Issuer, error) {
	cfg, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Issuer{config: cfg}, nil
}

// DefaultTTL は設定されたデフォルトの有効期間を返す。
func (i *Issuer) DefaultTTL() time.Duration {
	return i.config.DefaultTTL
}

// Issue はidentityとrolesを埋め込んだトークンを発行する。
// ttlが0以下の場合はデフォルトの有効期間を使用する。
// 現在時刻以外の入力に依存せず、副作用を持たない。
func (i *Issuer) Issue(identity model.Identity, roles []string, ttl time.Duration) (*Issued, error) {
	if identity.SubjectID == "" {
		return nil, fmt.Errorf("token: identity subject is required")
	}
	if ttl <= 0 {
		ttl = i.config.DefaultTTL
	}

	now := i.config.Now()
	iat := jwt.NewNumericDate(now)
	exp := jwt.NewNumericDate(now.Add(ttl))

	sc := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.SubjectID,
			Issuer:    i.config.Issuer,
			Audience:  jwt.ClaimStrings{i.config.Audience},
			IssuedAt:  iat,
			ExpiresAt: exp,
			ID:        i.config.NewID(),
		},
		Email:             identity.Email,
		Name:              identity.DisplayName,
		PreferredUsername: identity.Username,
		Roles:             slices.Clone(roles),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, sc).SignedString(i.config.Secret)
	if err != nil {
		return nil, fmt.Errorf("token: failed to sign: %w", err)
	}

	claims := sc.toClaims()
	return &Issued{
		Token:     signed,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
		Claims:    claims,
	}, nil
}
