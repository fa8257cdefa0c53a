package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultStateTTL はstate値の有効期間。
	DefaultStateTTL = 10 * time.Minute

	// stateAudience はセッショントークンと取り違えないためのstate専用audience。
	stateAudience = "oauth-state"
)

// ErrInvalidState はstateパラメータが欠落・改ざん・期限切れ・再利用されたことを表す。
var ErrInvalidState = errors.New("invalid oauth state")

// StateConfig はStateCodecの設定。
type StateConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration

	// テスト用に差し替え可能
	Now      func() time.Time
	NewNonce func() string
}

// StateCodec はCSRF対策用のstate値を署名付きJWTとして発行・検証する。
// 検証済みのnonceは有効期限までプロセス内に保持し、同じstateの再利用を拒否する。
type StateCodec struct {
	config StateConfig
	parser *jwt.Parser

	mu       sync.Mutex
	consumed map[string]time.Time // nonce -> exp
}

// NewStateCodec はStateCodecを生成する。
func NewStateCodec(config StateConfig) (*StateCodec, error) {
	if len(config.Secret) == 0 {
		return nil, errors.New("state: signing secret is required")
	}
	if config.TTL <= 0 {
		config.TTL = DefaultStateTTL
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.NewNonce == nil {
		config.NewNonce = uuid.NewString
	}
	return &StateCodec{
		config: config,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
		consumed: make(map[string]time.Time),
	}, nil
}

// Issue は新しいstate値を発行する。
func (c *StateCodec) Issue() (string, error) {
	now := c.config.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.config.Issuer,
		Audience:  jwt.ClaimStrings{stateAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.config.TTL)),
		ID:        c.config.NewNonce(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.config.Secret)
	if err != nil {
		return "", fmt.Errorf("state: failed to sign: %w", err)
	}
	return signed, nil
}

// Consume はstate値を検証し、使用済みとして記録する。
// 署名、audience、有効期限、未使用であることをすべて満たす場合のみnilを返す。
func (c *StateCodec) Consume(state string) error {
	raw := strings.TrimSpace(state)
	if raw == "" {
		return fmt.Errorf("%w: missing", ErrInvalidState)
	}

	var claims jwt.RegisteredClaims
	if _, err := c.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return c.config.Secret, nil
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	now := c.config.Now()
	if claims.ExpiresAt == nil || !now.Before(claims.ExpiresAt.Time) {
		return fmt.Errorf("%w: expired", ErrInvalidState)
	}
	if claims.Issuer != c.config.Issuer || !slices.Contains([]string(claims.Audience), stateAudience) {
		return fmt.Errorf("%w: unexpected issuer or audience", ErrInvalidState)
	}
	if claims.ID == "" {
		return fmt.Errorf("%w: missing nonce", ErrInvalidState)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(now)
	if _, used := c.consumed[claims.ID]; used {
		return fmt.Errorf("%w: already used", ErrInvalidState)
	}
	c.consumed[claims.ID] = claims.ExpiresAt.Time
	return nil
}

// pruneLocked は有効期限切れのnonceを破棄する。呼び出し側でロックを保持すること。
func (c *StateCodec) pruneLocked(now time.Time) {
	for nonce, exp := range c.consumed {
		if !now.Before(exp) {
			delete(c.consumed, nonce)
		}
	}
}
