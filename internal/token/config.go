package token

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL はConfig.DefaultTTLが未指定の場合のトークン有効期間。
const DefaultTTL = time.Hour

// Config はIssuerとVerifierの共通設定。
// 同一プロセス内で同じ値を両者に渡すこと。
type Config struct {
	Secret     []byte
	Issuer     string
	Audience   string
	DefaultTTL time.Duration

	// テスト用に差し替え可能
	Now   func() time.Time
	NewID func() string
}

func (c Config) withDefaults() (Config, error) {
	if len(c.Secret) == 0 {
		return c, errors.New("token: signing secret is required")
	}
	if c.Issuer == "" || c.Audience == "" {
		return c, errors.New("token: issuer and audience are required")
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	return c, nil
}
