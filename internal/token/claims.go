// Package token はセッショントークン（HS256署名のJWT）の発行と検証を提供する。
//
// トークン自体がセッション状態のすべてを保持し、サーバー側にセッションレコードは存在しない。
// 発行（Issuer）と検証（Verifier）は同一の共有シークレットを使用する。
package token

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/authgate/internal/model"
)

// sessionClaims はJWTのエンコード・デコードに使う内部クレーム型。
type sessionClaims struct {
	jwt.RegisteredClaims
	Email             string   `json:"email"`
	Name              string   `json:"name"`
	PreferredUsername string   `json:"preferred_username"`
	Roles             []string `json:"roles"`
}

// Claims は検証済みセッショントークンのクレームを表す。
// リクエストスコープの認証コンテキストとして使用され、永続化しない。
type Claims struct {
	Subject   string
	Email     string
	Name      string
	Username  string
	Roles     []string
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}

// Identity はクレームに埋め込まれた身元情報を返す。
func (c *Claims) Identity() model.Identity {
	return model.Identity{
		SubjectID:   c.Subject,
		Email:       c.Email,
		DisplayName: c.Name,
		Username:    c.Username,
	}
}

// HasAnyRole はallowedのいずれかのロールを保持しているかを判定する。
func (c *Claims) HasAnyRole(allowed []string) bool {
	for _, role := range c.Roles {
		if slices.Contains(allowed, role) {
			return true
		}
	}
	return false
}

// toClaims は内部クレーム型を公開用のClaimsに変換する。
func (sc *sessionClaims) toClaims() *Claims {
	c := &Claims{
		Subject:  sc.Subject,
		Email:    sc.Email,
		Name:     sc.Name,
		Username: sc.PreferredUsername,
		Roles:    slices.Clone(sc.Roles),
		Issuer:   sc.Issuer,
		Audience: []string(sc.Audience),
		ID:       sc.ID,
	}
	if sc.IssuedAt != nil {
		c.IssuedAt = sc.IssuedAt.Time.UTC()
	}
	if sc.ExpiresAt != nil {
		c.ExpiresAt = sc.ExpiresAt.Time.UTC()
	}
	return c
}
