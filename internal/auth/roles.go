package auth

import (
	"strings"

	"github.com/hitoshi/authgate/internal/model"
)

// RoleMapper はIdentityからロール集合を決定する。
// 結果はトークン発行時に埋め込まれ、以後変更されない。
type RoleMapper interface {
	Roles(identity model.Identity) []string
}

// RoleMapperFunc は関数をRoleMapperとして扱うアダプタ。
type RoleMapperFunc func(identity model.Identity) []string

// Roles はfを呼び出す。
func (f RoleMapperFunc) Roles(identity model.Identity) []string {
	return f(identity)
}

// DefaultRoleMapper は全員に"user"ロールのみを付与する。
type DefaultRoleMapper struct{}

// Roles は["user"]を返す。
func (DefaultRoleMapper) Roles(model.Identity) []string {
	return []string{model.DefaultRole}
}

// EmailRoleMapper は指定メールアドレスのユーザーに"admin"ロールを追加する。
type EmailRoleMapper struct {
	admins map[string]struct{}
}

// NewEmailRoleMapper はEmailRoleMapperを生成する。メールアドレスは大文字小文字を区別しない。
func NewEmailRoleMapper(adminEmails []string) *EmailRoleMapper {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, email := range adminEmails {
		if e := normalizeEmail(email); e != "" {
			admins[e] = struct{}{}
		}
	}
	return &EmailRoleMapper{admins: admins}
}

// Roles は"user"と、管理者であれば"admin"を返す。
func (m *EmailRoleMapper) Roles(identity model.Identity) []string {
	roles := []string{model.DefaultRole}
	if _, ok := m.admins[normalizeEmail(identity.Email)]; ok {
		roles = append(roles, model.AdminRole)
	}
	return roles
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// normalizeRoles は空文字列と重複を取り除き、出現順を保った新しいスライスを返す。
func normalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

var (
	_ RoleMapper = DefaultRoleMapper{}
	_ RoleMapper = (*EmailRoleMapper)(nil)
	_ RoleMapper = RoleMapperFunc(nil)
)
