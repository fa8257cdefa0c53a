// Package model はドメインモデルを定義する。
package model

// Identity は外部IdPから取得したユーザーの身元情報を表す。
// ログイン1回ごとに取得され、取得後は変更しない。
type Identity struct {
	SubjectID   string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	Username    string `json:"username"`
}

// DefaultRole はトークン発行時に全ユーザーへ付与されるロール。
const DefaultRole = "user"

// AdminRole は管理者向け操作に必要なロール。
const AdminRole = "admin"
