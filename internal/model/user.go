// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// PasswordHashはArgon2idのエンコード済み文字列を保持する。
// OAuthのみで登録したユーザーはPasswordHashがnilとなる。
type User struct {
	ID            string
	Email         string
	Name          string
	PasswordHash  *string
	OAuthProvider *string
	OAuthID       *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasPassword はパスワード認証が可能なユーザーかどうかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// UserSummary は認証レスポンスに含めるユーザー情報のサブセット。
// PasswordHashは絶対に含めない。
type UserSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Summary はレスポンス用のUserSummaryを生成する。
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
	}
}
