// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/authgate/internal/model"
)

// ErrDuplicateEmail は登録済みメールアドレスでの作成試行を表す。
// メールアドレスの一意性はストア側（UNIQUE制約）で保証される。
var ErrDuplicateEmail = errors.New("email already exists")

// UserRepository はユーザーデータの永続化インターフェース。
// 認証コアはこのインターフェース越しにのみユーザーストアへアクセスする。
type UserRepository interface {
	// Create はユーザーを作成する。
	// メールアドレスが登録済みの場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByEmail はメールアドレスでユーザーを検索する。
	// 大文字小文字は保存された値との完全一致。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByOAuth はOAuthプロバイダーとプロバイダー側ユーザーIDでユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByOAuth(ctx context.Context, provider, oauthID string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
}
