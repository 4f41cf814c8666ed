// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// 内部の失敗理由（メール不存在・パスワード不一致・トークン改ざん等）は
// 外部に区別できない形でこのエラーに畳み込む。
type APIError struct {
	Code          string // エラーコード
	Message       string // エラーメッセージ
	Category      string // カテゴリ: auth, validation, system
	Action        string // ユーザー向け対処方法
	RetryAfterSec int    // レート制限時の再試行待ち秒数（0なら未設定）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeTooManyRequests = "TOO_MANY_REQUESTS"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// NewUnauthorizedError は認証失敗エラーを生成する。
// メールアドレスの不存在とパスワード不一致・トークン不正は
// すべて同一のメッセージに集約し、アカウントの存在有無を漏らさない。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "メールアドレスまたはパスワードが正しくないか、認証情報が無効です。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewBadRequestError は入力不正エラーを生成する。
func NewBadRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeBadRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewOAuthOnlyAccountError はOAuth専用アカウントへのパスワードログイン試行エラーを生成する。
func NewOAuthOnlyAccountError() *APIError {
	return &APIError{
		Code:     ErrCodeBadRequest,
		Message:  "このアカウントはOAuthログイン専用です。",
		Category: "validation",
		Action:   "Googleログインをご利用ください。",
	}
}

// NewTooManyRequestsError はレート制限超過エラーを生成する。
// retryAfterSecは再試行可能になるまでの秒数。
func NewTooManyRequestsError(retryAfterSec int) *APIError {
	return &APIError{
		Code:          ErrCodeTooManyRequests,
		Message:       "ログイン試行回数が上限に達しました。",
		Category:      "auth",
		Action:        fmt.Sprintf("%d秒後に再度お試しください。", retryAfterSec),
		RetryAfterSec: retryAfterSec,
	}
}

// NewDuplicateEmailError は登録済みメールアドレスでの再登録エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeBadRequest,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInternalError は内部エラーを生成する。
// ハッシュ生成やトークン署名の失敗など暗号系の詳細はログにのみ記録し、
// クライアントには一般的なメッセージだけを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
