// Package auth はパスワード認証、OAuth認証フロー、トークン発行を提供する。
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2idの固定コストパラメータ。
// 対話的なWebログイン向けの推奨下限（1操作あたり約100〜300ms）に合わせ、
// ログインのレイテンシを抑えつつオフライン総当たりに耐える値とする。
const (
	argonMemory      = 19456 // KiB (19 MiB)
	argonTime        = 2
	argonParallelism = 1
	argonSaltLen     = 16
	argonKeyLen      = 32
)

// ErrInvalidHash は保存されたハッシュ文字列が構造的に解析不能であることを表す。
// パスワード不一致はエラーではなくfalseで返るため、このエラーは
// ストレージ破損など内部異常の兆候として扱う。
var ErrInvalidHash = errors.New("invalid password hash format")

// HashPassword はパスワードをArgon2idでハッシュ化し、PHC形式の文字列を返す。
// 呼び出しごとに新しいランダムソルトを生成する。
// 出力はアルゴリズム・バージョン・パラメータ・ソルトを自己記述するため、
// 検証時に外部のパラメータ参照を必要としない。
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonParallelism, argonKeyLen)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)

	return encoded, nil
}

// VerifyPassword はパスワードを保存済みハッシュと定数時間で比較する。
// パラメータは現在の設定ではなくハッシュ文字列に埋め込まれた値を使うため、
// コストパラメータを将来変更しても過去の認証情報は検証可能なまま残る。
// パスワード不一致は(false, nil)、ハッシュ文字列の破損はErrInvalidHashを返す。
func VerifyPassword(password, encodedHash string) (bool, error) {
	memory, timeCost, parallelism, salt, key, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}

	derived := argon2.IDKey([]byte(password), salt, timeCost, memory, parallelism, uint32(len(key)))

	return subtle.ConstantTimeCompare(derived, key) == 1, nil
}

// decodeHash はPHC形式のArgon2idハッシュ文字列を分解する。
// 形式: $argon2id$v=19$m=19456,t=2,p=1$<salt>$<key>
func decodeHash(encodedHash string) (memory, timeCost uint32, parallelism uint8, salt, key []byte, err error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &parallelism); err != nil {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}

	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}
	if len(key) == 0 {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}

	return memory, timeCost, parallelism, salt, key, nil
}
