package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken は署名不一致・形式不正・期限切れを区別せずに表す。
// 呼び出し側はこれらを一律「未認証」として扱い、失敗理由を外部に漏らさない。
var ErrInvalidToken = errors.New("invalid token")

// Claims はセッショントークンに埋め込む本人性の主張。
// サーバー側にセッションレコードは持たず、有効性は署名と期限のみで決まる。
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
}

// GenerateToken はユーザー情報からHS256署名付きのセッショントークンを発行する。
// issued_atは現在時刻、期限はttl経過後。ttlがトークン失効の唯一の手段となる
// （ログアウトはクライアント側でのトークン破棄のみ）。
func GenerateToken(userID, email, name, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
		Name:  name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// VerifyToken はトークンの署名と期限を検証し、クレームを返す。
// 署名不一致・形式不正・期限切れ（now >= exp、猶予なし）はすべて
// ErrInvalidTokenに畳み込む。署名アルゴリズムはHS256のみ受け付ける。
func VerifyToken(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
