package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// hashPassword はパスワードをbcryptでハッシュ化する。costが0の場合は既定値を使用する。
func hashPassword(plain string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// checkPassword はパスワードがハッシュと一致するかを返す。
func checkPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
