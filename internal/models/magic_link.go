package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// MagicLink представляет одноразовый токен входа по ссылке.
// Ядро хранит только хеш токена и срок действия; выпуск и доставка
// ссылки — ответственность внешнего слоя аутентификации.
type MagicLink struct {
	ID                uuid.UUID      `json:"id"`
	TokenHash         string         `json:"token_hash"`
	ExpiresAt         time.Time      `json:"expires_at"`
	UserEmail         string         `json:"user_email"`
	UserID            *uuid.UUID     `json:"user_id,omitempty"`
	Source            *string        `json:"source,omitempty"`
	SignupAttribution map[string]any `json:"signup_attribution"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// HashMagicLinkToken возвращает hex-кодированный SHA-256 хеш токена.
// Токен — случайные 256 бит, медленное хеширование здесь не требуется.
func HashMagicLinkToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
