package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound ключ отсутствует в кеше
var ErrNotFound = errors.New("cache key not found")

// SessionCache контракт внешнего key-value хранилища с поддержкой TTL.
// Хранит действующие сессионные токены, подписывающий секрет и текущий
// одноразовый код быстрого входа
type SessionCache interface {
	// Get возвращает значение ключа, ErrNotFound если ключ отсутствует
	Get(ctx context.Context, key string) (string, error)
	// Set записывает значение с TTL, ttl = 0 означает отсутствие срока
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del удаляет ключ
	Del(ctx context.Context, key string) error
	// Expire устанавливает ключу новый TTL
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// keyPrefix пространство ключей панели в общем Redis
const keyPrefix = "karin-plugin-manage"

// TokenKey возвращает ключ действующего токена пользователя
func TokenKey(username string) string {
	return fmt.Sprintf("%s:user:%s:token", keyPrefix, username)
}

// SecretKey возвращает ключ подписывающего секрета
func SecretKey() string {
	return keyPrefix + ":secretKey"
}

// OTPKey возвращает ключ текущего одноразового кода быстрого входа
func OTPKey() string {
	return keyPrefix + ":user:otp"
}
