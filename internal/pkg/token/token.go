package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSignature подпись токена не совпадает или токен имеет
// неожиданный формат
var ErrInvalidSignature = errors.New("invalid token signature")

// ErrExpired срок действия токена истек
var ErrExpired = errors.New("token is expired")

// Claims полезная нагрузка сессионного токена
type Claims struct {
	Username string   `json:"username"`
	Routes   []string `json:"routes"`
	jwt.RegisteredClaims
}

// Issuer интерфейс для выпуска и проверки сессионных токенов
type Issuer interface {
	Issue(username string, routes []string, ttl time.Duration) (string, time.Time, error)
	Verify(token string) (*Claims, error)
}

// Manager реализация Issuer на HMAC-SHA256
type Manager struct {
	secret []byte
}

// NewManager создает новый менеджер токенов с симметричным секретом
func NewManager(secret []byte) *Manager {
	return &Manager{secret: secret}
}

// Issue выпускает подписанный токен с абсолютным сроком действия ttl от
// текущего момента. Возвращает токен и момент истечения
func (m *Manager) Issue(username string, routes []string, ttl time.Duration) (string, time.Time, error) {
	expiry := time.Now().UTC().Add(ttl)
	claims := &Claims{
		Username: username,
		Routes:   routes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			Subject:   username,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiry, nil
}

// Verify проверяет подпись и срок действия токена.
// Возвращает ErrInvalidSignature при несовпадении подписи или неожиданном
// алгоритме, ErrExpired при истекшем сроке действия
func (m *Manager) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidSignature
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidSignature
	}

	return claims, nil
}
