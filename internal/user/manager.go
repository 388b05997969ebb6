package user

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/CalmLexi/karin-plugin-manage/internal/cache"
	"github.com/CalmLexi/karin-plugin-manage/internal/domain"
	"github.com/CalmLexi/karin-plugin-manage/internal/pkg/password"
	"github.com/CalmLexi/karin-plugin-manage/internal/pkg/token"
	"github.com/CalmLexi/karin-plugin-manage/internal/store"
	pkgerrors "github.com/CalmLexi/karin-plugin-manage/pkg/errors"
	"github.com/CalmLexi/karin-plugin-manage/pkg/logger"
)

// ErrNotReady операция вызвана до завершения Initialize
var ErrNotReady = pkgerrors.New(pkgerrors.ErrNotReady, "user manager is not initialized")

// ErrUserNotFound пользователь не найден
var ErrUserNotFound = pkgerrors.New(pkgerrors.ErrNotFound, "user not found")

// Manager управляет учетными записями и сессиями администраторов.
// Набор записей в памяти является авторитетным путем чтения, каждое
// изменение зеркалируется в хранилище до возврата успеха
type Manager struct {
	mu    sync.Mutex
	users []domain.UserRecord

	store  store.RecordStore
	cache  cache.SessionCache
	hasher password.Hasher
	issuer token.Issuer
	logger logger.Logger

	tokenTTL time.Duration
	otpTTL   time.Duration

	ready atomic.Bool
}

// NewManager создает новый менеджер пользователей. До вызова Initialize
// все операции возвращают NOT_READY
func NewManager(recordStore store.RecordStore, sessionCache cache.SessionCache, hasher password.Hasher, log logger.Logger, tokenTTL, otpTTL time.Duration) *Manager {
	return &Manager{
		store:    recordStore,
		cache:    sessionCache,
		hasher:   hasher,
		logger:   log,
		tokenTTL: tokenTTL,
		otpTTL:   otpTTL,
	}
}

// Initialize загружает учетные записи из хранилища и подписывающий секрет
// из кеша. Отсутствующий секрет генерируется и сохраняется бессрочно
func (m *Manager) Initialize(ctx context.Context) error {
	users, err := m.store.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}

	secret, err := m.cache.Get(ctx, cache.SecretKey())
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			return fmt.Errorf("failed to load signing secret: %w", err)
		}
		secret, err = generateSecret()
		if err != nil {
			return fmt.Errorf("failed to generate signing secret: %w", err)
		}
		if err := m.cache.Set(ctx, cache.SecretKey(), secret, 0); err != nil {
			return fmt.Errorf("failed to persist signing secret: %w", err)
		}
		m.logger.Info("generated new signing secret")
	}

	m.mu.Lock()
	m.users = users
	m.issuer = token.NewManager([]byte(secret))
	m.mu.Unlock()

	m.ready.Store(true)
	m.logger.Info("user manager initialized", logger.Int("users", len(users)))
	return nil
}

// AddUser добавляет учетную запись. Существующий username молча
// игнорируется, запись не перезаписывается
func (m *Manager) AddUser(ctx context.Context, username, pwd string, routes []string) error {
	if !m.ready.Load() {
		return ErrNotReady
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findLocked(username) != nil {
		return nil
	}

	hash, err := m.hasher.Hash(pwd)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	rec := domain.UserRecord{
		Username:     username,
		PasswordHash: hash,
		Routes:       routes,
		Status:       domain.StatusEnabled,
	}

	if err := m.store.Append(rec); err != nil {
		return err
	}
	m.users = append(m.users, rec)

	m.logger.Info("user added", logger.String("username", username))
	return nil
}

// Login выполняет вход по паролю. Возвращает nil при неизвестном
// пользователе или неверном пароле, эти случаи для вызывающей стороны не
// различаются
func (m *Manager) Login(ctx context.Context, username, pwd string) (*domain.LoginResult, error) {
	if !m.ready.Load() {
		return nil, ErrNotReady
	}

	m.mu.Lock()
	rec := m.findLocked(username)
	var copyRec domain.UserRecord
	if rec != nil {
		copyRec = *rec
	}
	m.mu.Unlock()

	if rec == nil || !m.hasher.Check(pwd, copyRec.PasswordHash) {
		return nil, nil
	}

	return m.issueSession(ctx, copyRec.Username, copyRec.Routes)
}

// QuickLogin выполняет вход по одноразовому коду. Код глобален и
// одноразовен: успешный вход удаляет его из кеша
func (m *Manager) QuickLogin(ctx context.Context, otp, username string) (*domain.LoginResult, error) {
	if !m.ready.Load() {
		return nil, ErrNotReady
	}

	current, err := m.cache.Get(ctx, cache.OTPKey())
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if otp == "" || otp != current {
		return nil, nil
	}

	m.mu.Lock()
	rec := m.findLocked(username)
	var copyRec domain.UserRecord
	if rec != nil {
		copyRec = *rec
	}
	m.mu.Unlock()

	if rec == nil {
		return nil, nil
	}

	result, err := m.issueSession(ctx, copyRec.Username, copyRec.Routes)
	if err != nil {
		return nil, err
	}

	if err := m.cache.Del(ctx, cache.OTPKey()); err != nil {
		return nil, err
	}

	return result, nil
}

// Logout завершает сессию. Успех только при совпадении токена с копией в
// кеше, иначе false без побочных эффектов
func (m *Manager) Logout(ctx context.Context, username, tok string) (bool, error) {
	if !m.ready.Load() {
		return false, ErrNotReady
	}

	current, err := m.cache.Get(ctx, cache.TokenKey(username))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if tok != current {
		return false, nil
	}

	if err := m.cache.Del(ctx, cache.TokenKey(username)); err != nil {
		return false, err
	}

	m.logger.Info("user logged out", logger.String("username", username))
	return true, nil
}

// ValidatePassword проверяет пароль без изменения состояния
func (m *Manager) ValidatePassword(ctx context.Context, username, pwd string) (bool, error) {
	if !m.ready.Load() {
		return false, ErrNotReady
	}

	m.mu.Lock()
	rec := m.findLocked(username)
	var hash string
	if rec != nil {
		hash = rec.PasswordHash
	}
	m.mu.Unlock()

	if rec == nil {
		return false, nil
	}
	return m.hasher.Check(pwd, hash), nil
}

// ChangePassword меняет пароль пользователя. Возвращает false если
// пользователь неизвестен
func (m *Manager) ChangePassword(ctx context.Context, username, newPwd string) (bool, error) {
	if !m.ready.Load() {
		return false, ErrNotReady
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.findLocked(username)
	if rec == nil {
		return false, nil
	}

	hash, err := m.hasher.HashRaw(newPwd)
	if err != nil {
		return false, fmt.Errorf("failed to hash password: %w", err)
	}

	if err := m.store.UpdateField(username, "password", hash); err != nil {
		return false, err
	}
	rec.PasswordHash = hash

	m.logger.Info("password changed", logger.String("username", username))
	return true, nil
}

// ChangePermissions заменяет список разрешенных маршрутов пользователя.
// Неизвестный пользователь дает ошибку NOT_FOUND, хранилище не меняется
func (m *Manager) ChangePermissions(ctx context.Context, username string, routes []string) error {
	if !m.ready.Load() {
		return ErrNotReady
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.findLocked(username)
	if rec == nil {
		return ErrUserNotFound
	}

	if err := m.store.UpdateField(username, "routes", routes); err != nil {
		return err
	}
	rec.Routes = routes

	m.logger.Info("permissions changed",
		logger.String("username", username),
		logger.Int("routes", len(routes)))
	return nil
}

// RefreshToken продлевает действующую сессию на свежий TTL. Несовпадение
// токена с копией в кеше - молчаливый no-op
func (m *Manager) RefreshToken(ctx context.Context, username, tok string) error {
	if !m.ready.Load() {
		return ErrNotReady
	}

	current, err := m.cache.Get(ctx, cache.TokenKey(username))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil
		}
		return err
	}
	if tok != current {
		return nil
	}

	return m.cache.Expire(ctx, cache.TokenKey(username), m.tokenTTL)
}

// VerifyToken проверяет, что токен является действующей сессией
// пользователя: совпадает с копией в кеше и проходит проверку подписи
func (m *Manager) VerifyToken(ctx context.Context, username, tok string) (bool, error) {
	if !m.ready.Load() {
		return false, ErrNotReady
	}

	current, err := m.cache.Get(ctx, cache.TokenKey(username))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if tok != current {
		return false, nil
	}

	if _, err := m.issuer.Verify(tok); err != nil {
		return false, nil
	}
	return true, nil
}

// Authenticate проверяет сессионный токен запроса: подпись и срок действия
// плюс совпадение с копией в кеше. Копия в кеше авторитетна для отзыва
func (m *Manager) Authenticate(ctx context.Context, tok string) (*token.Claims, error) {
	if !m.ready.Load() {
		return nil, ErrNotReady
	}

	claims, err := m.issuer.Verify(tok)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrAuthenticationFailed, "invalid token")
	}

	current, err := m.cache.Get(ctx, cache.TokenKey(claims.Username))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.ErrAuthenticationFailed, "session revoked or expired")
		}
		return nil, err
	}
	if current != tok {
		return nil, pkgerrors.New(pkgerrors.ErrAuthenticationFailed, "session revoked or expired")
	}

	return claims, nil
}

// IssueQuickLoginCode генерирует одноразовый код быстрого входа и
// сохраняет его под глобальным ключом с коротким TTL
func (m *Manager) IssueQuickLoginCode(ctx context.Context) (string, error) {
	if !m.ready.Load() {
		return "", ErrNotReady
	}

	code := uuid.NewString()
	if err := m.cache.Set(ctx, cache.OTPKey(), code, m.otpTTL); err != nil {
		return "", err
	}
	return code, nil
}

// issueSession выпускает токен и сохраняет его в кеше под ключом
// пользователя с совпадающим TTL. Повторный вход перезаписывает
// предыдущий токен
func (m *Manager) issueSession(ctx context.Context, username string, routes []string) (*domain.LoginResult, error) {
	tok, expiry, err := m.issuer.Issue(username, routes, m.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	if err := m.cache.Set(ctx, cache.TokenKey(username), tok, m.tokenTTL); err != nil {
		return nil, err
	}

	m.logger.Info("session issued", logger.String("username", username))
	return &domain.LoginResult{
		Token:       tok,
		TokenExpiry: expiry,
		Routes:      routes,
	}, nil
}

// findLocked ищет запись по username, вызывающий держит m.mu
func (m *Manager) findLocked(username string) *domain.UserRecord {
	for i := range m.users {
		if m.users[i].Username == username {
			return &m.users[i]
		}
	}
	return nil
}

// generateSecret возвращает 64 случайных байта в hex-представлении
func generateSecret() (string, error) {
	raw := make([]byte, 64)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
