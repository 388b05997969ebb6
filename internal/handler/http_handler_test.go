package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CalmLexi/karin-plugin-manage/internal/cache"
	"github.com/CalmLexi/karin-plugin-manage/internal/pkg/password"
	"github.com/CalmLexi/karin-plugin-manage/internal/plugincfg"
	"github.com/CalmLexi/karin-plugin-manage/internal/stats"
	"github.com/CalmLexi/karin-plugin-manage/internal/store"
	"github.com/CalmLexi/karin-plugin-manage/internal/user"
	"github.com/CalmLexi/karin-plugin-manage/pkg/logger"
	"github.com/CalmLexi/karin-plugin-manage/pkg/metrics"
	pkgredis "github.com/CalmLexi/karin-plugin-manage/pkg/redis"
)

// memoryCache реализация SessionCache в памяти для тестов обработчиков
type memoryCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (c *memoryCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.data[key]
	if !ok {
		return "", cache.ErrNotFound
	}
	return value, nil
}

func (c *memoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memoryCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memoryCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func newTestHandler(t *testing.T) (*http.ServeMux, *user.Manager) {
	t.Helper()

	log, err := logger.NewLogger("dev", "error", "test")
	require.NoError(t, err)

	dir := t.TempDir()
	recordStore := store.NewYamlStore(filepath.Join(dir, "user.yaml"), "")
	sessionCache := &memoryCache{data: make(map[string]string)}

	users := user.NewManager(recordStore, sessionCache, password.NewBcryptHasher(4), log, time.Hour, 5*time.Minute)
	require.NoError(t, users.Initialize(context.Background()))

	plugins := plugincfg.NewService(filepath.Join(dir, "plugin"), log)
	statsService := stats.NewService(nil, filepath.Join(dir, "karin.log"), log)

	handler := NewHTTPHandler(
		log,
		users,
		plugins,
		statsService,
		metrics.NewMetrics("test"),
		nil, // лимитер в тестах отключен
		0,
		&pkgredis.Client{},
	)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return mux, users
}

func postJSON(t *testing.T, mux *http.ServeMux, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func loginToken(t *testing.T, mux *http.ServeMux, users *user.Manager) string {
	t.Helper()

	require.NoError(t, users.AddUser(context.Background(), "alice", "secret123", []string{"/config"}))

	rec := postJSON(t, mux, "/api/login", "", map[string]string{
		"username": "alice",
		"password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResponse(t, rec)
	data := body["data"].(map[string]interface{})
	return data["token"].(string)
}

func TestHandleLogin_Success(t *testing.T) {
	mux, users := newTestHandler(t)
	require.NoError(t, users.AddUser(context.Background(), "alice", "secret123", []string{"/config"}))

	rec := postJSON(t, mux, "/api/login", "", map[string]string{
		"username": "alice",
		"password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResponse(t, rec)
	assert.Equal(t, "success", body["status"])

	data := body["data"].(map[string]interface{})
	assert.NotEmpty(t, data["token"])
	assert.NotEmpty(t, data["tokenExpiry"])
	assert.Equal(t, []interface{}{"/config"}, data["routes"])
}

func TestHandleLogin_Failure(t *testing.T) {
	mux, users := newTestHandler(t)
	require.NoError(t, users.AddUser(context.Background(), "alice", "secret123", nil))

	// Неверный пароль и неизвестный пользователь дают одинаковый ответ
	for _, req := range []map[string]string{
		{"username": "alice", "password": "wrong"},
		{"username": "ghost", "password": "secret123"},
	} {
		rec := postJSON(t, mux, "/api/login", "", req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		body := decodeResponse(t, rec)
		assert.Equal(t, "failed", body["status"])
		assert.Equal(t, "authentication failed", body["message"])
	}
}

func TestHandleLogin_MethodNotAllowed(t *testing.T) {
	mux, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/login", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleLogout(t *testing.T) {
	mux, users := newTestHandler(t)
	token := loginToken(t, mux, users)

	// Чужой токен не завершает сессию
	rec := postJSON(t, mux, "/api/logout", "", map[string]string{
		"username": "alice",
		"token":    "stale-token",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeResponse(t, rec)
	assert.Equal(t, false, body["data"].(map[string]interface{})["success"])

	rec = postJSON(t, mux, "/api/logout", "", map[string]string{
		"username": "alice",
		"token":    token,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeResponse(t, rec)
	assert.Equal(t, true, body["data"].(map[string]interface{})["success"])
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	mux, _ := newTestHandler(t)

	rec := postJSON(t, mux, "/api/config/list", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body := decodeResponse(t, rec)
	assert.Equal(t, "failed", body["status"])
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	mux, _ := newTestHandler(t)

	rec := postJSON(t, mux, "/api/config/list", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_RevokedSession(t *testing.T) {
	mux, users := newTestHandler(t)
	token := loginToken(t, mux, users)

	// После выхода подпись токена все еще валидна, но сессия отозвана
	ok, err := users.Logout(context.Background(), "alice", token)
	require.NoError(t, err)
	require.True(t, ok)

	rec := postJSON(t, mux, "/api/config/list", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleConfigList_Authorized(t *testing.T) {
	mux, users := newTestHandler(t)
	token := loginToken(t, mux, users)

	rec := postJSON(t, mux, "/api/config/list", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResponse(t, rec)
	assert.Equal(t, "success", body["status"])
}

func TestHandleChangePermissions_UnknownUser(t *testing.T) {
	mux, users := newTestHandler(t)
	token := loginToken(t, mux, users)

	rec := postJSON(t, mux, "/api/user/permissions", token, map[string]interface{}{
		"username": "ghost",
		"routes":   []string{"/config"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := decodeResponse(t, rec)
	assert.Equal(t, "failed", body["status"])
}

func TestHandleChangePassword(t *testing.T) {
	mux, users := newTestHandler(t)
	token := loginToken(t, mux, users)

	rec := postJSON(t, mux, "/api/user/password", token, map[string]string{
		"username": "alice",
		"password": "newSecret",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Вход по новому паролю проходит
	rec = postJSON(t, mux, "/api/login", "", map[string]string{
		"username": "alice",
		"password": "newSecret",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleQuickLoginFlow(t *testing.T) {
	mux, users := newTestHandler(t)
	token := loginToken(t, mux, users)

	// Выпускаем код через защищенный маршрут
	rec := postJSON(t, mux, "/api/quickLogin/code", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResponse(t, rec)
	code := body["data"].(map[string]interface{})["otp"].(string)
	require.NotEmpty(t, code)

	// Входим по коду без пароля
	rec = postJSON(t, mux, "/api/quickLogin", "", map[string]string{
		"otp":      code,
		"username": "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeResponse(t, rec)
	assert.Equal(t, "success", body["status"])

	// Код одноразовый
	rec = postJSON(t, mux, "/api/quickLogin", "", map[string]string{
		"otp":      code,
		"username": "alice",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSystemVersion(t *testing.T) {
	mux, users := newTestHandler(t)
	token := loginToken(t, mux, users)

	rec := postJSON(t, mux, "/api/system/version", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResponse(t, rec)
	assert.Equal(t, stats.Version, body["data"])
}

func TestHandleHealth_DegradedWithoutRedis(t *testing.T) {
	mux, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	// Redis в тестах не поднят
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
