package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/CalmLexi/karin-plugin-manage/internal/plugincfg"
	"github.com/CalmLexi/karin-plugin-manage/internal/stats"
	"github.com/CalmLexi/karin-plugin-manage/internal/user"
	pkgerrors "github.com/CalmLexi/karin-plugin-manage/pkg/errors"
	"github.com/CalmLexi/karin-plugin-manage/pkg/logger"
	"github.com/CalmLexi/karin-plugin-manage/pkg/metrics"
	"github.com/CalmLexi/karin-plugin-manage/pkg/ratelimit"
	pkgredis "github.com/CalmLexi/karin-plugin-manage/pkg/redis"
)

// requestTimeout ограничивает обращения к кешу и хранилищу в рамках
// одного запроса
const requestTimeout = 5 * time.Second

// HTTPHandler обрабатывает HTTP запросы панели управления
type HTTPHandler struct {
	logger     logger.Logger
	users      *user.Manager
	plugins    *plugincfg.Service
	stats      *stats.Service
	metrics    *metrics.Metrics
	limiter    ratelimit.RateLimiter
	loginLimit int
	redis      *pkgredis.Client
}

// NewHTTPHandler создает новый HTTP обработчик
func NewHTTPHandler(
	log logger.Logger,
	users *user.Manager,
	plugins *plugincfg.Service,
	statsService *stats.Service,
	m *metrics.Metrics,
	limiter ratelimit.RateLimiter,
	loginLimit int,
	redisClient *pkgredis.Client,
) *HTTPHandler {
	return &HTTPHandler{
		logger:     log,
		users:      users,
		plugins:    plugins,
		stats:      statsService,
		metrics:    m,
		limiter:    limiter,
		loginLimit: loginLimit,
		redis:      redisClient,
	}
}

// RegisterRoutes регистрирует HTTP маршруты
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	// Открытые маршруты
	mux.HandleFunc("/health", h.handleHealth)
	mux.Handle("/metrics", h.metrics.Handler())
	mux.HandleFunc("/api/login", h.handleLogin)
	mux.HandleFunc("/api/quickLogin", h.handleQuickLogin)
	mux.HandleFunc("/api/logout", h.handleLogout)
	mux.HandleFunc("/api/refresh", h.handleRefresh)

	// Защищенные маршруты панели
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/quickLogin/code", h.handleIssueOTP)
	apiMux.HandleFunc("/api/user/password", h.handleChangePassword)
	apiMux.HandleFunc("/api/user/permissions", h.handleChangePermissions)
	apiMux.HandleFunc("/api/config/list", h.handleConfigList)
	apiMux.HandleFunc("/api/config/get", h.handleConfigGet)
	apiMux.HandleFunc("/api/config/set", h.handleConfigSet)
	apiMux.HandleFunc("/api/system/status", h.handleSystemStatus)
	apiMux.HandleFunc("/api/system/logs", h.handleSystemLogs)
	apiMux.HandleFunc("/api/system/version", h.handleSystemVersion)

	mux.Handle("/api/quickLogin/", h.authMiddleware(apiMux))
	mux.Handle("/api/user/", h.authMiddleware(apiMux))
	mux.Handle("/api/config/", h.authMiddleware(apiMux))
	mux.Handle("/api/system/", h.authMiddleware(apiMux))
}

// handleHealth возвращает состояние сервиса и подключения к Redis
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	if err := h.redis.HealthCheck(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  status,
		"service": "karin-plugin-manage",
	})
}

// handleLogin обрабатывает вход по паролю. Неизвестный пользователь и
// неверный пароль дают одинаковый ответ
func (h *HTTPHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeFailed(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.rateLimited(w, r, "login") {
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailed(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := h.users.Login(ctx, req.Username, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.metrics.ObserveLogin("password", result != nil)
	if result == nil {
		h.writeFailed(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	h.metrics.ActiveSessions.Inc()
	h.writeSuccess(w, result)
}

// handleQuickLogin обрабатывает вход по одноразовому коду
func (h *HTTPHandler) handleQuickLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeFailed(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.rateLimited(w, r, "quick_login") {
		return
	}

	var req struct {
		OTP      string `json:"otp"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailed(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := h.users.QuickLogin(ctx, req.OTP, req.Username)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.metrics.ObserveLogin("otp", result != nil)
	if result == nil {
		h.writeFailed(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	h.metrics.ActiveSessions.Inc()
	h.writeSuccess(w, result)
}

// handleLogout завершает сессию при совпадении токена с копией в кеше
func (h *HTTPHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeFailed(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Username string `json:"username"`
		Token    string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailed(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	ok, err := h.users.Logout(ctx, req.Username, req.Token)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if ok {
		h.metrics.ActiveSessions.Dec()
	}
	h.writeSuccess(w, map[string]bool{"success": ok})
}

// handleRefresh продлевает сессию на свежий TTL. Несовпадение токена -
// молчаливый no-op, ответ в обоих случаях успешный
func (h *HTTPHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeFailed(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Username string `json:"username"`
		Token    string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailed(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.users.RefreshToken(ctx, req.Username, req.Token); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeSuccess(w, map[string]bool{"success": true})
}

// handleIssueOTP выпускает одноразовый код быстрого входа
func (h *HTTPHandler) handleIssueOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeFailed(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	code, err := h.users.IssueQuickLoginCode(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("quick login code issued",
		logger.String("issued_by", AuthenticatedUser(r.Context())))
	h.writeSuccess(w, map[string]string{"otp": code})
}

// handleChangePassword меняет пароль пользователя
func (h *HTTPHandler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeFailed(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailed(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	ok, err := h.users.ChangePassword(ctx, req.Username, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		h.writeFailed(w, http.StatusNotFound, "user not found")
		return
	}

	h.writeSuccess(w, map[string]bool{"success": true})
}

// handleChangePermissions заменяет список разрешенных маршрутов
func (h *HTTPHandler) handleChangePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeFailed(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Username string   `json:"username"`
		Routes   []string `json:"routes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailed(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.users.ChangePermissions(ctx, req.Username, req.Routes); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeSuccess(w, map[string]bool{"success": true})
}

// handleConfigList возвращает список конфигурационных файлов плагинов
func (h *HTTPHandler) handleConfigList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeFailed(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	names, err := h.plugins.List()
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeSuccess(w, names)
}

// handleConfigGet возвращает содержимое одного конфигурационного файла
func (h *HTTPHandler) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeFailed(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		File string `json:"file"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailed(w, http.StatusBadRequest, "invalid request body")
		return
	}

	config, err := h.plugins.Get(req.File)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeSuccess(w, config)
}

// handleConfigSet применяет изменения к конфигурационному файлу.
// Если ни одно значение фактически не изменилось, ответ failed
func (h *HTTPHandler) handleConfigSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeFailed(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		File   string         `json:"file"`
		Config []plugincfg.KV `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailed(w, http.StatusBadRequest, "invalid request body")
		return
	}

	applied, err := h.plugins.Set(req.File, req.Config)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeSuccess(w, applied)
}

// handleSystemStatus возвращает счетчики рантайма бота
func (h *HTTPHandler) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeFailed(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	counts, err := h.stats.StatusCounts(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeSuccess(w, counts)
}

// handleSystemLogs возвращает последние записи журнала рантайма
func (h *HTTPHandler) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeFailed(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Number        int    `json:"number"`
		Level         string `json:"level"`
		LastTimestamp string `json:"lastTimestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailed(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entries, err := h.stats.Logs(req.Number, req.Level, req.LastTimestamp)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeSuccess(w, entries)
}

// handleSystemVersion возвращает версию бэкенда
func (h *HTTPHandler) handleSystemVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeFailed(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	h.writeSuccess(w, stats.Version)
}

// rateLimited проверяет лимит частоты для запроса, true если превышен
func (h *HTTPHandler) rateLimited(w http.ResponseWriter, r *http.Request, kind string) bool {
	if h.limiter == nil || h.loginLimit <= 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	exceeded, err := h.limiter.CheckRateLimit(ctx, kind+":"+clientIP(r), h.loginLimit, time.Minute)
	if err != nil {
		// Недоступность лимитера не должна блокировать вход
		h.logger.Warn("rate limiter unavailable", logger.Error(err))
		return false
	}
	if exceeded {
		h.writeFailed(w, http.StatusTooManyRequests, "too many requests")
		return true
	}
	return false
}

// clientIP возвращает адрес клиента без порта
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// response единый формат ответа панели
type response struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// writeSuccess отправляет успешный ответ
func (h *HTTPHandler) writeSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response{Status: "success", Data: data})
}

// writeFailed отправляет неуспешный ответ с заданным статусом
func (h *HTTPHandler) writeFailed(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response{Status: "failed", Message: message})
}

// writeError отображает типизированную ошибку в HTTP ответ
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	var typed *pkgerrors.Error
	if errors.As(err, &typed) {
		h.writeFailed(w, typed.HTTPStatus(), typed.Message)
		return
	}

	h.logger.Error("request failed", logger.Error(err))
	h.writeFailed(w, http.StatusInternalServerError, "internal error")
}
