package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/CalmLexi/karin-plugin-manage/pkg/logger"
)

type contextKey string

// usernameKey ключ контекста с именем аутентифицированного пользователя
const usernameKey contextKey = "username"

// authMiddleware проверяет сессионный токен запроса. Токен передается в
// заголовке Authorization в форме Bearer
func (h *HTTPHandler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := extractToken(r)
		if tok == "" {
			h.writeFailed(w, http.StatusUnauthorized, "missing token")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		claims, err := h.users.Authenticate(ctx, tok)
		if err != nil {
			h.writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), usernameKey, claims.Username)))
	})
}

// extractToken достает токен из заголовка Authorization
func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// AuthenticatedUser возвращает имя пользователя из контекста запроса
func AuthenticatedUser(ctx context.Context) string {
	username, _ := ctx.Value(usernameKey).(string)
	return username
}

// LoggingMiddleware логирует каждый запрос
func (h *HTTPHandler) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Info("http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.String("remote", clientIP(r)),
			logger.Duration("duration", time.Since(start)))
	})
}

// CORSMiddleware разрешает кросс-доменные запросы фронтенда панели
func (h *HTTPHandler) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
