package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode представляет код ошибки
type ErrorCode string

// Определение кодов ошибок панели управления
const (
	// ErrNotReady операция вызвана до завершения инициализации
	ErrNotReady ErrorCode = "NOT_READY"
	// ErrAuthenticationFailed неизвестный пользователь или неверные учетные
	// данные, намеренно не различаются для вызывающей стороны
	ErrAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	// ErrNotFound запрошенный пользователь или ресурс не найден
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrInvalidOTP одноразовый код не совпадает или уже использован
	ErrInvalidOTP ErrorCode = "INVALID_OTP"
	// ErrStoreUnavailable файловое хранилище или кеш недоступны
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// ErrNoChange запрошенное обновление не привело к изменению значения
	ErrNoChange ErrorCode = "NO_CHANGE"
	// ErrValidation некорректные входные данные
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	// ErrInternal внутренняя ошибка
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// Error представляет ошибку с кодом и причиной
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error возвращает сообщение об ошибке
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap возвращает причину ошибки
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду
func (e *Error) Is(target error) bool {
	if targetError, ok := target.(*Error); ok {
		return e.Code == targetError.Code
	}
	return false
}

// New создает новую ошибку с кодом
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap оборачивает существующую ошибку
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// CodeOf возвращает код ошибки, ErrInternal если ошибка не типизирована
func CodeOf(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ErrInternal
}

// HTTPStatus возвращает соответствующий HTTP статус для ошибки
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusOK
	}

	switch e.Code {
	case ErrNotReady:
		return http.StatusServiceUnavailable
	case ErrAuthenticationFailed, ErrInvalidOTP:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrValidation, ErrNoChange:
		return http.StatusBadRequest
	case ErrStoreUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
