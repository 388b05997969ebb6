package store

import (
	"github.com/CalmLexi/karin-plugin-manage/internal/domain"
)

// RecordStore контракт долговременного хранилища учетных записей.
// Записи хранятся упорядоченным списком в редактируемом человеком файле
type RecordStore interface {
	// ReadAll возвращает все записи. Отсутствующий файл дает пустой список
	// и создается как побочный эффект первого обращения
	ReadAll() ([]domain.UserRecord, error)
	// Append добавляет запись, не затрагивая форматирование существующих
	Append(rec domain.UserRecord) error
	// UpdateField заменяет одно поле записи с заданным username.
	// Скалярные значения заменяются как есть, списки - целиком.
	// Неизвестный username не является ошибкой
	UpdateField(username, field string, value interface{}) error
}
