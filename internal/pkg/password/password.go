package password

import (
	"crypto/md5"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// Hasher интерфейс для работы с паролями
type Hasher interface {
	Hash(password string) (string, error)
	HashRaw(password string) (string, error)
	Check(password, hash string) bool
}

// BcryptHasher реализация Hasher с использованием bcrypt поверх
// md5-дайджеста пароля. Дайджест ограничивает вход bcrypt 32 байтами,
// что снимает ограничение bcrypt в 72 байта на длину пароля
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher создает новый BcryptHasher
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash хеширует пароль: bcrypt от md5-дайджеста
func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(md5hex(password)), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// HashRaw хеширует пароль bcrypt без предварительного дайджеста.
// Используется при смене пароля, формат смены пароля исторически
// отличается от формата создания учетной записи
func (h *BcryptHasher) HashRaw(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Check проверяет, соответствует ли пароль хешу. Сначала проверяется
// форма с md5-дайджестом, затем форма без дайджеста, чтобы обе
// генерации хешей оставались валидными
func (h *BcryptHasher) Check(password, hash string) bool {
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(md5hex(password))) == nil {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// md5hex возвращает hex-представление md5 от данных
func md5hex(data string) string {
	sum := md5.Sum([]byte(data))
	return hex.EncodeToString(sum[:])
}
