package domain

import "time"

// Статусы учетной записи. Статус disabled записывается и сохраняется, но
// текущими операциями входа не проверяется
const (
	StatusEnabled  = "enabled"
	StatusDisabled = "disabled"
)

// UserRecord представляет учетную запись администратора панели.
// Username уникален, регистрозависим и не меняется после создания.
// PasswordHash хранит bcrypt от md5-дайджеста пароля, открытый пароль и
// промежуточный дайджест не сохраняются и не логируются
type UserRecord struct {
	Username     string   `yaml:"username" json:"username"`
	PasswordHash string   `yaml:"password" json:"-"`
	Routes       []string `yaml:"routes" json:"routes"`
	Status       string   `yaml:"status" json:"status"`
}

// LoginResult результат успешного входа
type LoginResult struct {
	Token       string    `json:"token"`
	TokenExpiry time.Time `json:"tokenExpiry"`
	Routes      []string  `json:"routes"`
}
