package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config представляет конфигурацию панели управления
type Config struct {
	Server       ServerConfig    `json:"server" yaml:"server"`
	Redis        RedisConfig     `json:"redis" yaml:"redis"`
	Logger       LoggerConfig    `json:"logger" yaml:"logger"`
	Auth         AuthConfig      `json:"auth" yaml:"auth"`
	Data         DataConfig      `json:"data" yaml:"data"`
	RateLimiting RateLimitConfig `json:"rate_limiting" yaml:"rate_limiting"`
	Environment  string          `json:"environment" yaml:"environment"`
}

// ServerConfig представляет конфигурацию HTTP-сервера
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// RedisConfig представляет конфигурацию Redis
type RedisConfig struct {
	Addr          string `json:"addr" yaml:"addr"`
	Password      string `json:"password" yaml:"password"`
	DB            int    `json:"db" yaml:"db"`
	PoolSize      int    `json:"pool_size" yaml:"pool_size"`
	MinIdleConn   int    `json:"min_idle_conn" yaml:"min_idle_conn"`
	MaxRetries    int    `json:"max_retries" yaml:"max_retries"`
	RetryInterval string `json:"retry_interval" yaml:"retry_interval"`
}

// LoggerConfig представляет конфигурацию логгера
type LoggerConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// AuthConfig представляет конфигурацию подсистемы аутентификации
type AuthConfig struct {
	// TokenTTL время жизни сессионного токена
	TokenTTL string `json:"token_ttl" yaml:"token_ttl"`
	// OTPTTL время жизни одноразового кода быстрого входа
	OTPTTL string `json:"otp_ttl" yaml:"otp_ttl"`
	// BcryptCost рабочий фактор bcrypt
	BcryptCost int `json:"bcrypt_cost" yaml:"bcrypt_cost"`
}

// DataConfig пути к данным панели
type DataConfig struct {
	// UserFile YAML-файл со списком учетных записей
	UserFile string `json:"user_file" yaml:"user_file"`
	// LegacyConfigFile конфиг старого формата, мигрируется при первом запуске
	LegacyConfigFile string `json:"legacy_config_file" yaml:"legacy_config_file"`
	// PluginConfigDir каталог с конфигурационными файлами плагинов
	PluginConfigDir string `json:"plugin_config_dir" yaml:"plugin_config_dir"`
	// LogFile файл журнала рантайма бота
	LogFile string `json:"log_file" yaml:"log_file"`
}

// RateLimitConfig представляет конфигурацию ограничения частоты запросов
type RateLimitConfig struct {
	LoginPerMinute int `json:"login_per_minute" yaml:"login_per_minute"`
}

// LoadConfig загружает конфигурацию в следующем порядке приоритета:
// 1. Значения по умолчанию
// 2. Файл конфигурации (если указан)
// 3. Переменные окружения
// 4. Валидация
func LoadConfig(configFile string) (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 7777,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			Password:      "",
			DB:            0,
			PoolSize:      10,
			MinIdleConn:   2,
			MaxRetries:    3,
			RetryInterval: "1s",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			TokenTTL:   "1h",
			OTPTTL:     "5m",
			BcryptCost: 10,
		},
		Data: DataConfig{
			UserFile:         "data/karin-plugin-manage/user.yaml",
			LegacyConfigFile: "config/plugin/karin-plugin-manage/user.yaml",
			PluginConfigDir:  "config/plugin",
			LogFile:          "logs/karin.log",
		},
		RateLimiting: RateLimitConfig{
			LoginPerMinute: 20,
		},
		Environment: "dev",
	}

	if configFile != "" {
		if err := loadConfigFromFile(config, configFile); err != nil {
			// Отсутствующий файл не является ошибкой, работаем на умолчаниях
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
		}
	}

	loadConfigFromEnv(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func loadConfigFromFile(config *Config, filename string) error {
	filename = os.ExpandEnv(filename)

	content, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(content, config)
}

func loadConfigFromEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &config.Server.Port)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if level := os.Getenv("LOGGER_LEVEL"); level != "" {
		config.Logger.Level = level
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		config.Environment = env
	}
	if file := os.Getenv("USER_FILE"); file != "" {
		config.Data.UserFile = file
	}
}

func validateConfig(config *Config) error {
	switch config.Environment {
	case "dev", "staging", "prod":
	default:
		return fmt.Errorf("invalid environment: %s, must be one of: dev, staging, prod", config.Environment)
	}

	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if config.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if config.Data.UserFile == "" {
		return fmt.Errorf("data.user_file is required")
	}
	if _, err := time.ParseDuration(config.Auth.TokenTTL); err != nil {
		return fmt.Errorf("auth.token_ttl is not a valid duration: %w", err)
	}
	if _, err := time.ParseDuration(config.Auth.OTPTTL); err != nil {
		return fmt.Errorf("auth.otp_ttl is not a valid duration: %w", err)
	}
	if config.Auth.BcryptCost < 4 || config.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost must be between 4 and 31")
	}

	return nil
}

// TokenTTL возвращает время жизни токена как time.Duration.
// Конфигурация уже провалидирована, поэтому ошибка парсинга невозможна
func (c *Config) TokenTTL() time.Duration {
	d, _ := time.ParseDuration(c.Auth.TokenTTL)
	return d
}

// OTPTTL возвращает время жизни одноразового кода как time.Duration
func (c *Config) OTPTTL() time.Duration {
	d, _ := time.ParseDuration(c.Auth.OTPTTL)
	return d
}

// RedisRetryInterval возвращает интервал повторных подключений к Redis
func (c *Config) RedisRetryInterval() time.Duration {
	d, err := time.ParseDuration(c.Redis.RetryInterval)
	if err != nil {
		return time.Second
	}
	return d
}
