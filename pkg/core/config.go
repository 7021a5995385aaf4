package core

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/soft_call/pkg/call"
)

// Config конфигурация ядра
type Config struct {
	// Username имя пользователя для SDP origin
	Username string
	// DisplayName отображаемое имя
	DisplayName string
	// LocalAddr адрес, публикуемый в SDP (c= строка)
	LocalAddr string

	// MediaParams локальные медиа параметры по умолчанию для новых вызовов
	MediaParams call.MediaParams

	// RealEarlyMedia проигрывать раннее медиа незаглушенным
	RealEarlyMedia bool

	// TickInterval период насоса Iterate
	TickInterval time.Duration

	// Logger структурный логгер ядра; nil означает slog.Default()
	Logger *slog.Logger

	// MetricsRegisterer реестр Prometheus; nil отключает метрики
	MetricsRegisterer prometheus.Registerer
	// MetricsNamespace префикс метрик
	MetricsNamespace string
}

// DefaultConfig возвращает конфигурацию с разумными значениями по умолчанию
func DefaultConfig() Config {
	return Config{
		Username:         "anonymous",
		LocalAddr:        "127.0.0.1",
		MediaParams:      call.DefaultMediaParams(),
		TickInterval:     20 * time.Millisecond,
		MetricsNamespace: "soft_call",
	}
}

// Option модифицирует конфигурацию ядра
type Option func(*Config)

// WithLogger задает структурный логгер
func WithLogger(log *slog.Logger) Option {
	return func(c *Config) { c.Logger = log }
}

// WithUser задает имя пользователя и отображаемое имя
func WithUser(username, displayName string) Option {
	return func(c *Config) {
		c.Username = username
		c.DisplayName = displayName
	}
}

// WithLocalAddr задает адрес, публикуемый в SDP
func WithLocalAddr(addr string) Option {
	return func(c *Config) { c.LocalAddr = addr }
}

// WithMediaParams задает медиа параметры по умолчанию
func WithMediaParams(p call.MediaParams) Option {
	return func(c *Config) { c.MediaParams = p }
}

// WithRealEarlyMedia включает незаглушенное раннее медиа
func WithRealEarlyMedia() Option {
	return func(c *Config) { c.RealEarlyMedia = true }
}

// WithTickInterval задает период насоса Iterate
func WithTickInterval(d time.Duration) Option {
	return func(c *Config) { c.TickInterval = d }
}

// WithMetrics включает экспорт метрик в реестр
func WithMetrics(reg prometheus.Registerer, namespace string) Option {
	return func(c *Config) {
		c.MetricsRegisterer = reg
		if namespace != "" {
			c.MetricsNamespace = namespace
		}
	}
}
