package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации агента и генератора трафика.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Oracle      OracleConfig      `mapstructure:"oracle"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Reconfigure ReconfigureConfig `mapstructure:"reconfigure"`
	Guard       GuardConfig       `mapstructure:"guard"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Traffic     TrafficConfig     `mapstructure:"traffic"`
	Logger      LoggerConfig      `mapstructure:"logger"`
}

// ServerConfig описывает настройки операторского HTTP API.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL (телеметрия + аудит).
type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	TelemetryTable string `mapstructure:"telemetry_table"`
	MaxConns       int    `mapstructure:"max_conns"`
}

// RedisConfig описывает подключение к Redis (single-flight lease и halt-сигнал).
// Пустой Addr полностью отключает Redis-слой — лаба умеет работать одним инстансом.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит путь к RSA public key для проверки токенов операторского API.
// Без ключа API работает открытым (режим лабы).
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// OracleConfig — настройки LLM-оракула (chat-completions endpoint, стиль NIM).
type OracleConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"` // Перекрывается ORACLE_API_KEY
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
	Mock        bool          `mapstructure:"mock"` // Офлайн-режим без внешнего API
}

// MonitorConfig — пороги и интервалы детектора аномалий.
type MonitorConfig struct {
	LossThreshold float64       `mapstructure:"loss_threshold"` // %
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Window        time.Duration `mapstructure:"window"` // Хвостовое окно агрегации
}

// ReconfigureConfig — параметры актора реконфигурации.
type ReconfigureConfig struct {
	ScriptPath     string        `mapstructure:"script_path"`
	ScriptTimeout  time.Duration `mapstructure:"script_timeout"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	InterruptAfter int           `mapstructure:"interrupt_after"`
	PrimaryUE      string        `mapstructure:"primary_ue"`
	Entities       []string      `mapstructure:"entities"` // Известные UE, без жесткой привязки к двум
}

// GuardConfig — режим слоя валидации: strict, warning или disabled.
type GuardConfig struct {
	Mode string `mapstructure:"mode"`
}

// EngineConfig содержит настройки надежности и аудита.
type EngineConfig struct {
	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`

	// Настройки Circuit Breaker и лимитера для вызовов оракула
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	OracleRPS     float64       `mapstructure:"oracle_rps"`
	RetryAttempts uint          `mapstructure:"retry_attempts"`
	LeaseTTL      time.Duration `mapstructure:"lease_ttl"` // TTL single-flight лизы в Redis
}

// TrafficUE — один экземпляр iperf3-клиента генератора трафика.
type TrafficUE struct {
	Name       string `mapstructure:"name"`
	Container  string `mapstructure:"container"` // docker exec цель; пусто = локальный iperf3
	BindHost   string `mapstructure:"bind_host"`
	ServerHost string `mapstructure:"server_host"`
	Port       int    `mapstructure:"port"`
	Bandwidth  string `mapstructure:"bandwidth"` // например "30M"
	Duration   int    `mapstructure:"duration"`  // секунд на одну итерацию
	LogFile    string `mapstructure:"log_file"`
}

// TrafficConfig — генератор трафика и статистический "двойник" UE.
type TrafficConfig struct {
	UEs       []TrafficUE `mapstructure:"ues"`
	TwinOf    string      `mapstructure:"twin_of"` // Чьи сэмплы дублировать с возмущением
	TwinName  string      `mapstructure:"twin_name"`
	BatchSize int         `mapstructure:"batch_size"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: MONITOR_LOSS_THRESHOLD=2.0 перекроет monitor.loss_threshold
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты (значения из исходной лабы)
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Секреты из ENV либо из файла по пути из конфига
	if key := os.Getenv("ORACLE_API_KEY"); key != "" {
		cfg.Oracle.APIKey = key
	}
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.telemetry_table", "iperf3_logs")
	v.SetDefault("database.max_conns", 15)

	v.SetDefault("monitor.loss_threshold", 1.5)
	v.SetDefault("monitor.poll_interval", 10*time.Second)
	v.SetDefault("monitor.window", 30*time.Second)

	v.SetDefault("reconfigure.script_timeout", 30*time.Second)
	v.SetDefault("reconfigure.settle_delay", 10*time.Second)
	v.SetDefault("reconfigure.interrupt_after", 5)
	v.SetDefault("reconfigure.primary_ue", "UE1")
	v.SetDefault("reconfigure.entities", []string{"UE1", "UE2"})

	v.SetDefault("guard.mode", "strict")

	v.SetDefault("oracle.timeout", 60*time.Second)
	v.SetDefault("oracle.temperature", 0.2)

	v.SetDefault("engine.audit_buffer_size", 1000)
	v.SetDefault("engine.audit_flush_interval", 1*time.Second)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.oracle_rps", 1.0)
	v.SetDefault("engine.retry_attempts", 3)
	v.SetDefault("engine.lease_ttl", 2*time.Minute)

	v.SetDefault("traffic.batch_size", 20)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
}

// loadKeyResource — ключ напрямую из ENV (Docker/K8s) либо файлом по пути.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
