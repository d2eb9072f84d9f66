package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Режимы формы
const (
	ModeWeb      = "web"
	ModeTerminal = "terminal"
)

// UI содержит настройки формы отчета.
type UI struct {
	Mode        string `mapstructure:"mode"`
	OpenBrowser bool   `mapstructure:"open_browser"`
}

// Server содержит настройки HTTP-сервера формы.
type Server struct {
	Address string `mapstructure:"address"`
	Debug   bool   `mapstructure:"debug"`
}

// DB содержит параметры подключения к БД истории.
type DB struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Storage описывает настройки хранилища проектов и архива.
type Storage struct {
	Type     string `mapstructure:"type"`
	BasePath string `mapstructure:"basepath"`
	S3       S3     `mapstructure:"s3"`
}

// S3 содержит настройки для S3-совместимого хранилища.
type S3 struct {
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// Archive управляет копированием готовых отчетов в хранилище.
type Archive struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
}

// Output содержит значения по умолчанию для экспорта.
type Output struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"`
}

// Template указывает внешний файл разметки отчета; пустой путь означает встроенный.
type Template struct {
	Path string `mapstructure:"path"`
}

// Logging содержит настройки логирования.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config объединяет все разделы конфигурации.
type Config struct {
	UI       UI       `mapstructure:"ui"`
	Server   Server   `mapstructure:"server"`
	DB       DB       `mapstructure:"database"`
	Storage  Storage  `mapstructure:"storage"`
	Archive  Archive  `mapstructure:"archive"`
	Output   Output   `mapstructure:"output"`
	Template Template `mapstructure:"template"`
	Logging  Logging  `mapstructure:"logging"`
}

var defaultPaths = []string{".", "./config", "$HOME/.rdreport"}

// Load читает .env, файл config.yaml и переменные окружения APP_*.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read .env: %w", err)
	}
	return load(defaultPaths...)
}

func load(paths ...string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// Настройка для environment variables
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	if err := bindEnvironmentVariables(v); err != nil {
		return Config{}, fmt.Errorf("failed to bind environment: %w", err)
	}

	// Чтение файла конфигурации (опционально)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// setDefaults устанавливает значения по умолчанию
func setDefaults(v *viper.Viper) {
	v.SetDefault("ui.mode", ModeWeb)
	v.SetDefault("ui.open_browser", false)

	// Форма слушает только локальный адрес
	v.SetDefault("server.address", "127.0.0.1:8765")
	v.SetDefault("server.debug", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "rdreport.db")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.basepath", "./data")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.prefix", "archive")

	v.SetDefault("output.dir", ".")
	v.SetDefault("output.format", "both")

	v.SetDefault("template.path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// bindEnvironmentVariables привязывает переменные окружения к конфигурации
func bindEnvironmentVariables(v *viper.Viper) error {
	keys := []string{
		"ui.mode", "ui.open_browser",
		"server.address", "server.debug",
		"database.driver", "database.dsn",
		"storage.type", "storage.basepath",
		"storage.s3.region", "storage.s3.bucket", "storage.s3.endpoint",
		"storage.s3.access_key", "storage.s3.secret_key",
		"archive.enabled", "archive.prefix",
		"output.dir", "output.format",
		"template.path",
		"logging.level", "logging.format",
	}
	for _, key := range keys {
		env := "APP_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// validateConfig проверяет корректность конфигурации
func validateConfig(cfg Config) error {
	if cfg.UI.Mode != ModeWeb && cfg.UI.Mode != ModeTerminal {
		return fmt.Errorf("ui mode must be 'web' or 'terminal', got: %s", cfg.UI.Mode)
	}

	if cfg.UI.Mode == ModeWeb && cfg.Server.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	if cfg.DB.Driver != "sqlite" && cfg.DB.Driver != "postgres" {
		return fmt.Errorf("database driver must be 'sqlite' or 'postgres', got: %s", cfg.DB.Driver)
	}
	if cfg.DB.DSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}

	if cfg.Storage.Type != "local" && cfg.Storage.Type != "s3" {
		return fmt.Errorf("storage type must be 'local' or 's3', got: %s", cfg.Storage.Type)
	}
	if cfg.Storage.Type == "local" && cfg.Storage.BasePath == "" {
		return fmt.Errorf("storage basepath cannot be empty for local storage")
	}
	if cfg.Storage.Type == "s3" {
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("S3 region cannot be empty")
		}
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
	}

	if cfg.Archive.Enabled && strings.Trim(cfg.Archive.Prefix, "/ ") == "" {
		return fmt.Errorf("archive prefix cannot be empty when archive is enabled")
	}

	switch strings.ToLower(cfg.Output.Format) {
	case "docx", "pdf", "xlsx", "html", "both":
	default:
		return fmt.Errorf("invalid output format: %s", cfg.Output.Format)
	}

	validLogLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	isValidLevel := false
	for _, level := range validLogLevels {
		if strings.ToLower(cfg.Logging.Level) == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("invalid logging level: %s. Valid levels: %v", cfg.Logging.Level, validLogLevels)
	}

	return nil
}

// IsDevelopment возвращает true, если включен режим отладки
func (c Config) IsDevelopment() bool {
	return c.Server.Debug
}

// String возвращает строковое представление конфигурации (без чувствительных данных)
func (c Config) String() string {
	return fmt.Sprintf("Config{UI: %+v, Server: %+v, DB: {Driver: %s, DSN: [HIDDEN]}, Storage: {Type: %s, BasePath: %s, Bucket: %s}, Archive: %+v, Output: %+v, Template: %+v, Logging: %+v}",
		c.UI, c.Server, c.DB.Driver, c.Storage.Type, c.Storage.BasePath, c.Storage.S3.Bucket, c.Archive, c.Output, c.Template, c.Logging)
}
