package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"rdreport/internal/config"

	"github.com/sirupsen/logrus"
)

const (
	// Типы хранилищ
	StorageTypeLocal = "local"
	StorageTypeS3    = "s3"

	// Таймауты по умолчанию
	DefaultUploadTimeout   = 5 * time.Minute
	DefaultDownloadTimeout = time.Minute

	// Настройки retry
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second

	maxKeyLength = 1024
)

// ErrNotFound возвращается, когда ключ отсутствует в хранилище.
var ErrNotFound = errors.New("файл не найден")

// Storage интерфейс для работы с файлами проектов и архивом отчетов
type Storage interface {
	Save(ctx context.Context, key string, reader io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]FileInfo, error)

	// GetURL возвращает адрес файла для показа пользователю
	GetURL(ctx context.Context, key string) (string, error)

	JoinPath(elem ...string) string
	ValidateKey(key string) error
}

// FileInfo информация о файле
type FileInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// StorageConfig общая конфигурация хранилища
type StorageConfig struct {
	Type            string        `json:"type"`
	MaxRetries      int           `json:"max_retries"`
	RetryDelay      time.Duration `json:"retry_delay"`
	UploadTimeout   time.Duration `json:"upload_timeout"`
	DownloadTimeout time.Duration `json:"download_timeout"`
}

// S3Config конфигурация S3 хранилища
type S3Config struct {
	StorageConfig
	Region         string `json:"region"`
	Bucket         string `json:"bucket"`
	Endpoint       string `json:"endpoint,omitempty"`
	AccessKey      string `json:"access_key"`
	SecretKey      string `json:"secret_key"`
	ForcePathStyle bool   `json:"force_path_style"`
}

// LocalConfig конфигурация локального хранилища
type LocalConfig struct {
	StorageConfig
	BasePath string `json:"base_path"`
}

// StorageBuilder строитель хранилища по конфигурации приложения
type StorageBuilder struct {
	config config.Storage
	logger *logrus.Logger
}

// NewStorageBuilder создает новый строитель хранилища
func NewStorageBuilder(cfg config.Storage, logger *logrus.Logger) *StorageBuilder {
	return &StorageBuilder{
		config: cfg,
		logger: logger,
	}
}

// Build создает хранилище на основе конфигурации
func (b *StorageBuilder) Build() (Storage, error) {
	var (
		storage Storage
		err     error
	)

	switch b.config.Type {
	case StorageTypeS3:
		storage, err = NewS3Storage(b.buildS3Config(), b.logger)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания S3 хранилища: %w", err)
		}

	case StorageTypeLocal:
		cfg, cfgErr := b.buildLocalConfig()
		if cfgErr != nil {
			return nil, cfgErr
		}
		storage, err = NewLocalStorage(cfg, b.logger)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания локального хранилища: %w", err)
		}

	default:
		return nil, fmt.Errorf("неподдерживаемый тип хранилища: %s", b.config.Type)
	}

	return b.wrapWithMiddleware(storage), nil
}

func defaultStorageConfig(kind string) StorageConfig {
	return StorageConfig{
		Type:            kind,
		MaxRetries:      DefaultMaxRetries,
		RetryDelay:      DefaultRetryDelay,
		UploadTimeout:   DefaultUploadTimeout,
		DownloadTimeout: DefaultDownloadTimeout,
	}
}

// buildS3Config создает конфигурацию S3
func (b *StorageBuilder) buildS3Config() S3Config {
	return S3Config{
		StorageConfig:  defaultStorageConfig(StorageTypeS3),
		Region:         b.config.S3.Region,
		Bucket:         b.config.S3.Bucket,
		Endpoint:       b.config.S3.Endpoint,
		AccessKey:      b.config.S3.AccessKey,
		SecretKey:      b.config.S3.SecretKey,
		ForcePathStyle: b.config.S3.Endpoint != "",
	}
}

// buildLocalConfig создает конфигурацию локального хранилища.
// Относительный путь считается от рабочей директории.
func (b *StorageBuilder) buildLocalConfig() (LocalConfig, error) {
	base, err := filepath.Abs(b.config.BasePath)
	if err != nil {
		return LocalConfig{}, fmt.Errorf("неверный базовый путь %q: %w", b.config.BasePath, err)
	}
	return LocalConfig{
		StorageConfig: defaultStorageConfig(StorageTypeLocal),
		BasePath:      base,
	}, nil
}

// wrapWithMiddleware оборачивает хранилище в middleware
func (b *StorageBuilder) wrapWithMiddleware(storage Storage) Storage {
	if b.logger != nil {
		storage = NewLoggingMiddleware(storage, b.logger)
		storage = NewRetryMiddleware(storage, DefaultMaxRetries, DefaultRetryDelay, b.logger)
	}
	return NewValidationMiddleware(storage)
}

// NewStorageFromConfig создает хранилище из конфигурации приложения
func NewStorageFromConfig(cfg config.Config, logger *logrus.Logger) (Storage, error) {
	return NewStorageBuilder(cfg.Storage, logger).Build()
}
