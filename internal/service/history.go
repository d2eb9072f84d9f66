package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"rdreport/internal/models"
)

// ErrRecordNotFound возвращается, когда записи истории нет
var ErrRecordNotFound = errors.New("запись истории не найдена")

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// HistoryRepository интерфейс для работы с историей генерации
type HistoryRepository interface {
	Create(ctx context.Context, record *models.RenderRecord) error
	GetByID(ctx context.Context, id string) (*models.RenderRecord, error)
	List(ctx context.Context, params ListHistoryParams) ([]models.RenderRecord, int64, error)
}

// ListHistoryParams параметры для получения истории
type ListHistoryParams struct {
	Page     int                  `json:"page" query:"page"`
	PageSize int                  `json:"page_size" query:"page_size"`
	Status   *models.RenderStatus `json:"status,omitempty"`
	Format   string               `json:"format,omitempty" query:"format"`
	Search   string               `json:"search,omitempty" query:"search"`
}

// normalize ограничивает параметры пагинации
func (p *ListHistoryParams) normalize() {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
}

// HistoryList результат получения истории с пагинацией
type HistoryList struct {
	Records    []models.RenderRecord `json:"records"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}

// GormHistoryRepository реализация репозитория истории для GORM
type GormHistoryRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewGormHistoryRepository создает новый GORM репозиторий истории
func NewGormHistoryRepository(db *gorm.DB, logger *logrus.Logger) HistoryRepository {
	return &GormHistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create сохраняет запись истории
func (r *GormHistoryRepository) Create(ctx context.Context, record *models.RenderRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// GetByID получает запись по ID
func (r *GormHistoryRepository) GetByID(ctx context.Context, id string) (*models.RenderRecord, error) {
	var record models.RenderRecord
	err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// List получает историю с фильтрацией и пагинацией, новые записи первыми
func (r *GormHistoryRepository) List(ctx context.Context, params ListHistoryParams) ([]models.RenderRecord, int64, error) {
	params.normalize()
	query := r.db.WithContext(ctx).Model(&models.RenderRecord{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Format != "" {
		query = query.Where("format = ?", strings.ToLower(params.Format))
	}

	// Поиск без учета регистра работает и в sqlite, и в postgres
	if params.Search != "" {
		query = query.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(params.Search)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []models.RenderRecord
	err := query.
		Order("created_at DESC").
		Order("id").
		Offset((params.Page - 1) * params.PageSize).
		Limit(params.PageSize).
		Find(&records).Error

	return records, total, err
}
