package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"rdreport/internal/config"
	"rdreport/internal/layout"
	"rdreport/internal/metrics"
	"rdreport/internal/models"
	"rdreport/internal/render"
	"rdreport/internal/report"
	"rdreport/internal/storage"
)

const (
	// Таймауты
	defaultGenerationTimeout = 2 * time.Minute
	defaultArchiveTimeout    = time.Minute

	projectsPrefix = "projects"
)

// ErrInvalidProjectName возвращается для имен, которые нельзя использовать как ключ
var ErrInvalidProjectName = errors.New("недопустимое имя проекта")

// ReportService интерфейс сервиса отчетов: общий для веб-формы и терминала
type ReportService interface {
	Template() *layout.Template
	Defaults() Defaults
	Validate(p *report.Project) error
	Generate(ctx context.Context, p *report.Project) (*GenerateResult, error)
	RenderTo(ctx context.Context, p *report.Project, format report.Format, path string) (*Output, error)
	SaveProject(ctx context.Context, name string, p *report.Project) (string, error)
	OpenProject(ctx context.Context, name string) (*report.Project, error)
	ListProjects(ctx context.Context) ([]ProjectInfo, error)
	History(ctx context.Context, params ListHistoryParams) (*HistoryList, error)
	GetRecord(ctx context.Context, id string) (*models.RenderRecord, error)
}

// Options настройки сервиса
type Options struct {
	OutputDir     string
	Format        report.Format
	Archive       bool
	ArchivePrefix string
}

// Defaults значения экспорта, которые форма показывает пустому проекту
type Defaults struct {
	OutputDir string        `json:"output_dir"`
	Format    report.Format `json:"format"`
}

// Output описывает один записанный файл
type Output struct {
	RecordID   string        `json:"record_id,omitempty"`
	Path       string        `json:"path"`
	Format     report.Format `json:"format"`
	SizeBytes  int64         `json:"size_bytes"`
	Checksum   string        `json:"checksum"`
	ArchiveKey string        `json:"archive_key,omitempty"`
	URL        string        `json:"url,omitempty"`
}

// GenerateResult результат генерации: записанные файлы и предупреждения
type GenerateResult struct {
	Outputs  []Output `json:"outputs"`
	Warnings []string `json:"warnings,omitempty"`
}

// Paths возвращает пути записанных файлов
func (r *GenerateResult) Paths() []string {
	out := make([]string, 0, len(r.Outputs))
	for _, o := range r.Outputs {
		out = append(out, o.Path)
	}
	return out
}

// ProjectInfo сохраненный проект
type ProjectInfo struct {
	Name         string    `json:"name"`
	Key          string    `json:"key"`
	SizeBytes    int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
}

// ReportServiceImpl реализация сервиса отчетов
type ReportServiceImpl struct {
	template *layout.Template
	history  HistoryRepository
	storage  storage.Storage
	metrics  *metrics.Recorder
	opts     Options
	logger   *logrus.Logger
	now      func() time.Time
}

// NewReportService создает новый сервис отчетов
func NewReportService(
	tmpl *layout.Template,
	history HistoryRepository,
	store storage.Storage,
	recorder *metrics.Recorder,
	opts Options,
	logger *logrus.Logger,
) *ReportServiceImpl {
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.Format == "" {
		opts.Format = report.FormatBoth
	}
	return &ReportServiceImpl{
		template: tmpl,
		history:  history,
		storage:  store,
		metrics:  recorder,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// NewReportServiceFromConfig собирает сервис из конфигурации приложения
func NewReportServiceFromConfig(
	cfg config.Config,
	db *gorm.DB,
	store storage.Storage,
	recorder *metrics.Recorder,
	logger *logrus.Logger,
) (ReportService, error) {
	tmpl, err := layout.Load(cfg.Template.Path)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки разметки отчета: %w", err)
	}
	format, err := report.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, err
	}

	opts := Options{
		OutputDir:     cfg.Output.Dir,
		Format:        format,
		Archive:       cfg.Archive.Enabled,
		ArchivePrefix: cfg.Archive.Prefix,
	}
	return NewReportService(tmpl, NewGormHistoryRepository(db, logger), store, recorder, opts, logger), nil
}

// Template возвращает разметку отчета
func (s *ReportServiceImpl) Template() *layout.Template {
	return s.template
}

// Defaults возвращает настройки экспорта по умолчанию
func (s *ReportServiceImpl) Defaults() Defaults {
	return Defaults{OutputDir: s.opts.OutputDir, Format: s.opts.Format}
}

// Validate проверяет обязательные поля проекта
func (s *ReportServiceImpl) Validate(p *report.Project) error {
	p = p.Clone()
	p.Normalize()
	err := report.Validate(p, s.template.FieldSpecs())

	var verr *report.ValidationError
	if errors.As(err, &verr) {
		for _, key := range verr.Keys() {
			s.metrics.IncreaseValidationFailure(key)
		}
		s.logger.WithFields(logrus.Fields{
			"title":  p.Title(),
			"fields": verr.Keys(),
		}).Info("Форма отклонена: не заполнены обязательные поля")
	}
	return err
}

// Generate записывает отчет в папку экспорта проекта во всех выбранных форматах
func (s *ReportServiceImpl) Generate(ctx context.Context, p *report.Project) (*GenerateResult, error) {
	if err := s.Validate(p); err != nil {
		return nil, err
	}

	format := s.opts.Format
	if p.Export.Format != "" {
		f, err := report.ParseFormat(string(p.Export.Format))
		if err != nil {
			return nil, &render.Error{Kind: render.KindTemplate, Op: "format", Err: err}
		}
		format = f
	}
	dir := strings.TrimSpace(p.Export.OutDir)
	if dir == "" {
		dir = s.opts.OutputDir
	}
	// папку по умолчанию создаем сами, даже если форма прислала ее явно
	if filepath.Clean(dir) == filepath.Clean(s.opts.OutputDir) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &render.Error{Kind: render.KindIO, Op: "mkdir", Path: dir, Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, defaultGenerationTimeout)
	defer cancel()

	doc, err := render.Compose(ctx, s.template, p)
	if err != nil {
		s.recordFailure(ctx, p.Title(), string(format), dir, err, 0)
		return nil, err
	}

	date := s.now()
	result := &GenerateResult{}
	for _, f := range format.Expand() {
		path := filepath.Join(dir, render.FileName(p.Title(), date, f))
		out, warning, err := s.write(ctx, doc, f, path)
		if err != nil {
			return result, err
		}
		result.Outputs = append(result.Outputs, *out)
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
	}
	return result, nil
}

// RenderTo записывает отчет в явно указанный файл.
// Пустой формат определяется по расширению пути.
func (s *ReportServiceImpl) RenderTo(ctx context.Context, p *report.Project, format report.Format, path string) (*Output, error) {
	if err := s.Validate(p); err != nil {
		return nil, err
	}
	if format == "" {
		f, err := render.FormatOf(path)
		if err != nil {
			return nil, &render.Error{Kind: render.KindIO, Op: "format", Path: path, Err: err}
		}
		format = f
	} else {
		f, err := report.ParseFormat(string(format))
		if err != nil {
			return nil, &render.Error{Kind: render.KindTemplate, Op: "format", Path: path, Err: err}
		}
		format = f
	}
	if len(format.Expand()) != 1 {
		return nil, &render.Error{Kind: render.KindTemplate, Op: "format", Path: path,
			Err: fmt.Errorf("format %q writes more than one file", format)}
	}

	ctx, cancel := context.WithTimeout(ctx, defaultGenerationTimeout)
	defer cancel()

	doc, err := render.Compose(ctx, s.template, p)
	if err != nil {
		s.recordFailure(ctx, p.Title(), string(format), path, err, 0)
		return nil, err
	}

	out, warning, err := s.write(ctx, doc, format, path)
	if err != nil {
		return nil, err
	}
	if warning != "" {
		s.logger.WithField("path", path).Warn(warning)
	}
	return out, nil
}

// write рендерит один файл, считает контрольную сумму и пишет историю
func (s *ReportServiceImpl) write(ctx context.Context, doc *render.Document, f report.Format, path string) (*Output, string, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"title":  doc.Title,
		"format": f,
		"path":   path,
	})
	start := time.Now()

	r, err := render.For(f)
	if err != nil {
		rerr := &render.Error{Kind: render.KindTemplate, Op: "format", Path: path, Err: err}
		s.recordFailure(ctx, doc.Title, string(f), path, rerr, time.Since(start))
		return nil, "", rerr
	}

	size, err := render.WriteFile(ctx, r, doc, path)
	if err != nil {
		logger.WithError(err).Error("Ошибка записи отчета")
		s.recordFailure(ctx, doc.Title, string(f), path, err, time.Since(start))
		return nil, "", err
	}

	out := &Output{Path: path, Format: f, SizeBytes: size}
	if out.Checksum, err = fileChecksum(path); err != nil {
		logger.WithError(err).Warn("Не удалось посчитать контрольную сумму")
	}

	var warning string
	if s.opts.Archive && s.storage != nil {
		if out.ArchiveKey, err = s.archive(ctx, path); err != nil {
			warning = fmt.Sprintf("отчет %s записан, но не сохранен в архив: %v", filepath.Base(path), err)
			logger.WithError(err).Warn("Ошибка архивирования отчета")
		} else if url, err := s.storage.GetURL(ctx, out.ArchiveKey); err == nil {
			out.URL = url
		}
	}

	elapsed := time.Since(start)
	s.metrics.ObserveRender(string(f), string(models.StatusCompleted), elapsed.Seconds(), size)

	record := &models.RenderRecord{
		Title:      doc.Title,
		Format:     string(f),
		Path:       path,
		Status:     models.StatusCompleted,
		SizeBytes:  size,
		Checksum:   out.Checksum,
		ArchiveKey: out.ArchiveKey,
		DurationMS: elapsed.Milliseconds(),
	}
	if s.saveRecord(ctx, record) {
		out.RecordID = record.ID
	}

	logger.WithFields(logrus.Fields{
		"size":     size,
		"duration": elapsed,
	}).Info("Отчет записан")
	return out, warning, nil
}

// archive копирует записанный файл в хранилище
func (s *ReportServiceImpl) archive(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultArchiveTimeout)
	defer cancel()

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := s.storage.JoinPath(
		strings.Trim(s.opts.ArchivePrefix, "/"),
		s.now().Format("2006/01"),
		filepath.Base(path),
	)
	if err := s.storage.Save(ctx, key, f); err != nil {
		return "", err
	}
	return key, nil
}

// recordFailure фиксирует неудачную попытку в метриках и истории
func (s *ReportServiceImpl) recordFailure(ctx context.Context, title, format, path string, cause error, elapsed time.Duration) {
	if errors.Is(cause, context.Canceled) {
		return
	}
	s.metrics.ObserveRender(format, string(models.StatusFailed), elapsed.Seconds(), 0)

	record := &models.RenderRecord{
		Title:      title,
		Format:     format,
		Path:       path,
		Status:     models.StatusFailed,
		Error:      cause.Error(),
		DurationMS: elapsed.Milliseconds(),
	}
	var rerr *render.Error
	if errors.As(cause, &rerr) {
		record.ErrorKind = string(rerr.Kind)
	}
	s.saveRecord(ctx, record)
}

// saveRecord пишет историю; ошибка БД не влияет на результат генерации
func (s *ReportServiceImpl) saveRecord(ctx context.Context, record *models.RenderRecord) bool {
	if s.history == nil {
		return false
	}
	if err := s.history.Create(context.WithoutCancel(ctx), record); err != nil {
		s.logger.WithError(err).WithField("path", record.Path).Error("Ошибка сохранения истории генерации")
		return false
	}
	return true
}

// SaveProject сохраняет состояние формы под именем name
func (s *ReportServiceImpl) SaveProject(ctx context.Context, name string, p *report.Project) (string, error) {
	key, err := s.projectKey(name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := report.WriteProject(&buf, p); err != nil {
		return "", fmt.Errorf("ошибка сериализации проекта: %w", err)
	}
	if err := s.storage.Save(ctx, key, bytes.NewReader(buf.Bytes())); err != nil {
		return "", fmt.Errorf("ошибка сохранения проекта: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"project": name,
		"key":     key,
	}).Info("Проект сохранен")
	return key, nil
}

// OpenProject загружает сохраненный проект
func (s *ReportServiceImpl) OpenProject(ctx context.Context, name string) (*report.Project, error) {
	key, err := s.projectKey(name)
	if err != nil {
		return nil, err
	}

	rc, err := s.storage.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия проекта %s: %w", name, err)
	}
	defer rc.Close()

	p, err := report.ReadProject(rc)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения проекта %s: %w", name, err)
	}
	return p, nil
}

// ListProjects возвращает сохраненные проекты
func (s *ReportServiceImpl) ListProjects(ctx context.Context) ([]ProjectInfo, error) {
	files, err := s.storage.List(ctx, projectsPrefix+"/")
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка проектов: %w", err)
	}

	projects := make([]ProjectInfo, 0, len(files))
	for _, f := range files {
		if !strings.HasSuffix(f.Key, report.ProjectExt) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(f.Key, projectsPrefix+"/"), report.ProjectExt)
		if strings.Contains(name, "/") {
			continue
		}
		projects = append(projects, ProjectInfo{
			Name:         name,
			Key:          f.Key,
			SizeBytes:    f.Size,
			LastModified: f.LastModified,
		})
	}
	return projects, nil
}

// History получает историю генерации с пагинацией
func (s *ReportServiceImpl) History(ctx context.Context, params ListHistoryParams) (*HistoryList, error) {
	params.normalize()

	records, total, err := s.history.List(ctx, params)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка получения истории")
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}

	totalPages := int((total + int64(params.PageSize) - 1) / int64(params.PageSize))

	return &HistoryList{
		Records:    records,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: totalPages,
	}, nil
}

// GetRecord получает запись истории по ID
func (s *ReportServiceImpl) GetRecord(ctx context.Context, id string) (*models.RenderRecord, error) {
	return s.history.GetByID(ctx, id)
}

// projectKey строит ключ хранилища для имени проекта
func (s *ReportServiceImpl) projectKey(name string) (string, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), report.ProjectExt)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidProjectName, name)
	}
	return s.storage.JoinPath(projectsPrefix, name+report.ProjectExt), nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var _ ReportService = (*ReportServiceImpl)(nil)
