package service

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rdreport/internal/layout"
	"rdreport/internal/metrics"
	"rdreport/internal/models"
	"rdreport/internal/render"
	"rdreport/internal/report"
	"rdreport/internal/storage"
)

// MockStorage is a mock implementation of the Storage interface
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Save(ctx context.Context, key string, reader io.Reader) error {
	args := m.Called(ctx, key, reader)
	return args.Error(0)
}

func (m *MockStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStorage) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) List(ctx context.Context, prefix string) ([]storage.FileInfo, error) {
	args := m.Called(ctx, prefix)
	files, _ := args.Get(0).([]storage.FileInfo)
	return files, args.Error(1)
}

func (m *MockStorage) GetURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) JoinPath(elem ...string) string {
	return path.Join(elem...)
}

func (m *MockStorage) ValidateKey(key string) error {
	return nil
}

func setupTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.RenderRecord{}))
	return db
}

type testEnv struct {
	svc     *ReportServiceImpl
	db      *gorm.DB
	out     string
	metrics *metrics.Recorder
}

func newTestService(t *testing.T, store storage.Storage, opts Options) *testEnv {
	t.Helper()
	tmpl, err := layout.Default()
	require.NoError(t, err)
	rec, err := metrics.NewRecorder(prometheus.NewRegistry())
	require.NoError(t, err)

	db := setupTestDB(t)
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	logger := setupTestLogger()
	svc := NewReportService(tmpl, NewGormHistoryRepository(db, logger), store, rec, opts, logger)
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC) }
	return &testEnv{svc: svc, db: db, out: opts.OutputDir, metrics: rec}
}

func newLocalStore(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()}, setupTestLogger())
	require.NoError(t, err)
	return storage.NewValidationMiddleware(s)
}

func validProject() *report.Project {
	p := report.NewProject()
	p.Fields[report.FieldProjectTitle] = "Foliar Zinc Uptake"
	p.Fields[report.FieldReportDate] = "2024-05-02"
	p.Fields[report.FieldResearcher] = "J. Doe"
	p.Fields["plain_summary"] = "Stable zinc concentrate for foliar use."
	p.Fields["objectives"] = "Raise uptake by 10%\nKeep pH above 6"
	p.Trials = []report.TrialRow{{Number: "1", Issue: "Gel formation", Reasons: "Low temperature"}}
	return p
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func countRecords(t *testing.T, db *gorm.DB, status models.RenderStatus) int64 {
	var n int64
	require.NoError(t, db.Model(&models.RenderRecord{}).Where("status = ?", status).Count(&n).Error)
	return n
}

func TestGenerateRejectsMissingTitle(t *testing.T) {
	env := newTestService(t, newLocalStore(t), Options{Format: report.FormatDOCX})
	p := validProject()
	p.Fields[report.FieldProjectTitle] = "   "

	res, err := env.svc.Generate(context.Background(), p)
	require.Error(t, err)
	assert.Nil(t, res)

	var verr *report.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{report.FieldProjectTitle}, verr.MissingKeys())

	assert.Empty(t, dirEntries(t, env.out), "nothing is written")
	assert.Zero(t, countRecords(t, env.db, models.StatusCompleted))
	assert.Equal(t, "   ", p.Fields[report.FieldProjectTitle], "entered values are left untouched")
}

func TestGenerateAcceptsTitleOnlyAndFreeTextDates(t *testing.T) {
	env := newTestService(t, newLocalStore(t), Options{Format: report.FormatHTML})
	p := report.NewProject()
	p.Fields[report.FieldProjectTitle] = "Foliar Zinc Uptake"
	p.Fields[report.FieldStartDate] = "spring 2024"

	res, err := env.svc.Generate(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, res.Outputs, 1)

	data, err := os.ReadFile(res.Outputs[0].Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "spring 2024")
}

func TestGenerateUsesConfiguredFormatForNewProjects(t *testing.T) {
	env := newTestService(t, newLocalStore(t), Options{Format: report.FormatXLSX})
	p := report.NewProject()
	p.Fields[report.FieldProjectTitle] = "Foliar Zinc Uptake"

	res, err := env.svc.Generate(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"Foliar Zinc Uptake_2024-06-01.xlsx"}, dirEntries(t, env.out))
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, report.FormatXLSX, res.Outputs[0].Format)
}

func TestGenerateCreatesConfiguredFolderNamedExplicitly(t *testing.T) {
	out := filepath.Join(t.TempDir(), "reports", "2024")
	env := newTestService(t, newLocalStore(t), Options{OutputDir: out, Format: report.FormatPDF})
	p := validProject()
	p.Export.OutDir = out + string(filepath.Separator)

	res, err := env.svc.Generate(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, []string{"Foliar Zinc Uptake_2024-06-01.pdf"}, dirEntries(t, out))
}

func TestGenerateWritesBothFormats(t *testing.T) {
	env := newTestService(t, newLocalStore(t), Options{})
	p := validProject()
	p.Fields[report.FieldProjectTitle] = "Zn/Cu blend"

	res, err := env.svc.Generate(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, res.Outputs, 2)

	assert.Equal(t, []string{
		filepath.Join(env.out, "Zn_Cu blend_2024-06-01.docx"),
		filepath.Join(env.out, "Zn_Cu blend_2024-06-01.pdf"),
	}, res.Paths())

	for _, o := range res.Outputs {
		info, err := os.Stat(o.Path)
		require.NoError(t, err)
		assert.Equal(t, info.Size(), o.SizeBytes)
		assert.Len(t, o.Checksum, 64)
		assert.NotEmpty(t, o.RecordID)
	}
	assert.Equal(t, int64(2), countRecords(t, env.db, models.StatusCompleted))
	assert.Empty(t, res.Warnings)
}

func TestGenerateUsesProjectOutputFolder(t *testing.T) {
	env := newTestService(t, newLocalStore(t), Options{Format: report.FormatPDF})
	p := validProject()
	p.Export.OutDir = t.TempDir()
	p.Export.Format = "HTML"

	res, err := env.svc.Generate(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, report.FormatHTML, res.Outputs[0].Format)
	assert.Equal(t, p.Export.OutDir, filepath.Dir(res.Outputs[0].Path))

	data, err := os.ReadFile(res.Outputs[0].Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Foliar Zinc Uptake")
	assert.Contains(t, string(data), "Raise uptake by 10%")
}

func TestGenerateMissingProjectFolderIsIOError(t *testing.T) {
	env := newTestService(t, newLocalStore(t), Options{Format: report.FormatDOCX})
	p := validProject()
	p.Export.OutDir = filepath.Join(t.TempDir(), "does", "not", "exist")

	_, err := env.svc.Generate(context.Background(), p)
	require.Error(t, err)
	assert.True(t, render.IsError(err, render.KindIO))
	assert.Equal(t, int64(1), countRecords(t, env.db, models.StatusFailed))

	var rec models.RenderRecord
	require.NoError(t, env.db.First(&rec, "status = ?", models.StatusFailed).Error)
	assert.Equal(t, "io", rec.ErrorKind)
}

func TestRenderToContainsValues(t *testing.T) {
	env := newTestService(t, newLocalStore(t), Options{})
	target := filepath.Join(t.TempDir(), "final.docx")

	out, err := env.svc.RenderTo(context.Background(), validProject(), "", target)
	require.NoError(t, err)
	assert.Equal(t, report.FormatDOCX, out.Format)

	zr, err := zip.OpenReader(target)
	require.NoError(t, err)
	defer zr.Close()
	var body string
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			require.NoError(t, err)
			data, _ := io.ReadAll(rc)
			rc.Close()
			body = string(data)
		}
	}
	assert.Contains(t, body, "Foliar Zinc Uptake")
	assert.Contains(t, body, "Gel formation")
}

func TestRenderToUnwritablePath(t *testing.T) {
	env := newTestService(t, newLocalStore(t), Options{})
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := env.svc.RenderTo(context.Background(), validProject(), report.FormatPDF, filepath.Join(blocker, "out.pdf"))
	require.Error(t, err)
	assert.True(t, render.IsError(err, render.KindIO))
	assert.Equal(t, []string{"file"}, dirEntries(t, dir), "no temp file left behind")
	assert.Equal(t, int64(1), countRecords(t, env.db, models.StatusFailed))
}

func TestRenderToRejectsCompositeFormat(t *testing.T) {
	env := newTestService(t, newLocalStore(t), Options{})
	_, err := env.svc.RenderTo(context.Background(), validProject(), report.FormatBoth, filepath.Join(t.TempDir(), "x.docx"))
	assert.True(t, render.IsError(err, render.KindTemplate))

	_, err = env.svc.RenderTo(context.Background(), validProject(), "", filepath.Join(t.TempDir(), "x.odt"))
	assert.True(t, render.IsError(err, render.KindIO))
}

func TestRenderToIsDeterministic(t *testing.T) {
	env := newTestService(t, newLocalStore(t), Options{})
	for _, f := range []report.Format{report.FormatDOCX, report.FormatPDF} {
		a := filepath.Join(t.TempDir(), "a."+string(f))
		b := filepath.Join(t.TempDir(), "b."+string(f))
		outA, err := env.svc.RenderTo(context.Background(), validProject(), "", a)
		require.NoError(t, err)
		outB, err := env.svc.RenderTo(context.Background(), validProject(), "", b)
		require.NoError(t, err)
		assert.Equal(t, outA.Checksum, outB.Checksum, string(f))
	}
}

func TestGenerateArchivesOutput(t *testing.T) {
	store := new(MockStorage)
	store.On("Save", mock.Anything, "archive/2024/06/Foliar Zinc Uptake_2024-06-01.pdf", mock.Anything).Return(nil).Once()
	store.On("GetURL", mock.Anything, mock.Anything).Return("s3://bucket/key", nil)

	env := newTestService(t, store, Options{Format: report.FormatPDF, Archive: true, ArchivePrefix: "/archive/"})
	res, err := env.svc.Generate(context.Background(), validProject())
	require.NoError(t, err)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "archive/2024/06/Foliar Zinc Uptake_2024-06-01.pdf", res.Outputs[0].ArchiveKey)
	assert.Equal(t, "s3://bucket/key", res.Outputs[0].URL)

	rec, err := env.svc.GetRecord(context.Background(), res.Outputs[0].RecordID)
	require.NoError(t, err)
	assert.True(t, rec.IsArchived())
	store.AssertExpectations(t)
}

func TestGenerateArchiveFailureIsWarning(t *testing.T) {
	store := new(MockStorage)
	store.On("Save", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bucket unreachable"))

	env := newTestService(t, store, Options{Format: report.FormatHTML, Archive: true, ArchivePrefix: "archive"})
	res, err := env.svc.Generate(context.Background(), validProject())
	require.NoError(t, err)
	require.Len(t, res.Outputs, 1)
	assert.Empty(t, res.Outputs[0].ArchiveKey)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "bucket unreachable")
	assert.FileExists(t, res.Outputs[0].Path)
}

func TestProjectsRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestService(t, newLocalStore(t), Options{})

	p := validProject()
	p.Include["sec_reg"] = false
	key, err := env.svc.SaveProject(ctx, "zinc.rdrproj", p)
	require.NoError(t, err)
	assert.Equal(t, "projects/zinc.rdrproj", key)

	_, err = env.svc.SaveProject(ctx, "copper", validProject())
	require.NoError(t, err)

	got, err := env.svc.OpenProject(ctx, "zinc")
	require.NoError(t, err)
	assert.Equal(t, "Foliar Zinc Uptake", got.Title())
	assert.False(t, got.Included("sec_reg"))
	assert.Equal(t, p.Trials, got.Trials)

	list, err := env.svc.ListProjects(ctx)
	require.NoError(t, err)
	var names []string
	for _, pi := range list {
		names = append(names, pi.Name)
	}
	assert.Equal(t, []string{"copper", "zinc"}, names)

	_, err = env.svc.OpenProject(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProjectNamesAreValidated(t *testing.T) {
	env := newTestService(t, newLocalStore(t), Options{})
	for _, name := range []string{"", "  ", "../x", "a/b", `a\b`, ".hidden", ".."} {
		_, err := env.svc.SaveProject(context.Background(), name, validProject())
		assert.ErrorIs(t, err, ErrInvalidProjectName, name)
	}
}

func TestHistoryPagination(t *testing.T) {
	ctx := context.Background()
	env := newTestService(t, newLocalStore(t), Options{Format: report.FormatHTML})

	for i := 0; i < 3; i++ {
		_, err := env.svc.Generate(ctx, validProject())
		require.NoError(t, err)
	}
	failed := validProject()
	failed.Export.OutDir = filepath.Join(t.TempDir(), "gone")
	_, err := env.svc.Generate(ctx, failed)
	require.Error(t, err)

	page, err := env.svc.History(ctx, ListHistoryParams{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Records, 2)

	status := models.StatusFailed
	page, err = env.svc.History(ctx, ListHistoryParams{Status: &status})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, defaultPageSize, page.PageSize)

	page, err = env.svc.History(ctx, ListHistoryParams{Search: "zinc", PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	assert.Equal(t, maxPageSize, page.PageSize)

	_, err = env.svc.GetRecord(ctx, "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestValidateCountsFailures(t *testing.T) {
	env := newTestService(t, newLocalStore(t), Options{})
	p := validProject()
	delete(p.Fields, report.FieldProjectTitle)
	p.Fields[report.FieldReportDate] = "02/05/2024"
	p.Results = []report.ResultItem{{Title: "Yield", Kind: "chart"}}

	err := env.svc.Validate(p)
	var verr *report.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Has(report.FieldProjectTitle))
	assert.True(t, verr.Has("results[0].kind"))
	assert.False(t, verr.Has(report.FieldReportDate), "dates are free text")
	assert.True(t, strings.Contains(err.Error(), `unknown kind "chart"`))
}
