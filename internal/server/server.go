package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"rdreport/internal/config"
	"rdreport/internal/models"
	"rdreport/internal/render"
	"rdreport/internal/report"
	"rdreport/internal/service"
	"rdreport/internal/storage"
)

// HTTPServer is what the application lifecycle starts and stops.
type HTTPServer interface {
	Start(address string) error
	Shutdown(ctx context.Context) error
}

// Server serves the report form and its JSON API.
type Server struct {
	echo    *echo.Echo
	service service.ReportService
	logger  *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, reportService service.ReportService, gatherer prometheus.Gatherer, logger *logrus.Logger) *Server {
	e := echo.New()
	e.Debug = cfg.Server.Debug
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency,
				"request_id": v.RequestID,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("Request failed")
				return nil
			}
			entry.Debug("Request")
			return nil
		},
	}))
	e.Use(sameOrigin())
	e.Use(formCSRF())

	server := &Server{
		echo:    e,
		service: reportService,
		logger:  logger,
	}

	server.setupRoutes(gatherer)
	return server
}

// Start starts the HTTP server
func (s *Server) Start(address string) error {
	s.logger.WithField("address", address).Info("Starting HTTP server")
	if err := s.echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets the server be driven without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/health", s.healthCheck)
	if gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// form
	s.echo.GET("/", s.showForm)
	s.echo.POST("/generate", s.generateFromForm)
	s.echo.POST("/projects/save", s.saveFromForm)
	s.echo.GET("/projects/open", s.openIntoForm)

	api := s.echo.Group("/api/v1", requireJSON())
	{
		api.GET("/fields", s.listFields)
		api.POST("/reports", s.createReport)

		history := api.Group("/history")
		{
			history.GET("", s.listHistory)
			history.GET("/:id", s.getRecord)
		}

		projects := api.Group("/projects")
		{
			projects.GET("", s.listProjects)
			projects.GET("/:name", s.getProject)
			projects.PUT("/:name", s.putProject)
		}
	}
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "rdreport",
	})
}

// page renders the form, listing saved projects when storage allows.
func (s *Server) page(c echo.Context, status int, v *formView) error {
	if projects, err := s.service.ListProjects(c.Request().Context()); err != nil {
		s.logger.WithError(err).Warn("Failed to list projects")
	} else {
		v.Projects = projects
	}
	v.CSRF = csrfToken(c)

	var buf bytes.Buffer
	if err := v.render(&buf); err != nil {
		s.logger.WithError(err).Error("Failed to render form")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to render form")
	}
	return c.HTMLBlob(status, buf.Bytes())
}

func (s *Server) view(p *report.Project) *formView {
	return newFormView(s.service.Template(), p, s.service.Defaults())
}

func (s *Server) showForm(c echo.Context) error {
	return s.page(c, http.StatusOK, s.view(report.NewProject()))
}

func (s *Server) generateFromForm(c echo.Context) error {
	form, err := c.FormParams()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form")
	}
	p := projectFromForm(s.service.Template(), form)
	v := s.view(p)
	v.ProjectName = sanitizeText(form.Get("project_name"))

	result, err := s.service.Generate(c.Request().Context(), p)
	if result != nil {
		v.Written = result.Paths()
		v.Warnings = result.Warnings
	}
	if err == nil {
		return s.page(c, http.StatusOK, v)
	}

	var verr *report.ValidationError
	var rerr *render.Error
	switch {
	case errors.As(err, &verr):
		v.Error = "Please complete the highlighted fields."
		v.markIssues(verr.Issues)
		return s.page(c, http.StatusUnprocessableEntity, v)
	case errors.As(err, &rerr):
		v.Error = "The report could not be written: " + rerr.Error()
		return s.page(c, http.StatusInternalServerError, v)
	default:
		s.logger.WithError(err).Error("Failed to generate report")
		v.Error = err.Error()
		return s.page(c, http.StatusInternalServerError, v)
	}
}

func (s *Server) saveFromForm(c echo.Context) error {
	form, err := c.FormParams()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form")
	}
	p := projectFromForm(s.service.Template(), form)
	v := s.view(p)
	v.ProjectName = sanitizeText(form.Get("project_name"))

	key, err := s.service.SaveProject(c.Request().Context(), v.ProjectName, p)
	if err != nil {
		v.Error = err.Error()
		return s.page(c, projectErrorStatus(err), v)
	}
	v.Notice = "Project saved as " + key
	return s.page(c, http.StatusOK, v)
}

func (s *Server) openIntoForm(c echo.Context) error {
	name := c.QueryParam("name")
	p, err := s.service.OpenProject(c.Request().Context(), name)
	if err != nil {
		v := s.view(report.NewProject())
		v.Error = err.Error()
		return s.page(c, projectErrorStatus(err), v)
	}
	v := s.view(p)
	v.ProjectName = name
	v.Notice = "Opened project " + name
	return s.page(c, http.StatusOK, v)
}

func (s *Server) listFields(c echo.Context) error {
	tmpl := s.service.Template()
	return c.JSON(http.StatusOK, map[string]any{
		"title":        tmpl.Title,
		"fields":       tmpl.FieldSpecs(),
		"include_keys": report.IncludeKeys,
		"formats":      formats,
		"layouts":      report.TrialLayouts,
		"table_styles": report.TableStyles,
		"symbols":      tmpl.Symbols,
		"defaults":     s.service.Defaults(),
	})
}

// createReport validates and renders a project posted as JSON.
func (s *Server) createReport(c echo.Context) error {
	p, err := report.ReadProject(c.Request().Body)
	if err != nil {
		s.logger.WithError(err).Error("Failed to bind request")
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request format",
		})
	}
	sanitizeProject(p)

	result, err := s.service.Generate(c.Request().Context(), p)
	if err == nil {
		return c.JSON(http.StatusCreated, result)
	}

	var verr *report.ValidationError
	var rerr *render.Error
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{
			"error":  verr.Error(),
			"issues": verr.Issues,
		})
	case errors.As(err, &rerr):
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"error":  rerr.Error(),
			"kind":   rerr.Kind,
			"result": result,
		})
	default:
		s.logger.WithError(err).Error("Failed to generate report")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to generate report",
		})
	}
}

func (s *Server) listHistory(c echo.Context) error {
	var params service.ListHistoryParams
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid query parameters",
		})
	}
	if raw := c.QueryParam("status"); raw != "" {
		status := models.RenderStatus(raw)
		if status != models.StatusCompleted && status != models.StatusFailed {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("Unknown status %q", raw),
			})
		}
		params.Status = &status
	}

	list, err := s.service.History(c.Request().Context(), params)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to list history",
		})
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) getRecord(c echo.Context) error {
	record, err := s.service.GetRecord(c.Request().Context(), c.Param("id"))
	if errors.Is(err, service.ErrRecordNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "Record not found",
		})
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to get record")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to get record",
		})
	}
	return c.JSON(http.StatusOK, record)
}

func (s *Server) listProjects(c echo.Context) error {
	projects, err := s.service.ListProjects(c.Request().Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to list projects")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to list projects",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"projects": projects,
		"count":    len(projects),
	})
}

func (s *Server) getProject(c echo.Context) error {
	p, err := s.service.OpenProject(c.Request().Context(), c.Param("name"))
	if err != nil {
		return c.JSON(projectErrorStatus(err), map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) putProject(c echo.Context) error {
	p, err := report.ReadProject(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request format",
		})
	}
	sanitizeProject(p)

	key, err := s.service.SaveProject(c.Request().Context(), c.Param("name"), p)
	if err != nil {
		return c.JSON(projectErrorStatus(err), map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"name": c.Param("name"),
		"key":  key,
	})
}

func projectErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidProjectName):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
