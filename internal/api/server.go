package api

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/oakbuilders/bid-finder/internal/auth"
	"github.com/oakbuilders/bid-finder/internal/db"
	"github.com/oakbuilders/bid-finder/internal/ingest"
	"github.com/oakbuilders/bid-finder/internal/logger"
	"github.com/oakbuilders/bid-finder/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	dateLayout       = "2006-01-02"
)

// Options carries the optional collaborators of the server.
type Options struct {
	// AdminSecret guards the /admin routes. Empty falls back to ADMIN_SECRET
	// and then to an ephemeral secret.
	AdminSecret string
	CORSOrigins []string
	// Gatherer backs /metrics; nil serves the default registry.
	Gatherer prometheus.Gatherer
	// Pipeline and Sources enable the admin ingest job.
	Pipeline *ingest.Pipeline
	Sources  []ingest.Source
}

type Server struct {
	store    *db.Store
	auth     *auth.Service
	echo     *echo.Echo
	log      *zap.Logger
	opts     Options
	secret   string
	pipeline *ingest.Pipeline

	// Background job tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Kind      string             `json:"kind"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

var (
	adminSecretOnce    sync.Once
	adminSecretRuntime string
	adminSecretErr     error
)

func NewServer(store *db.Store, authService *auth.Service, opts Options, log *zap.Logger) (*Server, error) {
	log = logger.WithFields(log)

	secret := opts.AdminSecret
	if secret == "" {
		var err error
		if secret, err = adminSecret(log); err != nil {
			return nil, err
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				log.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Debug("request", fields...)
			return nil
		},
	}))

	// CORS: allow frontend origins from options or default to localhost
	allowedOrigins := []string{"http://localhost:4200"}
	allowedOrigins = append(allowedOrigins, opts.CORSOrigins...)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	s := &Server{
		store:    store,
		auth:     authService,
		echo:     e,
		log:      log,
		opts:     opts,
		secret:   secret,
		pipeline: opts.Pipeline,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.echo.GET("/health", s.handleHealth)

	gatherer := s.opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := s.echo.Group("/api/v1")
	api.GET("/opportunities", s.handleListOpportunities)
	api.GET("/opportunities/:id", s.handleGetOpportunity)
	api.GET("/sources/:source/opportunities/:native_id", s.handleGetBySourceID)
	api.GET("/stats", s.handleGetStats)
	api.GET("/runs", s.handleListRuns)

	// Auth Routes
	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	// Reviewer actions
	api.PATCH("/opportunities/:id/status", s.handleSetStatus, s.auth.Middleware)
	api.PATCH("/opportunities/:id", s.handleEditOpportunity, s.auth.Middleware)

	// Admin Routes
	admin := api.Group("/admin")
	admin.Use(s.adminMiddleware)
	admin.POST("/rescore", s.handleRescore)
	admin.POST("/expire", s.handleExpire)
	admin.POST("/ingest", s.handleIngest)
	admin.GET("/job/:id", s.handleJobStatus)
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(addr string) error {
	s.log.Info("api listening", zap.String("addr", addr))
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Cancel != nil {
		s.runningJob.Cancel()
	}
	s.jobMu.Unlock()
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

// storeError maps store failures onto HTTP statuses.
func (s *Server) storeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return errorJSON(c, http.StatusNotFound, "Not found")
	case errors.Is(err, db.ErrInvalidStatus):
		return errorJSON(c, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("store failure", zap.String("uri", c.Request().RequestURI), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
}

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request")
	}

	resp, err := s.auth.Signup(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			return errorJSON(c, http.StatusConflict, err.Error())
		case errors.Is(err, auth.ErrInvalidInput):
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
		return s.storeError(c, err)
	}

	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request")
	}

	resp, err := s.auth.Login(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCreds) {
			return errorJSON(c, http.StatusUnauthorized, "Invalid credentials")
		}
		return s.storeError(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

// splitCSV splits a comma-separated query parameter into trimmed non-empty strings.
func splitCSV(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

// parseFilter reads list filters from the query string.
func parseFilter(c echo.Context) (models.Filter, error) {
	f := models.Filter{
		Jurisdictions: splitCSV(c.QueryParam("jurisdiction")),
		Categories:    splitCSV(c.QueryParam("category")),
		Limit:         defaultListLimit,
	}

	for _, raw := range splitCSV(c.QueryParam("status")) {
		st := models.Status(strings.ToLower(raw))
		if !st.Valid() {
			return f, fmt.Errorf("unknown status %q", raw)
		}
		f.Statuses = append(f.Statuses, st)
	}

	if v := c.QueryParam("min_score"); v != "" {
		score, err := strconv.ParseFloat(v, 64)
		if err != nil || score < 0 || score > 100 {
			return f, fmt.Errorf("min_score must be a number in [0, 100]")
		}
		f.MinScore = &score
	}

	for param, dst := range map[string]**time.Time{"posted_from": &f.PostedFrom, "posted_to": &f.PostedTo} {
		if v := c.QueryParam(param); v != "" {
			t, err := time.Parse(dateLayout, v)
			if err != nil {
				return f, fmt.Errorf("%s must be YYYY-MM-DD", param)
			}
			*dst = &t
		}
	}

	if v := c.QueryParam("include_expired"); v != "" {
		inc, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("include_expired must be a boolean")
		}
		f.IncludeExpired = inc
	}

	if v := c.QueryParam("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l <= 0 {
			return f, fmt.Errorf("limit must be a positive integer")
		}
		f.Limit = min(l, maxListLimit)
	}
	return f, nil
}

func (s *Server) handleListOpportunities(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	opps, err := s.store.Collect(c.Request().Context(), f)
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"items": opps,
		"count": len(opps),
	})
}

func parseID(c echo.Context) (uuid.UUID, error) {
	return uuid.Parse(c.Param("id"))
}

func (s *Server) handleGetOpportunity(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return errorJSON(c, http.StatusNotFound, "Not found")
	}
	opp, err := s.store.Get(c.Request().Context(), id)
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusOK, opp)
}

func (s *Server) handleGetBySourceID(c echo.Context) error {
	opp, err := s.store.GetBySourceID(c.Request().Context(), c.Param("source"), c.Param("native_id"))
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusOK, opp)
}

func (s *Server) handleGetStats(c echo.Context) error {
	stats, err := s.store.Stats(c.Request().Context())
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleListRuns(c echo.Context) error {
	limit := 20
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 200 {
		limit = l
	}
	runs, err := s.store.Runs(c.Request().Context(), limit)
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusOK, runs)
}

type statusRequest struct {
	Status models.Status `json:"status"`
}

func (s *Server) handleSetStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return errorJSON(c, http.StatusNotFound, "Not found")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request")
	}

	opp, err := s.store.SetStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return s.storeError(c, err)
	}

	reviewerID, _ := auth.ReviewerIDFromContext(c)
	s.log.Info("status changed",
		zap.String(logger.FieldOppID, id.String()),
		zap.String("status", string(opp.Status)),
		zap.String("reviewer_id", reviewerID.String()),
	)
	return c.JSON(http.StatusOK, opp)
}

func (s *Server) handleEditOpportunity(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return errorJSON(c, http.StatusNotFound, "Not found")
	}
	var edit models.Edit
	if err := c.Bind(&edit); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request")
	}
	if edit.Title != nil && strings.TrimSpace(*edit.Title) == "" {
		return errorJSON(c, http.StatusBadRequest, "title must not be empty")
	}

	opp, err := s.store.ApplyEdit(c.Request().Context(), id, edit)
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusOK, opp)
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Check X-Admin-Secret header or Bearer token
		candidate := c.Request().Header.Get("X-Admin-Secret")
		if authHeader := c.Request().Header.Get("Authorization"); candidate == "" && len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			candidate = authHeader[7:]
		}

		if candidate != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(s.secret)) == 1 {
			return next(c)
		}
		return errorJSON(c, http.StatusUnauthorized, "Unauthorized admin access")
	}
}

func adminSecret(log *zap.Logger) (string, error) {
	adminSecretOnce.Do(func() {
		secret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
		if secret != "" {
			adminSecretRuntime = secret
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			adminSecretErr = fmt.Errorf("failed to generate ADMIN_SECRET fallback: %w", err)
			return
		}

		adminSecretRuntime = base64.RawURLEncoding.EncodeToString(buf)
		log.Warn("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if adminSecretErr != nil {
		return "", adminSecretErr
	}
	if adminSecretRuntime == "" {
		return "", fmt.Errorf("admin secret unavailable")
	}

	return adminSecretRuntime, nil
}
