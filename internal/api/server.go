// Package api exposes the scheduling engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/calsched/calsched/internal/config"
	"github.com/calsched/calsched/internal/engine"
	calerrors "github.com/calsched/calsched/internal/errors"
	"github.com/calsched/calsched/internal/logging"
	"github.com/calsched/calsched/internal/metrics"
	"github.com/calsched/calsched/internal/models"
	"github.com/calsched/calsched/internal/provider"
	"github.com/calsched/calsched/internal/store"
	"github.com/calsched/calsched/internal/token"
)

// Server is the HTTP API server.
type Server struct {
	router      *gin.Engine
	config      config.ServerConfig
	apiConfig   config.APIConfig
	store       store.Store
	engine      *engine.Engine
	tokens      *token.Manager
	provider    provider.CalendarProvider
	metrics     *metrics.Metrics
	logger      *logging.Logger
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
	tlsConfig   config.TLSConfig
	timeout     time.Duration
}

// Router returns the gin router for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer creates a new API server.
func NewServer(cfg config.ServerConfig, apiCfg config.APIConfig, s store.Store, eng *engine.Engine, tokens *token.Manager, p provider.CalendarProvider, m *metrics.Metrics, requestTimeout time.Duration) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := logging.NewLogger()

	requestsPerMinute := apiCfg.RateLimit.RequestsPerMinute
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1000
	}
	burst := apiCfg.RateLimit.Burst
	if burst <= 0 {
		burst = 100
	}
	rateLimiter := newIPRateLimiter(time.Minute/time.Duration(requestsPerMinute), burst)

	server := &Server{
		router:      gin.New(),
		config:      cfg,
		apiConfig:   apiCfg,
		store:       s,
		engine:      eng,
		tokens:      tokens,
		provider:    p,
		metrics:     m,
		logger:      logger,
		rateLimiter: rateLimiter,
		tlsConfig:   cfg.TLS,
		timeout:     requestTimeout,
	}
	server.router.HandleMethodNotAllowed = true

	server.router.Use(gin.Recovery())
	server.router.Use(rateLimitMiddleware(rateLimiter))

	// Body size limit (1MB)
	server.router.Use(bodyLimitMiddleware(1 << 20))

	server.router.Use(metrics.Middleware(m, logger))
	server.router.Use(loggingMiddleware(logger))

	server.setupRoutes()
	return server
}

// loggingMiddleware provides structured logging for all requests
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}

		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		duration := time.Since(start).Seconds()
		logger.InfoWithContext(ctx, "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", duration,
		)
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint - NO authentication required
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// Health check - NO authentication required
	s.router.GET("/health", s.handleHealth)

	// OAuth consent flow - launched from a browser, no API key required
	s.router.GET("/integrations/google/connect", s.handleOAuthConnect)
	s.router.GET("/integrations/google/callback", s.handleOAuthCallback)

	authMiddleware := APIKeyAuth(s.apiConfig.Auth.APIKeys, s.apiConfig.Auth.HeaderName, s.logger)

	scheduleGroup := s.router.Group("")
	scheduleGroup.Use(authMiddleware)
	{
		scheduleGroup.POST("/meetings/suggest", s.handleSuggest)
		scheduleGroup.POST("/meetings/book", s.handleBook)
		scheduleGroup.POST("/events/:local_event_id/sync", s.handleSyncEvent)
		scheduleGroup.DELETE("/events/:local_event_id/sync", s.handleUnsyncEvent)
	}

	integrationGroup := s.router.Group("")
	integrationGroup.Use(authMiddleware)
	{
		integrationGroup.GET("/integrations", s.handleListIntegrations)
		integrationGroup.GET("/integrations/:user_id", s.handleIntegrationStatus)
		integrationGroup.DELETE("/integrations/:user_id", s.handleDisconnect)
	}
}

// Run starts the HTTP or HTTPS server based on TLS configuration
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	if s.tlsConfig.Enabled {
		return s.RunTLS()
	}

	if s.httpServer == nil {
		s.httpServer = NewHTTPServer(addr, s.router)
	}

	s.logger.Info("starting HTTP server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// RunTLS starts the HTTPS server with TLS configuration
func (s *Server) RunTLS() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	s.logger.Info("starting HTTPS server", "addr", addr, "cert_file", s.tlsConfig.CertFile, "min_version", s.tlsConfig.MinVersion)

	srv, err := NewHTTPSServerWithConfig(addr, s.tlsConfig.CertFile, s.tlsConfig.KeyFile, s.tlsConfig.MinVersion, s.router)
	if err != nil {
		return &calerrors.ErrServerStart{Addr: addr, Err: err}
	}
	s.httpServer = srv

	return s.httpServer.ListenAndServe()
}

// StartWithServer starts the server with a pre-configured http.Server
func (s *Server) StartWithServer(srv *http.Server) error {
	s.httpServer = srv
	s.logger.Info("starting HTTP server", "addr", srv.Addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	if s.httpServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.logger.Info("shutting down HTTP server")
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.logger.Error("HTTP server shutdown error", "error", err.Error())
				errs <- &calerrors.ErrServerShutdown{Err: err}
			}
		}()
	}

	if s.store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.store.Close(); err != nil {
				errs <- fmt.Errorf("store close: %w", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	close(errs)
	var errList []error
	for err := range errs {
		if err != nil {
			errList = append(errList, err)
		}
	}
	if len(errList) > 0 {
		return fmt.Errorf("shutdown errors: %v", errList)
	}

	s.logger.Info("graceful shutdown completed")
	return nil
}

// requestContext derives a per-request context with the configured
// scheduling timeout.
func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return c.Request.Context(), func() {}
	}
	return context.WithTimeout(c.Request.Context(), s.timeout)
}

// handleHealth returns health status
func (s *Server) handleHealth(c *gin.Context) {
	stats := s.store.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"credentials": stats.Credentials,
		"mappings":    stats.Mappings,
	})
}

// SuggestRequest is the wire shape for POST /meetings/suggest.
type SuggestRequest struct {
	ParticipantIDs  []string `json:"participant_ids" binding:"required"`
	StartDate       string   `json:"start_date" binding:"required"`
	EndDate         string   `json:"end_date" binding:"required"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	MaxSuggestions  int      `json:"max_suggestions,omitempty"`
}

// handleSuggest runs the scheduling pipeline for one request.
func (s *Server) handleSuggest(c *gin.Context) {
	var req SuggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	startDate, err := parseDate(req.StartDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date: " + err.Error()})
		return
	}
	endDate, err := parseDate(req.EndDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date: " + err.Error()})
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	resp, err := s.engine.SuggestMeetingTimes(ctx, engine.SuggestRequest{
		ParticipantIDs:  req.ParticipantIDs,
		StartDate:       startDate,
		EndDate:         endDate,
		DurationMinutes: req.DurationMinutes,
		MaxSuggestions:  req.MaxSuggestions,
	})
	if err != nil {
		s.writeSchedulingError(c, "/meetings/suggest", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// BookRequest is the wire shape for POST /meetings/book.
type BookRequest struct {
	OrganizerID       string    `json:"organizer_id" binding:"required"`
	AttendeeIDs       []string  `json:"attendee_ids,omitempty"`
	Start             time.Time `json:"start" binding:"required"`
	End               time.Time `json:"end" binding:"required"`
	Title             string    `json:"title" binding:"required"`
	Description       string    `json:"description,omitempty"`
	WantsConferencing bool      `json:"wants_conferencing,omitempty"`
	Recurrence        string    `json:"recurrence,omitempty"`
}

// handleBook books a previously suggested slot.
func (s *Server) handleBook(c *gin.Context) {
	var req BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	result, err := s.engine.BookMeeting(ctx, engine.BookRequest{
		OrganizerID:       req.OrganizerID,
		AttendeeIDs:       req.AttendeeIDs,
		Start:             req.Start,
		End:               req.End,
		Title:             req.Title,
		Description:       req.Description,
		WantsConferencing: req.WantsConferencing,
		Recurrence:        models.RecurrenceRule(req.Recurrence),
	})
	if err != nil {
		s.writeSchedulingError(c, "/meetings/book", err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// handleDisconnect revokes a user's calendar integration.
func (s *Server) handleDisconnect(c *gin.Context) {
	userID := c.Param("user_id")

	ctx, cancel := s.requestContext(c)
	defer cancel()

	if !s.engine.Disconnect(ctx, userID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no integration found for user"})
		return
	}

	s.logger.InfoWithContext(ctx, "integration disconnected", "user_id", userID)
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

// IntegrationStatus is the wire shape of one user's integration state.
type IntegrationStatus struct {
	UserID       string     `json:"user_id"`
	Provider     string     `json:"provider"`
	Status       string     `json:"status"`
	AccountEmail string     `json:"account_email,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// handleIntegrationStatus returns one user's integration state.
func (s *Server) handleIntegrationStatus(c *gin.Context) {
	userID := c.Param("user_id")

	cred, ok := s.store.GetCredential(userID, s.provider.ID())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no integration found for user"})
		return
	}

	c.JSON(http.StatusOK, credentialStatus(cred))
}

// handleListIntegrations returns every stored integration.
func (s *Server) handleListIntegrations(c *gin.Context) {
	creds := s.store.ListCredentials(s.provider.ID())

	resp := make([]IntegrationStatus, 0, len(creds))
	for _, cred := range creds {
		resp = append(resp, credentialStatus(cred))
	}
	c.JSON(http.StatusOK, resp)
}

// SyncEventRequest is the wire shape for POST /events/:local_event_id/sync.
type SyncEventRequest struct {
	OrganizerID       string    `json:"organizer_id" binding:"required"`
	Title             string    `json:"title" binding:"required"`
	Description       string    `json:"description,omitempty"`
	Start             time.Time `json:"start" binding:"required"`
	End               time.Time `json:"end" binding:"required"`
	AttendeeEmails    []string  `json:"attendee_emails,omitempty"`
	WantsConferencing bool      `json:"wants_conferencing,omitempty"`
	Recurrence        string    `json:"recurrence,omitempty"`
}

// handleSyncEvent creates or updates the provider-side counterpart of a
// local event.
func (s *Server) handleSyncEvent(c *gin.Context) {
	localEventID := c.Param("local_event_id")

	var req SyncEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event := models.LocalEvent{
		ID:                localEventID,
		OrganizerID:       req.OrganizerID,
		Title:             req.Title,
		Description:       req.Description,
		Start:             req.Start,
		End:               req.End,
		AttendeeEmails:    req.AttendeeEmails,
		WantsConferencing: req.WantsConferencing,
		Recurrence:        models.RecurrenceRule(req.Recurrence),
	}
	if err := event.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	mapping, ok := s.engine.SyncLocalEvent(ctx, event)
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "event could not be synced to the provider"})
		return
	}

	c.JSON(http.StatusOK, mapping)
}

// handleUnsyncEvent removes the provider-side counterpart of a local
// event. Unsyncing a never-synced event succeeds.
func (s *Server) handleUnsyncEvent(c *gin.Context) {
	localEventID := c.Param("local_event_id")
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	if !s.engine.UnsyncLocalEvent(ctx, userID, localEventID) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "provider event could not be removed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "unsynced"})
}

// writeSchedulingError maps engine errors onto HTTP statuses. Validation
// failures are 400, total-failure scheduling conditions are 422,
// cancellations are 504, anything else is 500.
func (s *Server) writeSchedulingError(c *gin.Context, endpoint string, err error) {
	ctx := c.Request.Context()

	var validation *calerrors.ErrSlotValidation
	var noCalendars *calerrors.ErrNoUsableCalendars
	var noSlots *calerrors.ErrNoCandidateSlots

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &noCalendars), errors.As(err, &noSlots):
		s.metrics.RecordError("scheduling_degraded", endpoint, c.Request.Method)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.metrics.RecordError("timeout", endpoint, c.Request.Method)
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "scheduling request timed out"})
	case errors.Is(err, engine.ErrBookingFailed):
		s.metrics.RecordError("booking_failed", endpoint, c.Request.Method)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		s.logger.ErrorWithContext(ctx, "scheduling request failed",
			"endpoint", endpoint, "error", err.Error())
		s.metrics.RecordError("internal", endpoint, c.Request.Method)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func credentialStatus(cred *models.Credential) IntegrationStatus {
	return IntegrationStatus{
		UserID:       cred.UserID,
		Provider:     string(cred.Provider),
		Status:       string(cred.Status),
		AccountEmail: cred.AccountEmail,
		ExpiresAt:    cred.ExpiresAt,
	}
}

// parseDate accepts YYYY-MM-DD or RFC3339.
func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}
