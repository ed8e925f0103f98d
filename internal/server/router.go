package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trainer/internal/provider"
	"trainer/internal/service"
	"trainer/internal/store"
)

const subjectContextKey = "trainer_subject"

var (
	errMissingRunner        = errors.New("sync runner dependency required")
	errMissingQueryService  = errors.New("query service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SyncRunner runs one sync invocation
type SyncRunner interface {
	Sync(ctx context.Context, req service.SyncRequest) service.SyncResult
}

// CredentialCounter reports connected accounts per provider
type CredentialCounter interface {
	CountCredentials(ctx context.Context, provider string) (int, error)
}

// ProviderInfo describes one provider the server knows about
type ProviderInfo struct {
	Name       provider.Name
	Configured bool // oauth client credentials are present
}

type Dependencies struct {
	Runner      SyncRunner
	Queries     *service.QueryService
	Credentials CredentialCounter
	Providers   []ProviderInfo
	Tokens      TokenValidator // nil disables authentication
	CORSOrigins []string
	Logger      *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Runner == nil {
		return nil, errMissingRunner
	}
	if deps.Queries == nil {
		return nil, errMissingQueryService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.CORSOrigins))

	handler := &httpHandler{
		runner:      deps.Runner,
		queries:     deps.Queries,
		credentials: deps.Credentials,
		providers:   deps.Providers,
		tokens:      deps.Tokens,
		logger:      logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(handler.authorizeRequest)
	api.GET("/sync", handler.handleSync)
	api.POST("/sync", handler.handleSync)
	api.GET("/activities", handler.handleListActivities)
	api.GET("/activities/:id", handler.handleGetActivity)
	api.PATCH("/activities/:id", handler.handleUpdateActivity)
	api.GET("/providers/health", handler.handleProvidersHealth)

	return router, nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	runner      SyncRunner
	queries     *service.QueryService
	credentials CredentialCounter
	providers   []ProviderInfo
	tokens      TokenValidator
	logger      *zap.Logger
}

type syncRequestPayload struct {
	Provider   string `form:"provider" json:"provider"`
	AccountID  string `form:"account_id" json:"account_id"`
	SinceYears int    `form:"since_years" json:"since_years"`
	PageSize   int    `form:"page_size" json:"page_size"`
	Page       int    `form:"page" json:"page"`
	MaxPages   int    `form:"max_pages" json:"max_pages"`
	Resume     *bool  `form:"resume" json:"resume"`
}

type syncErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Remedy  string `json:"remedy"`
	Status  int    `json:"upstream_status,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

type syncResponsePayload struct {
	OK                bool              `json:"ok"`
	RunID             string            `json:"run_id,omitempty"`
	Provider          string            `json:"provider"`
	AccountID         string            `json:"account_id"`
	State             string            `json:"state"`
	Imported          int               `json:"imported"`
	Skipped           int               `json:"skipped"`
	Failed            int               `json:"failed"`
	PagesFetched      int               `json:"pages_fetched"`
	NextPage          int               `json:"next_page"`
	HasMore           bool              `json:"has_more"`
	RetryAfterSeconds int               `json:"retry_after_seconds,omitempty"`
	ElapsedMillis     int64             `json:"elapsed_ms"`
	Error             *syncErrorPayload `json:"error,omitempty"`
}

func (h *httpHandler) handleSync(c *gin.Context) {
	var request syncRequestPayload
	var err error
	if c.Request.Method == http.MethodPost && c.Request.ContentLength > 0 {
		err = c.ShouldBindJSON(&request)
	} else {
		err = c.ShouldBindQuery(&request)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	p := provider.Name(strings.ToLower(strings.TrimSpace(request.Provider)))
	if p != "" && !p.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_provider"})
		return
	}
	if request.PageSize < 0 || request.PageSize > service.MaxPageSize ||
		request.MaxPages < 0 || request.MaxPages > service.MaxPagesCeiling || request.Page < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	resume := true
	if request.Resume != nil {
		resume = *request.Resume
	}

	result := h.runner.Sync(c.Request.Context(), service.SyncRequest{
		Provider:   p,
		AccountID:  strings.TrimSpace(request.AccountID),
		SinceYears: request.SinceYears,
		PageSize:   request.PageSize,
		StartPage:  request.Page,
		MaxPages:   request.MaxPages,
		Resume:     resume,
	})

	status := http.StatusOK
	if result.Err != nil {
		status = result.Err.HTTPStatus()
		if result.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(result.RetryAfter)))
		}
	}
	c.JSON(status, newSyncResponse(result))
}

// retryAfterSeconds rounds up to whole seconds, at least one
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func newSyncResponse(r service.SyncResult) syncResponsePayload {
	resp := syncResponsePayload{
		OK:                r.OK(),
		RunID:             r.RunID,
		Provider:          string(r.Account.Provider),
		AccountID:         r.Account.ExternalAccountID,
		State:             r.State.String(),
		Imported:          r.Imported,
		Skipped:           r.Skipped,
		Failed:            r.Failed,
		PagesFetched:      r.PagesFetched,
		NextPage:          r.NextPage,
		HasMore:           r.HasMore,
		RetryAfterSeconds: int(r.RetryAfter / time.Second),
		ElapsedMillis:     r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}
	if r.Err != nil {
		resp.Error = &syncErrorPayload{
			Kind:    string(r.Err.Kind),
			Message: r.Err.Message(),
			Remedy:  r.Err.Remedy(),
			Status:  r.Err.Status,
			Detail:  r.Err.Detail,
		}
	}
	return resp
}

func (h *httpHandler) handleListActivities(c *gin.Context) {
	page := 1
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_page"})
			return
		}
		page = n
	}

	filter := store.ActivityFilter{
		Provider:       strings.ToLower(c.Query("provider")),
		OwnerID:        c.Query("owner_id"),
		ExcludeFlagged: c.Query("exclude_flagged") == "true",
	}

	result, err := h.queries.GetActivitiesList(c.Request.Context(), filter, page)
	if err != nil {
		h.logger.Error("failed to list activities", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleGetActivity(c *gin.Context) {
	id, ok := activityID(c)
	if !ok {
		return
	}

	activity, err := h.queries.GetActivity(c.Request.Context(), id)
	if errors.Is(err, store.ErrActivityNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load activity", zap.Int64("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load_failed"})
		return
	}
	c.JSON(http.StatusOK, activity)
}

type updateActivityPayload struct {
	ExcludedFromAnalysis *bool `json:"excluded_from_analysis"`
}

func (h *httpHandler) handleUpdateActivity(c *gin.Context) {
	id, ok := activityID(c)
	if !ok {
		return
	}

	var request updateActivityPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ExcludedFromAnalysis == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "excluded_from_analysis must be a boolean"})
		return
	}

	activity, err := h.queries.SetExcludedFromAnalysis(c.Request.Context(), id, *request.ExcludedFromAnalysis)
	if errors.Is(err, store.ErrActivityNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to update activity", zap.Int64("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, activity)
}

func activityID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return 0, false
	}
	return id, true
}

type providerHealthPayload struct {
	Provider          string `json:"provider"`
	Configured        bool   `json:"configured"`
	ConnectedAccounts int    `json:"connected_accounts"`
}

func (h *httpHandler) handleProvidersHealth(c *gin.Context) {
	response := make([]providerHealthPayload, 0, len(h.providers))
	for _, p := range h.providers {
		entry := providerHealthPayload{Provider: string(p.Name), Configured: p.Configured}
		if h.credentials != nil {
			n, err := h.credentials.CountCredentials(c.Request.Context(), string(p.Name))
			if err != nil {
				h.logger.Error("failed to count credentials", zap.String("provider", string(p.Name)), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "health_failed"})
				return
			}
			entry.ConnectedAccounts = n
		}
		response = append(response, entry)
	}
	c.JSON(http.StatusOK, gin.H{"providers": response})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	if h.tokens == nil {
		c.Next()
		return
	}

	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, subject)
	c.Next()
}
