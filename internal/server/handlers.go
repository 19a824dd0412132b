package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/featflow/featflow/internal/common/errors"
	"github.com/featflow/featflow/internal/common/logger"
	"github.com/featflow/featflow/internal/events"
	"github.com/featflow/featflow/internal/events/bus"
	"github.com/featflow/featflow/internal/feature"
	"github.com/featflow/featflow/internal/orchestrator"
	"github.com/featflow/featflow/internal/session"
	"github.com/featflow/featflow/internal/sysprompt"
	v1 "github.com/featflow/featflow/pkg/api/v1"
)

// Orchestrator is the execution surface the gateway drives. Satisfied by
// *orchestrator.Service.
type Orchestrator interface {
	StartFeature(ctx context.Context, projectPath, featureID string) (*orchestrator.StartResult, error)
	ContinueFeature(ctx context.Context, projectPath, featureID, message string, imagePaths []string) (*orchestrator.StartResult, error)
	InterruptFeature(ctx context.Context, projectPath, featureID string) (*orchestrator.InterruptResult, error)
	UpdateFeatureStatus(ctx context.Context, projectPath, featureID string, newStatus feature.Status) (*feature.Feature, error)
	SetMaxConcurrency(n int) int
	Status() *orchestrator.Status
	Session(featureID string) (*session.Session, bool)
}

// Handler contains the HTTP handlers for the feature and orchestrator API
type Handler struct {
	orchestrator Orchestrator
	store        feature.Store
	eventBus     bus.EventBus
	logger       *logger.Logger
}

// NewHandler creates an API handler
func NewHandler(orch Orchestrator, store feature.Store, eventBus bus.EventBus, log *logger.Logger) *Handler {
	return &Handler{
		orchestrator: orch,
		store:        store,
		eventBus:     eventBus,
		logger:       log.WithFields(zap.String("component", "gateway")),
	}
}

// projectPath extracts the required project_path query parameter
func projectPath(c *gin.Context) (string, bool) {
	path := c.Query("project_path")
	if path == "" {
		appErr := apperrors.ValidationError("project_path", "is required as a query parameter")
		c.JSON(appErr.HTTPStatus, appErr)
		return "", false
	}
	return path, true
}

// respondError maps any error onto the AppError JSON shape and status
func (h *Handler) respondError(c *gin.Context, err error, message string) {
	appErr := apperrors.Wrap(err, message)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.logger.Error(message, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(appErr.HTTPStatus, appErr)
}

// CreateFeature creates a new backlog card
// POST /api/v1/features
func (h *Handler) CreateFeature(c *gin.Context) {
	var req v1.CreateFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.ValidationError("request", err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	feat := &feature.Feature{
		ProjectPath: req.ProjectPath,
		Title:       req.Title,
		Description: req.Description,
		Model:       req.Model,
	}
	if err := h.store.Create(c.Request.Context(), feat); err != nil {
		h.respondError(c, err, "failed to create feature")
		return
	}

	h.publish(events.FeatureCreated, map[string]any{
		"feature_id": feat.ID,
		"feature":    toAPIFeature(feat),
	})

	c.JSON(http.StatusCreated, toAPIFeature(feat))
}

// ListFeatures lists a project's features, optionally filtered
// GET /api/v1/features?project_path=...&status=...&q=...
func (h *Handler) ListFeatures(c *gin.Context) {
	path, ok := projectPath(c)
	if !ok {
		return
	}

	filter := feature.ListFilter{Query: c.Query("q")}
	if status := c.Query("status"); status != "" {
		if !feature.Status(status).Valid() {
			appErr := apperrors.ValidationError("status", "unknown status "+status)
			c.JSON(appErr.HTTPStatus, appErr)
			return
		}
		filter.Status = feature.Status(status)
	}

	feats, err := h.store.List(c.Request.Context(), path, filter)
	if err != nil {
		h.respondError(c, err, "failed to list features")
		return
	}

	resp := v1.FeatureListResponse{Features: make([]v1.Feature, 0, len(feats)), Total: len(feats)}
	for _, f := range feats {
		resp.Features = append(resp.Features, toAPIFeature(f))
	}
	c.JSON(http.StatusOK, resp)
}

// GetFeature returns one feature
// GET /api/v1/features/:id?project_path=...
func (h *Handler) GetFeature(c *gin.Context) {
	path, ok := projectPath(c)
	if !ok {
		return
	}

	feat, err := h.store.Get(c.Request.Context(), path, c.Param("id"))
	if err != nil {
		h.respondError(c, err, "failed to load feature")
		return
	}
	c.JSON(http.StatusOK, toAPIFeature(feat))
}

// GetFeatureContext returns the feature's execution transcript
// GET /api/v1/features/:id/context?project_path=...&limit=...
func (h *Handler) GetFeatureContext(c *gin.Context) {
	path, ok := projectPath(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			appErr := apperrors.ValidationError("limit", "must be an integer")
			c.JSON(appErr.HTTPStatus, appErr)
			return
		}
		limit = n
	}

	entries, err := h.store.Context(c.Request.Context(), path, c.Param("id"), limit)
	if err != nil {
		h.respondError(c, err, "failed to load feature context")
		return
	}

	resp := v1.ContextResponse{Entries: make([]v1.ContextEntry, 0, len(entries)), Total: len(entries)}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, v1.ContextEntry{
			Seq:       e.Seq,
			FeatureID: e.FeatureID,
			Content:   strings.TrimSpace(sysprompt.StripSystemContent(e.Content)),
			CreatedAt: e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateFeature applies a partial update. Metadata fields go straight to the
// store; a status change goes through the orchestrator's guarded transition,
// which enforces the running-session conflict and the verified commit edge.
// PATCH /api/v1/features/:id?project_path=...
func (h *Handler) UpdateFeature(c *gin.Context) {
	path, ok := projectPath(c)
	if !ok {
		return
	}
	featureID := c.Param("id")

	var req v1.UpdateFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.ValidationError("request", err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	upd := feature.Update{
		Title:       req.Title,
		Description: req.Description,
		Model:       req.Model,
	}
	if upd.Empty() && req.Status == nil {
		appErr := apperrors.ValidationError("request", "no fields to update")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	var feat *feature.Feature
	if !upd.Empty() {
		updated, err := h.store.Update(c.Request.Context(), path, featureID, upd)
		if err != nil {
			h.respondError(c, err, "failed to update feature")
			return
		}
		feat = updated
		h.publish(events.FeatureUpdated, map[string]any{
			"feature_id": feat.ID,
			"feature":    toAPIFeature(feat),
		})
	}

	if req.Status != nil {
		updated, err := h.orchestrator.UpdateFeatureStatus(c.Request.Context(), path, featureID, feature.Status(*req.Status))
		if err != nil {
			h.respondError(c, err, "failed to update feature status")
			return
		}
		feat = updated
	}

	c.JSON(http.StatusOK, toAPIFeature(feat))
}

// StartFeature starts an agent session for the feature
// POST /api/v1/features/:id/start?project_path=...
func (h *Handler) StartFeature(c *gin.Context) {
	path, ok := projectPath(c)
	if !ok {
		return
	}

	result, err := h.orchestrator.StartFeature(c.Request.Context(), path, c.Param("id"))
	if err != nil {
		h.respondError(c, err, "failed to start feature")
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// InterruptFeature stops the feature's running session, preserving it for
// continuation
// POST /api/v1/features/:id/interrupt?project_path=...
func (h *Handler) InterruptFeature(c *gin.Context) {
	path, ok := projectPath(c)
	if !ok {
		return
	}

	result, err := h.orchestrator.InterruptFeature(c.Request.Context(), path, c.Param("id"))
	if err != nil {
		h.respondError(c, err, "failed to interrupt feature")
		return
	}
	c.JSON(http.StatusOK, result)
}

// ContinueFeature resumes an interrupted session with user guidance
// POST /api/v1/features/:id/continue?project_path=...
func (h *Handler) ContinueFeature(c *gin.Context) {
	path, ok := projectPath(c)
	if !ok {
		return
	}

	var req ContinueFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.ValidationError("message", "is required")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	result, err := h.orchestrator.ContinueFeature(c.Request.Context(), path, c.Param("id"), req.Message, req.ImagePaths)
	if err != nil {
		h.respondError(c, err, "failed to continue feature")
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// GetOrchestratorStatus returns the running set, queue, and live bound
// GET /api/v1/orchestrator/status
func (h *Handler) GetOrchestratorStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.Status())
}

// SetConcurrency adjusts the orchestrator's concurrency bound at runtime
// PUT /api/v1/orchestrator/concurrency
func (h *Handler) SetConcurrency(c *gin.Context) {
	var req SetConcurrencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.ValidationError("max_concurrency", "is required")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	applied := h.orchestrator.SetMaxConcurrency(req.MaxConcurrency)
	c.JSON(http.StatusOK, ConcurrencyResponse{MaxConcurrency: applied})
}

// publish emits a gateway-sourced event, logging delivery failures
func (h *Handler) publish(eventType string, data map[string]any) {
	if h.eventBus == nil {
		return
	}
	event := bus.NewEvent(eventType, "gateway", data)
	if err := h.eventBus.Publish(context.Background(), eventType, event); err != nil {
		h.logger.Warn("failed to publish event", zap.String("event_type", eventType), zap.Error(err))
	}
}

// toAPIFeature converts the internal model to its API representation
func toAPIFeature(f *feature.Feature) v1.Feature {
	return v1.Feature{
		ID:           f.ID,
		ProjectPath:  f.ProjectPath,
		Title:        f.Title,
		Description:  f.Description,
		Status:       v1.FeatureStatus(f.Status),
		Model:        f.Model,
		SDKSessionID: f.SDKSessionID,
		ErrorMessage: f.ErrorMessage,
		WorktreePath: f.WorktreePath,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}
