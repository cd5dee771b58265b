package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/appyard/appyard/internal/domain/config"
	"github.com/appyard/appyard/internal/domain/task"
	"github.com/appyard/appyard/internal/infrastructure/logging"
	"github.com/appyard/appyard/internal/infrastructure/monitoring"
	"github.com/appyard/appyard/internal/shared/types"
)

// Commander is the slice of the task dispatcher the HTTP surface drives.
type Commander interface {
	Snapshot() []types.App
	Stats() types.Stats
	EmitApps()
	LoadApps(ctx context.Context) error
	Setup(ctx context.Context, name, profile string) (task.Receipt, error)
	Update(ctx context.Context, name, version, requirements string) (task.Receipt, error)
	Start(ctx context.Context, name string) (task.Receipt, error)
	Stop(ctx context.Context, name string) (task.Receipt, error)
	Delete(ctx context.Context, name string) (task.Receipt, error)
	UpdateNotes(ctx context.Context, name, version string) ([]string, error)
	EnsureDefender(ctx context.Context, name string) error
}

// Handlers serves the command API. Mutating commands answer 202 with a
// task id once the slot is claimed; progress flows through /stream only.
type Handlers struct {
	commands Commander
	store    *config.Store
	metrics  *monitoring.Metrics
	version  string
	log      *logging.Logger
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(commands Commander, store *config.Store, metrics *monitoring.Metrics, version string, log *logging.Logger) *Handlers {
	return &Handlers{
		commands: commands,
		store:    store,
		metrics:  metrics,
		version:  version,
		log:      log.Component("http"),
	}
}

// Register attaches every route to the router.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	r.GET("/apps", h.ListApps)
	r.POST("/apps/load", h.LoadApps)
	r.POST("/apps/:name/setup", h.SetupApp)
	r.POST("/apps/:name/start", h.StartApp)
	r.POST("/apps/:name/stop", h.StopApp)
	r.POST("/apps/:name/update", h.UpdateApp)
	r.DELETE("/apps/:name", h.DeleteApp)
	r.GET("/apps/:name/notes", h.UpdateNotes)
	r.POST("/apps/:name/defender-exclusion", h.AddDefenderExclusion)

	r.GET("/config", h.GetConfig)
	r.PUT("/config/:name", h.UpdateConfigItem)
}

// Root identifies the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "appyard",
		"version": h.version,
		"status":  "ok",
	})
}

// Health reports liveness, registry counts, and the metrics snapshot.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.version,
		"apps":    h.commands.Stats(),
		"metrics": h.metrics.Snapshot(),
	})
}

// ListApps returns the snapshot and rebroadcasts it on the stream, so a
// polling client and a streaming client always agree.
func (h *Handlers) ListApps(c *gin.Context) {
	apps := h.commands.Snapshot()
	h.commands.EmitApps()
	c.JSON(http.StatusOK, gin.H{"success": true, "apps": apps})
}

// LoadApps reloads the catalog and the data directory.
func (h *Handlers) LoadApps(c *gin.Context) {
	if err := h.commands.LoadApps(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "apps": h.commands.Snapshot()})
}

// SetupApp installs the app or switches its profile. The body is optional;
// a multi-profile app without a chosen profile answers with the candidates
// instead of starting a task.
func (h *Handlers) SetupApp(c *gin.Context) {
	var req types.SetupRequest
	if !h.bindOptional(c, &req) {
		return
	}

	receipt, err := h.commands.Setup(c.Request.Context(), c.Param("name"), req.Profile)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if receipt.NeedsProfile {
		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"choose_profile": true,
			"profiles":       receipt.Profiles,
		})
		return
	}
	h.accepted(c, receipt)
}

// StartApp spawns the app's current profile.
func (h *Handlers) StartApp(c *gin.Context) {
	receipt, err := h.commands.Start(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.accepted(c, receipt)
}

// StopApp terminates the app's process.
func (h *Handlers) StopApp(c *gin.Context) {
	receipt, err := h.commands.Stop(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.accepted(c, receipt)
}

// UpdateApp moves the app to another version.
func (h *Handlers) UpdateApp(c *gin.Context) {
	var req types.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "version is required"})
		return
	}

	receipt, err := h.commands.Update(c.Request.Context(), c.Param("name"), req.Version, req.Requirements)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.accepted(c, receipt)
}

// DeleteApp stops the app if needed and removes it entirely.
func (h *Handlers) DeleteApp(c *gin.Context) {
	receipt, err := h.commands.Delete(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.accepted(c, receipt)
}

// UpdateNotes returns the release notes between the current checkout and
// ?version=, synchronously.
func (h *Handlers) UpdateNotes(c *gin.Context) {
	notes, err := h.commands.UpdateNotes(c.Request.Context(), c.Param("name"), c.Query("version"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if notes == nil {
		notes = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "notes": notes})
}

// AddDefenderExclusion whitelists the app's install directory with the
// antivirus scanner. Synchronous; a no-op off Windows.
func (h *Handlers) AddDefenderExclusion(c *gin.Context) {
	if err := h.commands.EnsureDefender(c.Request.Context(), c.Param("name")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetConfig returns every settings item with metadata, name sorted.
func (h *Handlers) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "items": h.store.Items()})
}

// UpdateConfigItem validates and persists one settings value.
func (h *Handlers) UpdateConfigItem(c *gin.Context) {
	var req types.ConfigUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Value) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "value is required"})
		return
	}

	item, err := h.store.Update(c.Param("name"), req.Value)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "item": item})
}

// bindOptional decodes a JSON body when one is present. Reports false
// after writing the 400 response for malformed bodies.
func (h *Handlers) bindOptional(c *gin.Context, out any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (h *Handlers) accepted(c *gin.Context, receipt task.Receipt) {
	c.JSON(http.StatusAccepted, gin.H{"success": true, "task_id": receipt.TaskID})
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

// statusFor maps domain errors onto HTTP statuses: contention and state
// conflicts are 409, unknown names 404, rejected values 422.
func statusFor(err error) int {
	var validation *config.ValidationError
	switch {
	case errors.Is(err, task.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, task.ErrUnknownApp), errors.Is(err, config.ErrUnknownItem):
		return http.StatusNotFound
	case errors.As(err, &validation),
		errors.Is(err, task.ErrUnknownProfile),
		errors.Is(err, task.ErrUnknownVersion):
		return http.StatusUnprocessableEntity
	case errors.Is(err, task.ErrNotInstalled),
		errors.Is(err, task.ErrAlreadyRunning),
		errors.Is(err, task.ErrNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
