package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stackdeck/stackdeck/internal/model"
	"github.com/stackdeck/stackdeck/internal/service"
)

// StackHandler manages the stack dashboard API endpoints
type StackHandler struct {
	svc *service.StackService
}

// NewStackHandler creates a new StackHandler
func NewStackHandler(svc *service.StackService) *StackHandler {
	return &StackHandler{svc: svc}
}

func parseID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	return uint(id), err
}

// respondError maps service errors onto HTTP status codes
func respondError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	var updateErr *service.UpdateFailedError
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Stack not found"})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.As(err, &updateErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": updateErr.Error(), "status_code": updateErr.StatusCode})
	case errors.Is(err, service.ErrUpstreamUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// List returns all tracked stacks
func (h *StackHandler) List(c *gin.Context) {
	stacks, err := h.svc.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stacks)
}

// Get returns a single stack
func (h *StackHandler) Get(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return
	}

	stack, err := h.svc.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stack)
}

// Create adds a new stack
func (h *StackHandler) Create(c *gin.Context) {
	var req model.StackCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stack, err := h.svc.Create(&req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stack)
}

// Update modifies an existing stack
func (h *StackHandler) Update(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return
	}

	var req model.StackCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stack, err := h.svc.Update(id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stack)
}

// Delete removes a stack
func (h *StackHandler) Delete(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return
	}

	if err := h.svc.Delete(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// SetAutoUpdate enables or disables automatic updates for a stack
func (h *StackHandler) SetAutoUpdate(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return
	}

	var req model.AutoUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stack, err := h.svc.SetAutoUpdate(id, req.Enabled, req.IntervalHours)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": stack.ID, "auto_update_enabled": stack.AutoUpdateEnabled})
}

// Import pulls existing stacks from the Portainer API
func (h *StackHandler) Import(c *gin.Context) {
	result, err := h.svc.ImportFromRemote(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": result.Imported, "errors": result.Errors})
}

// Indicator re-checks the image status of a single stack.
// ?refresh=true asks Portainer to re-inspect images instead of serving its
// cached indicator.
func (h *StackHandler) Indicator(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return
	}
	refresh := c.Query("refresh") == "true"

	stack, err := h.svc.CheckStatus(c.Request.Context(), id, refresh)
	if err != nil && stack == nil {
		respondError(c, err)
		return
	}
	if err != nil {
		// The failure is recorded on the stack itself; surface it too.
		c.JSON(http.StatusBadGateway, gin.H{
			"id":      stack.ID,
			"status":  stack.ImageStatus,
			"message": stack.ImageMessage,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           stack.ID,
		"status":       stack.ImageStatus,
		"message":      stack.ImageMessage,
		"last_checked": stack.ImageLastChecked,
	})
}

// TriggerUpdate fires a stack's update webhook
func (h *StackHandler) TriggerUpdate(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return
	}

	stack, err := h.svc.TriggerUpdate(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true, "stack": stack})
}

// RefreshAll runs an immediate auto-update sweep, independent of the timer.
// ?force=true forwards the cache bypass to the post-update status checks.
func (h *StackHandler) RefreshAll(c *gin.Context) {
	force := c.Query("force") == "true"

	result, err := h.svc.Sweep(c.Request.Context(), force)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
