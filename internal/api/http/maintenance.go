package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arkilian/tessera/internal/maintenance"
	"github.com/arkilian/tessera/pkg/types"
)

// MaintenanceRequest is the body of POST /v1/maintenance/split and
// /v1/maintenance/merge. The boundary can be given as a raw key or a
// YYYY-MM-DD date. ExpectedVersion carries the optimistic concurrency
// token; a stale token is rejected with 409.
type MaintenanceRequest struct {
	CommandID       string `json:"command_id,omitempty"`
	ExpectedVersion uint64 `json:"expected_version" binding:"required"`
	Boundary        *int64 `json:"boundary,omitempty"`
	BoundaryDate    string `json:"boundary_date,omitempty"`

	// Location names the storage location for the partition a split
	// creates. Ignored for merges.
	Location string `json:"location,omitempty"`
}

// handleSplit handles POST /v1/maintenance/split.
func (h *Handlers) handleSplit(c *gin.Context) {
	cmdID, boundary, req, ok := h.bindMaintenance(c)
	if !ok {
		return
	}

	res, err := h.manager.Split(c.Request.Context(), maintenance.SplitCommand{
		CommandID:       cmdID,
		ExpectedVersion: req.ExpectedVersion,
		Boundary:        boundary,
		Location:        req.Location,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": res, "request_id": requestID(c)})
}

// handleMerge handles POST /v1/maintenance/merge.
func (h *Handlers) handleMerge(c *gin.Context) {
	cmdID, boundary, req, ok := h.bindMaintenance(c)
	if !ok {
		return
	}

	res, err := h.manager.Merge(c.Request.Context(), maintenance.MergeCommand{
		CommandID:       cmdID,
		ExpectedVersion: req.ExpectedVersion,
		Boundary:        boundary,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": res, "request_id": requestID(c)})
}

// handleCheckpoint handles POST /v1/checkpoints: snapshot every
// partition of the current version to object storage.
func (h *Handlers) handleCheckpoint(c *gin.Context) {
	if h.checkpointer == nil {
		renderBadRequest(c, "checkpointing is not configured")
		return
	}
	if err := h.checkpointer.Checkpoint(c.Request.Context()); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version":    h.store.Version(),
		"request_id": requestID(c),
	})
}

// handleRestore handles POST /v1/checkpoints/:version/restore.
func (h *Handlers) handleRestore(c *gin.Context) {
	if h.checkpointer == nil {
		renderBadRequest(c, "checkpointing is not configured")
		return
	}

	version, err := strconv.ParseUint(c.Param("version"), 10, 64)
	if err != nil {
		renderBadRequest(c, fmt.Sprintf("invalid version: %q", c.Param("version")))
		return
	}

	restored, err := h.checkpointer.Restore(c.Request.Context(), version)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"restored_rows": restored,
		"request_id":    requestID(c),
	})
}

// bindMaintenance parses the shared maintenance request shape. A
// missing command_id gets a fresh one; the command is then tracked by
// that id in results and logs.
func (h *Handlers) bindMaintenance(c *gin.Context) (uuid.UUID, int64, MaintenanceRequest, bool) {
	var req MaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderBadRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return uuid.Nil, 0, req, false
	}

	cmdID := uuid.New()
	if req.CommandID != "" {
		id, err := uuid.Parse(req.CommandID)
		if err != nil {
			renderBadRequest(c, fmt.Sprintf("invalid command_id: %v", err))
			return uuid.Nil, 0, req, false
		}
		cmdID = id
	}

	var boundary int64
	switch {
	case req.Boundary != nil && req.BoundaryDate != "":
		renderBadRequest(c, "boundary and boundary_date are mutually exclusive")
		return uuid.Nil, 0, req, false
	case req.Boundary != nil:
		boundary = *req.Boundary
	case req.BoundaryDate != "":
		key, err := types.KeyForDate(req.BoundaryDate)
		if err != nil {
			renderBadRequest(c, err.Error())
			return uuid.Nil, 0, req, false
		}
		boundary = key
	default:
		renderBadRequest(c, "boundary or boundary_date is required")
		return uuid.Nil, 0, req, false
	}

	return cmdID, boundary, req, true
}
