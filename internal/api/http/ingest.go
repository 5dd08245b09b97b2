package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arkilian/tessera/pkg/types"
)

// RowPayload is one row in an insert request. The partitioning key can
// be given directly as key (Unix nanoseconds) or as time (RFC 3339).
type RowPayload struct {
	RowID   string                 `json:"row_id,omitempty"`
	GroupID string                 `json:"group_id" binding:"required"`
	Key     *int64                 `json:"key,omitempty"`
	Time    string                 `json:"time,omitempty"`
	Amount  float64                `json:"amount"`
	Attrs   map[string]interface{} `json:"attrs,omitempty"`
}

// InsertRequest is the body of POST /v1/rows.
type InsertRequest struct {
	Rows []RowPayload `json:"rows" binding:"required"`
}

// InsertResponse reports the outcome of a batch insert.
type InsertResponse struct {
	Inserted  int      `json:"inserted"`
	RowIDs    []string `json:"row_ids"`
	RequestID string   `json:"request_id"`
}

// handleInsert handles POST /v1/rows.
func (h *Handlers) handleInsert(c *gin.Context) {
	var req InsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderBadRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Rows) == 0 {
		renderBadRequest(c, "rows must not be empty")
		return
	}

	rows := make([]types.Row, 0, len(req.Rows))
	for i, p := range req.Rows {
		row, err := p.toRow()
		if err != nil {
			renderBadRequest(c, fmt.Sprintf("row %d: %v", i, err))
			return
		}
		rows = append(rows, row)
	}

	inserted, err := h.store.InsertBatch(c.Request.Context(), rows)
	if err != nil {
		renderError(c, err)
		return
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.RowID.String()
	}

	c.JSON(http.StatusOK, InsertResponse{
		Inserted:  inserted,
		RowIDs:    ids,
		RequestID: requestID(c),
	})
}

// handleDelete handles DELETE /v1/rows/:id. The row's key must be
// supplied so the delete can route to a single partition.
func (h *Handlers) handleDelete(c *gin.Context) {
	rowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		renderBadRequest(c, fmt.Sprintf("invalid row id: %v", err))
		return
	}

	key, err := parseKeyParam(c, "key", "date")
	if err != nil {
		renderBadRequest(c, err.Error())
		return
	}

	if err := h.store.Delete(c.Request.Context(), rowID, key); err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": rowID.String(), "request_id": requestID(c)})
}

// toRow converts a payload into a typed row, resolving the key.
func (p RowPayload) toRow() (types.Row, error) {
	var key int64
	switch {
	case p.Key != nil && p.Time != "":
		return types.Row{}, fmt.Errorf("key and time are mutually exclusive")
	case p.Key != nil:
		key = *p.Key
	case p.Time != "":
		t, err := time.Parse(time.RFC3339, p.Time)
		if err != nil {
			return types.Row{}, fmt.Errorf("invalid time: %v", err)
		}
		key = types.KeyForTime(t)
	default:
		return types.Row{}, fmt.Errorf("key or time is required")
	}

	row := types.NewRow(p.GroupID, key, p.Amount)
	row.Attrs = p.Attrs

	if p.RowID != "" {
		id, err := uuid.Parse(p.RowID)
		if err != nil {
			return types.Row{}, fmt.Errorf("invalid row_id: %v", err)
		}
		row.RowID = id
	}
	return row, nil
}
