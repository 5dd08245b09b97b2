package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arkilian/tessera/internal/table"
	"github.com/arkilian/tessera/pkg/types"
)

// RangeQueryResponse is the body of GET /v1/query/range.
type RangeQueryResponse struct {
	Rows      []types.Row      `json:"rows"`
	Scan      table.ScanReport `json:"scan"`
	RequestID string           `json:"request_id"`
}

// handleRangeQuery handles GET /v1/query/range. The predicate comes
// from from/to date params or from_key/to_key raw keys; degree selects
// the parallel scan width.
func (h *Handlers) handleRangeQuery(c *gin.Context) {
	pred, err := parseRangeParams(c)
	if err != nil {
		renderBadRequest(c, err.Error())
		return
	}

	degree, err := h.queryDegree(c)
	if err != nil {
		renderBadRequest(c, err.Error())
		return
	}

	rows, report, err := h.store.ParallelScan(c.Request.Context(), pred, table.ParallelOptions{Degree: degree})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, RangeQueryResponse{
		Rows:      rows,
		Scan:      report,
		RequestID: requestID(c),
	})
}

// handleAggregateQuery handles GET /v1/query/aggregate: a per-group sum
// over an inclusive date range, served from the aggregate cache.
func (h *Handlers) handleAggregateQuery(c *gin.Context) {
	group := c.Query("group")
	if group == "" {
		renderBadRequest(c, "group is required")
		return
	}

	fromDay, err := parseDayParam(c, "from")
	if err != nil {
		renderBadRequest(c, err.Error())
		return
	}
	toDay, err := parseDayParam(c, "to")
	if err != nil {
		renderBadRequest(c, err.Error())
		return
	}

	total, err := h.cache.Query(c.Request.Context(), group, fromDay, toDay)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":      total,
		"request_id": requestID(c),
	})
}

// PartitionInfo describes one partition in the listing API.
type PartitionInfo struct {
	Index    int            `json:"index"`
	Range    types.KeyRange `json:"range"`
	Location string         `json:"location"`
	RowCount int            `json:"row_count"`
}

// handlePartitions handles GET /v1/partitions: the current boundary
// list version, per-partition ranges, placements, and row counts.
func (h *Handlers) handlePartitions(c *gin.Context) {
	placements, err := h.store.Placements()
	if err != nil {
		renderError(c, err)
		return
	}
	counts := h.store.PartitionRowCounts()

	partitions := make([]PartitionInfo, len(placements))
	for i, p := range placements {
		partitions[i] = PartitionInfo{
			Index:    p.Index,
			Range:    p.Range,
			Location: p.Location,
		}
		if i < len(counts) {
			partitions[i].RowCount = counts[i]
		}
	}

	fn := h.store.Function()
	c.JSON(http.StatusOK, gin.H{
		"table":      h.store.Name(),
		"version":    fn.Version(),
		"policy":     fn.Policy(),
		"catch_all":  fn.HasCatchAll(),
		"boundaries": fn.Boundaries(),
		"partitions": partitions,
		"request_id": requestID(c),
	})
}

// handleScanStats handles GET /v1/stats/scans: rolling pruning
// effectiveness over recent range scans.
func (h *Handlers) handleScanStats(c *gin.Context) {
	if h.stats == nil {
		renderBadRequest(c, "scan statistics are not configured")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scans":      h.stats.Summarize(),
		"request_id": requestID(c),
	})
}

// queryDegree resolves the parallel scan width for a request: the
// degree query param when present, otherwise the configured default.
func (h *Handlers) queryDegree(c *gin.Context) (int, error) {
	v := c.Query("degree")
	if v == "" {
		if h.scanDegree > 0 {
			return h.scanDegree, nil
		}
		return table.DefaultScanDegree, nil
	}

	d, err := strconv.Atoi(v)
	if err != nil || d < 1 {
		return 0, fmt.Errorf("invalid degree: %q", v)
	}
	return d, nil
}

// parseRangeParams builds a key range from query params. Dates are
// inclusive on both ends; raw keys follow half-open [from_key, to_key).
func parseRangeParams(c *gin.Context) (types.KeyRange, error) {
	from, to := c.Query("from"), c.Query("to")
	fromKey, toKey := c.Query("from_key"), c.Query("to_key")

	switch {
	case from != "" || to != "":
		if from == "" || to == "" {
			return types.KeyRange{}, fmt.Errorf("from and to must both be set")
		}
		lo, err := types.KeyForDate(from)
		if err != nil {
			return types.KeyRange{}, err
		}
		hi, err := types.KeyForDate(to)
		if err != nil {
			return types.KeyRange{}, err
		}
		return types.DaySpan(types.DayOf(lo), types.DayOf(hi)), nil

	case fromKey != "" || toKey != "":
		if fromKey == "" || toKey == "" {
			return types.KeyRange{}, fmt.Errorf("from_key and to_key must both be set")
		}
		lo, err := strconv.ParseInt(fromKey, 10, 64)
		if err != nil {
			return types.KeyRange{}, fmt.Errorf("invalid from_key: %q", fromKey)
		}
		hi, err := strconv.ParseInt(toKey, 10, 64)
		if err != nil {
			return types.KeyRange{}, fmt.Errorf("invalid to_key: %q", toKey)
		}
		return types.KeyRange{Min: lo, Max: hi}, nil

	default:
		return types.KeyRange{}, fmt.Errorf("from/to or from_key/to_key is required")
	}
}

// parseDayParam parses a YYYY-MM-DD query param into a day number.
func parseDayParam(c *gin.Context, name string) (int64, error) {
	v := c.Query(name)
	if v == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	key, err := types.KeyForDate(v)
	if err != nil {
		return 0, err
	}
	return types.DayOf(key), nil
}

// parseKeyParam reads a partitioning key from either a raw key param or
// a date param.
func parseKeyParam(c *gin.Context, keyName, dateName string) (int64, error) {
	if v := c.Query(keyName); v != "" {
		key, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %q", keyName, v)
		}
		return key, nil
	}
	if v := c.Query(dateName); v != "" {
		return types.KeyForDate(v)
	}
	return 0, fmt.Errorf("%s or %s is required", keyName, dateName)
}
