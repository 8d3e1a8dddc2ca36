package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"mobility-rollups/internal/models"
	"mobility-rollups/internal/repository"
	"mobility-rollups/pkg/logging"
	"mobility-rollups/pkg/metrics"
)

// SnapshotReader is the read side the handlers need; *services.SnapshotService implements it.
type SnapshotReader interface {
	GetFlows(ctx context.Context, filter repository.SnapshotFilter) ([]models.FlowSnapshotRow, int, error)
	GetHotspots(ctx context.Context, filter repository.SnapshotFilter) ([]models.HotspotSnapshotRow, int, error)
	GetWalkEgress(ctx context.Context, filter repository.SnapshotFilter) ([]models.WalkEgressSnapshotRow, int, error)
	LatestRun(ctx context.Context) (*models.RefreshRun, error)
	HealthCheck(ctx context.Context) error
}

// SnapshotHandler handles the snapshot API endpoints
type SnapshotHandler struct {
	snapshots SnapshotReader
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(snapshots SnapshotReader, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SnapshotHandler {
	return &SnapshotHandler{
		snapshots: snapshots,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// parseFilter reads page, limit and trip_date. Bad paging values fall back to the defaults;
// a bad trip_date is an error.
func parseFilter(r *http.Request) (repository.SnapshotFilter, int, error) {
	q := r.URL.Query()

	page := 1
	limit := 100

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 1000 {
		limit = l
	}

	filter := repository.SnapshotFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	if s := q.Get("trip_date"); s != "" {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			return filter, page, err
		}
		filter.TripDate = &d
	}

	return filter, page, nil
}

// list runs one paginated snapshot query and writes the response.
func (h *SnapshotHandler) list(w http.ResponseWriter, r *http.Request, endpoint string, fetch func(context.Context, repository.SnapshotFilter) (interface{}, int, error)) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	filter, page, err := parseFilter(r)
	if err != nil {
		h.sendError(w, r, "invalid trip_date format, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	rows, total, err := fetch(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_SNAPSHOT_ERROR] Failed to read snapshot", logging.Fields{
			"endpoint": endpoint,
			"limit":    filter.Limit,
			"offset":   filter.Offset,
		}, err)
		h.metrics.RecordAPIError("internal_error", endpoint)
		h.sendError(w, r, "failed to retrieve snapshot rows", http.StatusInternalServerError)
		return
	}

	response := PaginatedResponse{
		Data:       rows,
		Total:      total,
		Page:       page,
		Limit:      filter.Limit,
		TotalPages: (total + filter.Limit - 1) / filter.Limit,
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, response, http.StatusOK)
}

// GetFlows handles GET /api/snapshots/flows
func (h *SnapshotHandler) GetFlows(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "/api/snapshots/flows", func(ctx context.Context, f repository.SnapshotFilter) (interface{}, int, error) {
		rows, total, err := h.snapshots.GetFlows(ctx, f)
		if rows == nil {
			rows = []models.FlowSnapshotRow{}
		}
		return rows, total, err
	})
}

// GetHotspots handles GET /api/snapshots/hotspots
func (h *SnapshotHandler) GetHotspots(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "/api/snapshots/hotspots", func(ctx context.Context, f repository.SnapshotFilter) (interface{}, int, error) {
		rows, total, err := h.snapshots.GetHotspots(ctx, f)
		if rows == nil {
			rows = []models.HotspotSnapshotRow{}
		}
		return rows, total, err
	})
}

// GetWalkEgress handles GET /api/snapshots/walk-egress
func (h *SnapshotHandler) GetWalkEgress(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "/api/snapshots/walk-egress", func(ctx context.Context, f repository.SnapshotFilter) (interface{}, int, error) {
		rows, total, err := h.snapshots.GetWalkEgress(ctx, f)
		if rows == nil {
			rows = []models.WalkEgressSnapshotRow{}
		}
		return rows, total, err
	})
}

// GetLatestRefresh handles GET /api/refresh/latest
func (h *SnapshotHandler) GetLatestRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	const endpoint = "/api/refresh/latest"

	run, err := h.snapshots.LatestRun(ctx)
	if err != nil {
		var nf *repository.NotFoundError
		if errors.As(err, &nf) {
			h.sendError(w, r, "no refresh has run yet", http.StatusNotFound)
			return
		}
		h.logger.Error(ctx, "[API_REFRESH_ERROR] Failed to read refresh history", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", endpoint)
		h.sendError(w, r, "failed to retrieve refresh history", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, run, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *SnapshotHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	code := http.StatusOK
	if err := h.snapshots.HealthCheck(ctx); err != nil {
		h.logger.Warn(ctx, "[HEALTH_CHECK_FAILED] Database unreachable", logging.Fields{"error": err.Error()})
		status["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	h.sendJSON(w, status, code)
}

// sendJSON sends a JSON response
func (h *SnapshotHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *SnapshotHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all snapshot API routes
func (h *SnapshotHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/snapshots/flows", h.GetFlows).Methods("GET")
	router.HandleFunc("/api/snapshots/hotspots", h.GetHotspots).Methods("GET")
	router.HandleFunc("/api/snapshots/walk-egress", h.GetWalkEgress).Methods("GET")
	router.HandleFunc("/api/refresh/latest", h.GetLatestRefresh).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
}
