package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	cfg     *domain.Config
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	store   domain.ResultStore
	version string
}

// NewHandler creates a new API handler.
func NewHandler(cfg *domain.Config, repo domain.Repository, c domain.Cache, bus domain.EventBus, store domain.ResultStore, version string) *Handler {
	return &Handler{
		cfg:     cfg,
		repo:    repo,
		cache:   c,
		bus:     bus,
		store:   store,
		version: version,
	}
}

// AnalyzeResponse is the response for POST /api/v1/analyze.
type AnalyzeResponse struct {
	AnalysisID string `json:"analysis_id"`
	Status     string `json:"status"`
}

// Analyze handles POST /api/v1/analyze: accepts a CSV batch, allocates
// an analysis id, and queues the batch for async processing.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.cfg.RateLimit > 0 && h.cache != nil {
		count, err := h.cache.IncrementCounter(ctx, tenantID, "uploads", time.Minute)
		if err != nil {
			slog.Warn("rate limit counter failed", "tenant_id", tenantID, "error", err)
		} else if count > int64(h.cfg.RateLimit) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "upload rate limit exceeded",
			})
			return
		}
	}

	maxBytes := h.cfg.Server.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	csvBytes, filename, err := readBatch(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	if len(csvBytes) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "empty CSV body",
		})
		return
	}

	analysisID := uuid.New().String()

	h.store.UpdateStatus(analysisID, domain.StatusPending, "")
	if h.repo != nil {
		rec := &domain.AnalysisRecord{
			ID:        analysisID,
			Status:    domain.StatusPending,
			CreatedAt: time.Now().UTC(),
		}
		if err := h.repo.SaveAnalysis(ctx, tenantID, rec); err != nil {
			slog.Error("failed to persist pending analysis", "analysis_id", analysisID, "error", err)
		}
	}

	req := domain.AnalysisRequest{
		AnalysisID: analysisID,
		TenantID:   tenantID,
		Filename:   filename,
		CSV:        csvBytes,
	}
	payload, _ := json.Marshal(req)
	if err := h.bus.Publish(ctx, tenantID, domain.TopicAnalysisRequested, payload); err != nil {
		slog.Error("failed to queue analysis", "analysis_id", analysisID, "error", err)
		h.store.UpdateStatus(analysisID, domain.StatusError, "failed to queue analysis")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to queue analysis",
		})
		return
	}

	slog.Info("analysis queued",
		"analysis_id", analysisID,
		"tenant_id", tenantID,
		"filename", filename,
		"csv_bytes", len(csvBytes),
	)

	writeJSON(w, http.StatusAccepted, AnalyzeResponse{
		AnalysisID: analysisID,
		Status:     string(domain.StatusPending),
	})
}

// readBatch extracts the CSV body from a multipart upload (field "file")
// or a raw request body.
func readBatch(r *http.Request) ([]byte, string, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", fmt.Errorf("multipart upload requires a 'file' field")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read uploaded file")
		}
		return data, header.Filename, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read request body")
	}
	return data, "", nil
}

// lookup returns the result for an analysis id, falling back to the
// cache for results produced before a restart.
func (h *Handler) lookup(r *http.Request, analysisID string) *domain.AnalysisResult {
	if result, ok := h.store.Get(analysisID); ok {
		return result
	}
	if h.cache != nil {
		tenantID := GetTenantID(r.Context())
		if result, err := cache.GetResult(r.Context(), h.cache, tenantID, analysisID); err == nil && result != nil {
			return result
		}
	}
	return nil
}

// GetAnalysis handles GET /api/v1/analysis/{id}.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "id")

	result := h.lookup(r, analysisID)
	if result == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// DownloadReport handles GET /api/v1/analysis/{id}/download: the strict
// three-field forensic document, served as an attachment.
func (h *Handler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "id")

	result := h.lookup(r, analysisID)
	if result == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}
	if result.Status != domain.StatusComplete {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("analysis is %s, not complete", result.Status),
		})
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="fraud_report_%s.json"`, analysisID))
	writeJSON(w, http.StatusOK, engine.BuildReport(result))
}

// GetGraph handles GET /api/v1/analysis/{id}/graph.
func (h *Handler) GetGraph(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "id")

	result := h.lookup(r, analysisID)
	if result == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}
	if result.Status != domain.StatusComplete || result.Graph == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("analysis is %s, not complete", result.Status),
		})
		return
	}

	writeJSON(w, http.StatusOK, result.Graph)
}

// Stats handles GET /api/v1/stats with persisted per-tenant counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	stats, err := h.repo.Stats(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load stats", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load stats",
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": "repository not reachable",
			})
			return
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": "cache not reachable",
			})
			return
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": "event bus not reachable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
