// Package worker provides async batch processing from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// alertRiskThreshold is the minimum ring risk score that triggers an
// alert publication alongside the completion event.
const alertRiskThreshold = 75.0

// resultCacheTTL bounds how long completed results stay in the cache.
const resultCacheTTL = time.Hour

// Worker consumes analysis requests from the EventBus, runs the engine,
// and fans results out to the store, repository, cache, and bus.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	store  domain.ResultStore
	cache  domain.Cache
	engine *engine.Engine

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global)
	TenantIDs []string
}

// NewWorker creates a new async worker. repo and cache may be nil;
// results then live only in the store.
func NewWorker(bus domain.EventBus, repo domain.Repository, store domain.ResultStore, c domain.Cache, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		store:  store,
		cache:  c,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker subscribes the tenant wildcard so requests from any
// tenant are processed; the tenant is taken from each message envelope.
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TenantWildcard, domain.TopicAnalysisRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicAnalysisRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processRequest(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicAnalysisRequested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processRequest(ctx, msg.TenantID, msg)
}

// processRequest runs one batch through the engine and persists the outcome.
func (w *Worker) processRequest(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var req domain.AnalysisRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse analysis request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if req.TenantID != "" {
		tenantID = req.TenantID
	}

	slog.Debug("processing analysis request",
		"analysis_id", req.AnalysisID,
		"tenant_id", tenantID,
		"filename", req.Filename,
		"csv_bytes", len(req.CSV),
	)

	w.store.UpdateStatus(req.AnalysisID, domain.StatusProcessing, "")
	if w.repo != nil {
		if err := w.repo.UpdateStatus(ctx, tenantID, req.AnalysisID, domain.StatusProcessing, ""); err != nil {
			slog.Warn("failed to mark analysis processing",
				"analysis_id", req.AnalysisID,
				"error", err,
			)
		}
	}

	result, err := w.engine.Analyze(ctx, req.CSV)
	if err != nil {
		return w.completeWithError(ctx, tenantID, req.AnalysisID, err, start)
	}

	w.store.Put(req.AnalysisID, result)

	if w.cache != nil {
		if err := cache.SetResult(ctx, w.cache, tenantID, req.AnalysisID, result, resultCacheTTL); err != nil {
			slog.Warn("failed to cache analysis result",
				"analysis_id", req.AnalysisID,
				"error", err,
			)
		}
	}

	if w.repo != nil {
		report, _ := json.Marshal(engine.BuildReport(result))
		summary := result.Summary
		rec := &domain.AnalysisRecord{
			ID:          req.AnalysisID,
			Status:      domain.StatusComplete,
			Summary:     &summary,
			Report:      report,
			CreatedAt:   time.Now().UTC(),
			CompletedAt: time.Now().UTC(),
		}
		if err := w.repo.SaveAnalysis(ctx, tenantID, rec); err != nil {
			slog.Error("failed to persist analysis",
				"analysis_id", req.AnalysisID,
				"error", err,
			)
		}
	}

	maxRisk := engine.MaxRisk(result)
	completed := domain.AnalysisCompleted{
		AnalysisID: req.AnalysisID,
		TenantID:   tenantID,
		Status:     domain.StatusComplete,
		Summary:    &result.Summary,
		MaxRisk:    maxRisk,
	}
	payload, _ := json.Marshal(completed)

	if err := w.bus.Publish(ctx, tenantID, domain.TopicAnalysisCompleted, payload); err != nil {
		slog.Error("failed to publish completion",
			"analysis_id", req.AnalysisID,
			"error", err,
		)
	}

	if maxRisk >= alertRiskThreshold {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAnalysisAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"analysis_id", req.AnalysisID,
				"error", err,
			)
		}
	}

	slog.Info("analysis request processed",
		"analysis_id", req.AnalysisID,
		"tenant_id", tenantID,
		"suspicious", result.Summary.SuspiciousAccountsFlagged,
		"rings", result.Summary.FraudRingsDetected,
		"max_risk", maxRisk,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// completeWithError records a failed analysis and publishes the failure.
func (w *Worker) completeWithError(ctx context.Context, tenantID, analysisID string, analyzeErr error, start time.Time) error {
	slog.Error("analysis failed",
		"analysis_id", analysisID,
		"tenant_id", tenantID,
		"error", analyzeErr,
	)

	w.store.UpdateStatus(analysisID, domain.StatusError, analyzeErr.Error())
	if w.repo != nil {
		if err := w.repo.UpdateStatus(ctx, tenantID, analysisID, domain.StatusError, analyzeErr.Error()); err != nil {
			slog.Warn("failed to persist analysis failure",
				"analysis_id", analysisID,
				"error", err,
			)
		}
	}

	completed := domain.AnalysisCompleted{
		AnalysisID: analysisID,
		TenantID:   tenantID,
		Status:     domain.StatusError,
		Error:      analyzeErr.Error(),
	}
	payload, _ := json.Marshal(completed)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicAnalysisCompleted, payload); err != nil {
		slog.Error("failed to publish failure",
			"analysis_id", analysisID,
			"error", err,
		)
	}

	slog.Info("analysis request failed",
		"analysis_id", analysisID,
		"tenant_id", tenantID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
