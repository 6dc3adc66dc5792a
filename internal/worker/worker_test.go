package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/store"
)

func testCSV(rows ...string) []byte {
	lines := append([]string{"transaction_id,sender_id,receiver_id,amount,timestamp"}, rows...)
	return []byte(strings.Join(lines, "\n") + "\n")
}

// lowValueCycleCSV is a 3-cycle inside the detection window whose ring
// risk stays below the alert threshold.
func lowValueCycleCSV() []byte {
	return testCSV(
		"t1,A,B,100,2024-01-01T00:00:00",
		"t2,B,C,100,2024-01-01T04:00:00",
		"t3,C,A,100,2024-01-01T08:00:00",
	)
}

// highValueCycleCSV pushes each member past the alert threshold via the
// high-value and volume-anomaly bonuses.
func highValueCycleCSV() []byte {
	return testCSV(
		"t1,A,B,200000,2024-01-01T00:00:00",
		"t2,B,C,200000,2024-01-01T04:00:00",
		"t3,C,A,200000,2024-01-01T08:00:00",
	)
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	eng := engine.New(domain.DefaultEngineConfig(), nil)

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, nil, store.NewMemoryStore(), nil, eng)

		cfg := Config{
			TenantIDs: []string{"tenant-001"},
		}

		if err := w.Start(cfg); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessRequest", func(t *testing.T) {
		results := store.NewMemoryStore()
		w := NewWorker(eventBus, nil, results, nil, eng)

		cfg := Config{
			TenantIDs: []string{"tenant-test"},
		}
		w.Start(cfg)
		defer w.Stop()

		var completedReceived atomic.Bool
		var completedPayload []byte

		eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
			completedPayload = msg.Payload
			completedReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		req := domain.AnalysisRequest{
			AnalysisID: "an-001",
			TenantID:   "tenant-test",
			Filename:   "batch.csv",
			CSV:        lowValueCycleCSV(),
		}
		payload, _ := json.Marshal(req)

		if err := eventBus.Publish(context.Background(), "tenant-test", domain.TopicAnalysisRequested, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		deadline := time.After(2 * time.Second)
		for !completedReceived.Load() {
			select {
			case <-deadline:
				t.Fatal("timeout waiting for completion")
			case <-time.After(10 * time.Millisecond):
			}
		}

		var completed domain.AnalysisCompleted
		if err := json.Unmarshal(completedPayload, &completed); err != nil {
			t.Fatalf("failed to parse completion: %v", err)
		}
		if completed.AnalysisID != "an-001" {
			t.Errorf("expected analysis id 'an-001', got '%s'", completed.AnalysisID)
		}
		if completed.Status != domain.StatusComplete {
			t.Errorf("expected status complete, got %s", completed.Status)
		}
		if completed.Summary == nil || completed.Summary.FraudRingsDetected != 1 {
			t.Error("expected one detected ring in the summary")
		}
		if completed.MaxRisk >= alertRiskThreshold {
			t.Errorf("expected max risk below alert threshold, got %.1f", completed.MaxRisk)
		}

		result, ok := results.Get("an-001")
		if !ok {
			t.Fatal("expected result in store")
		}
		if result.Status != domain.StatusComplete {
			t.Errorf("expected stored status complete, got %s", result.Status)
		}
		if len(result.SuspiciousAccounts) != 3 {
			t.Errorf("expected 3 suspicious accounts, got %d", len(result.SuspiciousAccounts))
		}
	})

	t.Run("AlertPublished", func(t *testing.T) {
		results := store.NewMemoryStore()
		w := NewWorker(eventBus, nil, results, nil, eng)

		cfg := Config{
			TenantIDs: []string{"tenant-alert"},
		}
		w.Start(cfg)
		defer w.Stop()

		var alertReceived atomic.Bool

		eventBus.Subscribe(context.Background(), "tenant-alert", domain.TopicAnalysisAlert, func(ctx context.Context, msg *domain.Message) error {
			alertReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		req := domain.AnalysisRequest{
			AnalysisID: "an-alert",
			TenantID:   "tenant-alert",
			CSV:        highValueCycleCSV(),
		}
		payload, _ := json.Marshal(req)
		eventBus.Publish(context.Background(), "tenant-alert", domain.TopicAnalysisRequested, payload)

		deadline := time.After(2 * time.Second)
		for !alertReceived.Load() {
			select {
			case <-deadline:
				t.Fatal("timeout waiting for alert")
			case <-time.After(10 * time.Millisecond):
			}
		}
	})

	t.Run("InvalidBatchMarksError", func(t *testing.T) {
		results := store.NewMemoryStore()
		w := NewWorker(eventBus, nil, results, nil, eng)

		cfg := Config{
			TenantIDs: []string{"tenant-err"},
		}
		w.Start(cfg)
		defer w.Stop()

		var completedReceived atomic.Bool
		var completedPayload []byte
		eventBus.Subscribe(context.Background(), "tenant-err", domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
			completedPayload = msg.Payload
			completedReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		req := domain.AnalysisRequest{
			AnalysisID: "an-bad",
			TenantID:   "tenant-err",
			CSV:        []byte{},
		}
		payload, _ := json.Marshal(req)
		eventBus.Publish(context.Background(), "tenant-err", domain.TopicAnalysisRequested, payload)

		deadline := time.After(2 * time.Second)
		for !completedReceived.Load() {
			select {
			case <-deadline:
				t.Fatal("timeout waiting for failure event")
			case <-time.After(10 * time.Millisecond):
			}
		}

		var completed domain.AnalysisCompleted
		if err := json.Unmarshal(completedPayload, &completed); err != nil {
			t.Fatalf("failed to parse completion: %v", err)
		}
		if completed.Status != domain.StatusError {
			t.Errorf("expected status error, got %s", completed.Status)
		}
		if completed.Error == "" {
			t.Error("expected error message")
		}

		result, ok := results.Get("an-bad")
		if !ok {
			t.Fatal("expected error entry in store")
		}
		if result.Status != domain.StatusError {
			t.Errorf("expected stored status error, got %s", result.Status)
		}
	})

	t.Run("GlobalWorkerServesAnyTenant", func(t *testing.T) {
		results := store.NewMemoryStore()
		w := NewWorker(eventBus, nil, results, nil, eng)

		// Empty tenant list subscribes the wildcard.
		w.Start(Config{})
		defer w.Stop()

		var completedReceived atomic.Bool
		eventBus.Subscribe(context.Background(), "tenant-unlisted", domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
			completedReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		req := domain.AnalysisRequest{
			AnalysisID: "an-global",
			TenantID:   "tenant-unlisted",
			CSV:        lowValueCycleCSV(),
		}
		payload, _ := json.Marshal(req)
		eventBus.Publish(context.Background(), "tenant-unlisted", domain.TopicAnalysisRequested, payload)

		deadline := time.After(2 * time.Second)
		for !completedReceived.Load() {
			select {
			case <-deadline:
				t.Fatal("timeout: wildcard worker never picked up the request")
			case <-time.After(10 * time.Millisecond):
			}
		}

		result, ok := results.Get("an-global")
		if !ok {
			t.Fatal("expected result in store")
		}
		if result.Status != domain.StatusComplete {
			t.Errorf("expected stored status complete, got %s", result.Status)
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, nil, store.NewMemoryStore(), nil, eng)

		cfg := Config{
			TenantIDs: []string{"tenant-a", "tenant-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}

func TestAnalysisRequestParsing(t *testing.T) {
	req := domain.AnalysisRequest{
		AnalysisID: "an-123",
		TenantID:   "tenant-001",
		Filename:   "upload.csv",
		CSV:        testCSV(fmt.Sprintf("t1,A,B,%d,2024-01-01T00:00:00", 500)),
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed domain.AnalysisRequest
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.AnalysisID != req.AnalysisID {
		t.Errorf("expected analysis id '%s', got '%s'", req.AnalysisID, parsed.AnalysisID)
	}
	if string(parsed.CSV) != string(req.CSV) {
		t.Error("CSV body did not survive the round trip")
	}
}
