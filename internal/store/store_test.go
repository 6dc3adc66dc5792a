package store

import (
	"sync"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestMemoryStore(t *testing.T) {
	t.Run("PutAndGet", func(t *testing.T) {
		s := NewMemoryStore()
		s.Put("an-1", &domain.AnalysisResult{Status: domain.StatusComplete})

		result, ok := s.Get("an-1")
		if !ok {
			t.Fatal("expected result")
		}
		if result.AnalysisID != "an-1" {
			t.Errorf("expected id to be stamped, got %q", result.AnalysisID)
		}
		if result.Status != domain.StatusComplete {
			t.Errorf("expected complete, got %s", result.Status)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		s := NewMemoryStore()
		if _, ok := s.Get("missing"); ok {
			t.Error("expected miss")
		}
		if s.Exists("missing") {
			t.Error("expected Exists false")
		}
	})

	t.Run("UpdateStatusCreatesPlaceholder", func(t *testing.T) {
		s := NewMemoryStore()
		s.UpdateStatus("an-2", domain.StatusProcessing, "")

		result, ok := s.Get("an-2")
		if !ok {
			t.Fatal("expected placeholder entry")
		}
		if result.Status != domain.StatusProcessing {
			t.Errorf("expected processing, got %s", result.Status)
		}
		if result.CreatedAt.IsZero() {
			t.Error("expected CreatedAt to be set")
		}
		if !result.CompletedAt.IsZero() {
			t.Error("expected CompletedAt unset while processing")
		}
	})

	t.Run("UpdateStatusError", func(t *testing.T) {
		s := NewMemoryStore()
		s.Put("an-3", &domain.AnalysisResult{Status: domain.StatusProcessing})
		s.UpdateStatus("an-3", domain.StatusError, "no valid transactions found in CSV")

		result, _ := s.Get("an-3")
		if result.Status != domain.StatusError {
			t.Errorf("expected error status, got %s", result.Status)
		}
		if result.Error == "" {
			t.Error("expected error message")
		}
		if result.CompletedAt.IsZero() {
			t.Error("expected CompletedAt on terminal status")
		}
	})

	t.Run("PutPreservesSubmissionTime", func(t *testing.T) {
		s := NewMemoryStore()
		s.UpdateStatus("an-4", domain.StatusPending, "")
		placeholder, _ := s.Get("an-4")
		created := placeholder.CreatedAt

		s.Put("an-4", &domain.AnalysisResult{Status: domain.StatusComplete})

		result, _ := s.Get("an-4")
		if !result.CreatedAt.Equal(created) {
			t.Errorf("expected CreatedAt %v kept across Put, got %v", created, result.CreatedAt)
		}
		if result.CompletedAt.IsZero() {
			t.Error("expected CompletedAt stamped on completed result")
		}
	})

	t.Run("PutStampsFreshTimestamps", func(t *testing.T) {
		s := NewMemoryStore()
		s.Put("an-5", &domain.AnalysisResult{Status: domain.StatusComplete})

		result, _ := s.Get("an-5")
		if result.CreatedAt.IsZero() {
			t.Error("expected CreatedAt stamped on first Put")
		}
		if result.CompletedAt.IsZero() {
			t.Error("expected CompletedAt stamped on terminal status")
		}
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		s := NewMemoryStore()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				s.Put("shared", &domain.AnalysisResult{Status: domain.StatusComplete})
			}()
			go func() {
				defer wg.Done()
				s.Get("shared")
			}()
		}
		wg.Wait()

		if !s.Exists("shared") {
			t.Error("expected shared entry after concurrent writes")
		}
	})

	t.Run("Len", func(t *testing.T) {
		s := NewMemoryStore()
		s.Put("a", &domain.AnalysisResult{})
		s.Put("b", &domain.AnalysisResult{})
		s.Put("a", &domain.AnalysisResult{})
		if s.Len() != 2 {
			t.Errorf("expected 2 entries, got %d", s.Len())
		}
	})
}
