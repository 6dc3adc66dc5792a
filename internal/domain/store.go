package domain

// ResultStore is the per-process result map keyed by analysis id.
// Put replaces atomically; UpdateStatus mutates only the status field.
// Implementations may write through to a Cache for restart survival;
// persistence is not observable from engine correctness.
type ResultStore interface {
	Put(id string, result *AnalysisResult)
	Get(id string) (*AnalysisResult, bool)
	UpdateStatus(id string, status AnalysisStatus, errMsg string)
	Exists(id string) bool
}
