package kafka

import "time"

// Event types carried on the analysis topics.
const (
	EventAnalysisRequested = "ecg.analysis.requested"
	EventAnalysisCompleted = "ecg.analysis.completed"
	EventAnalysisFailed    = "ecg.analysis.failed"
)

// Event is the envelope for every message on the bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}
