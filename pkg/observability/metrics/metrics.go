package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

var (
	analysesStarted   atomic.Int64
	analysesCompleted atomic.Int64
	analysesFailed    atomic.Int64
	decodeFailures    atomic.Int64
	stageDegradations atomic.Int64
	criticalFindings  atomic.Int64
	highFindings      atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
)

func Init() {}

func IncAnalysisStarted()   { analysesStarted.Add(1) }
func IncAnalysisCompleted() { analysesCompleted.Add(1) }
func IncAnalysisFailed()    { analysesFailed.Add(1) }
func IncDecodeFailure()     { decodeFailures.Add(1) }
func IncCriticalFinding()   { criticalFindings.Add(1) }
func IncHighFinding()       { highFindings.Add(1) }
func IncCacheHit()          { cacheHits.Add(1) }
func IncCacheMiss()         { cacheMisses.Add(1) }

func AddStageDegradations(n int) {
	if n > 0 {
		stageDegradations.Add(int64(n))
	}
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writeCounter(w, "medai_ecg_analyses_started_total", "Number of analyses started.", analysesStarted.Load())
	writeCounter(w, "medai_ecg_analyses_completed_total", "Number of analyses completed with a full record.", analysesCompleted.Load())
	writeCounter(w, "medai_ecg_analyses_failed_total", "Number of analyses aborted by a fatal error.", analysesFailed.Load())
	writeCounter(w, "medai_ecg_decode_failures_total", "Number of signal payloads rejected by the decoder.", decodeFailures.Load())
	writeCounter(w, "medai_ecg_stage_degradations_total", "Number of stage warnings recorded across all analyses.", stageDegradations.Load())
	writeCounter(w, "medai_ecg_critical_findings_total", "Number of analyses concluding with CRITICAL urgency.", criticalFindings.Load())
	writeCounter(w, "medai_ecg_high_findings_total", "Number of analyses concluding with HIGH urgency.", highFindings.Load())
	writeCounter(w, "medai_ecg_result_cache_hits_total", "Number of analysis fetches served from the result cache.", cacheHits.Load())
	writeCounter(w, "medai_ecg_result_cache_misses_total", "Number of analysis fetches that missed the result cache.", cacheMisses.Load())
}

func writeCounter(w io.Writer, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, value)
}
