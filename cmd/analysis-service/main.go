package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/drguilhermecapel/medai-sub005/pkg/classifier"
	"github.com/drguilhermecapel/medai-sub005/pkg/common/config"
	"github.com/drguilhermecapel/medai-sub005/pkg/common/kafka"
	"github.com/drguilhermecapel/medai-sub005/pkg/common/logger"
	"github.com/drguilhermecapel/medai-sub005/pkg/observability/metrics"
	"github.com/drguilhermecapel/medai-sub005/pkg/pipeline"
	"github.com/drguilhermecapel/medai-sub005/pkg/storage"
	"github.com/drguilhermecapel/medai-sub005/pkg/waveform"
)

const serviceName = "analysis-service"

// eventPublisher is satisfied by kafka.Producer.
type eventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type AnalysisService struct {
	analyzer *pipeline.Analyzer
	cache    *storage.ResultCache
	producer eventPublisher
	consumer *kafka.Consumer
	workers  chan struct{}
	maxBody  int64
}

func main() {
	// .env is optional; real environment variables win when both exist.
	_ = godotenv.Load()

	logger.Init()
	metrics.Init()
	cfg := config.Load()

	rules, err := classifier.Load(cfg.RulesPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load classification rules")
	}
	analyzer, err := pipeline.New(pipeline.Options{Rules: rules})
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to build analyzer")
	}

	service := &AnalysisService{
		analyzer: analyzer,
		cache:    storage.NewResultCache(),
		workers:  make(chan struct{}, cfg.AnalysisWorkers),
		maxBody:  cfg.MaxRequestBody,
	}

	producer := kafka.NewProducer(cfg.ResultTopic)
	defer producer.Close()
	service.producer = producer

	service.consumer = kafka.NewConsumer(cfg.RequestTopic, cfg.KafkaGroupID)
	defer service.consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := service.consumer.Consume(ctx, service.processEvent); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Fatal("Consumer error")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/metrics", handleMetrics).Methods("GET")
	router.HandleFunc("/api/v1/analyze", service.handleAnalyze).Methods("POST")
	router.HandleFunc("/api/v1/analyses/{id}", service.handleGetAnalysis).Methods("GET")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":    cfg.ServerHost,
			"port":    cfg.ServerPort,
			"workers": cfg.AnalysisWorkers,
		}).Info("Analysis Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Analysis Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Analysis Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.WritePrometheus(w)
}

// runAnalysis is the shared execution path for HTTP and bus requests. The
// worker channel bounds concurrent pipeline executions.
func (s *AnalysisService) runAnalysis(ctx context.Context, req pipeline.Request) (*pipeline.Record, error) {
	// A supplied id may name an analysis already computed. The record is
	// deterministic, so the cached copy is the exact result.
	if req.AnalysisID != "" {
		if cached, ok := s.cache.Get(ctx, req.AnalysisID); ok {
			metrics.IncCacheHit()
			logger.Log.WithField("analysis_id", req.AnalysisID).Info("Analysis served from result cache")
			return cached, nil
		}
		metrics.IncCacheMiss()
	}

	select {
	case s.workers <- struct{}{}:
		defer func() { <-s.workers }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	metrics.IncAnalysisStarted()
	record, err := s.analyzer.Analyze(ctx, req)
	if err != nil {
		metrics.IncAnalysisFailed()
		if waveform.IsDecodeError(err) {
			metrics.IncDecodeFailure()
		}
		return nil, err
	}

	metrics.IncAnalysisCompleted()
	metrics.AddStageDegradations(len(record.Warnings))
	switch record.Urgency {
	case classifier.UrgencyCritical:
		metrics.IncCriticalFinding()
	case classifier.UrgencyHigh:
		metrics.IncHighFinding()
	}

	s.cache.Put(ctx, record)
	if err := s.producer.PublishEvent(ctx, kafka.EventAnalysisCompleted, serviceName, pipeline.EventPayload(record)); err != nil {
		logger.Log.WithError(err).WithField("analysis_id", record.AnalysisID).Warn("Result publication failed")
	}
	return record, nil
}

type analyzeRequest struct {
	AnalysisID string   `json:"analysis_id,omitempty"`
	Signal     string   `json:"signal"`
	Format     string   `json:"format,omitempty"`
	SampleRate float64  `json:"sample_rate,omitempty"`
	LeadNames  []string `json:"lead_names,omitempty"`
}

func (s *AnalysisService) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	signal, err := base64.StdEncoding.DecodeString(req.Signal)
	if err != nil {
		http.Error(w, "Signal is not valid base64", http.StatusBadRequest)
		return
	}

	record, err := s.runAnalysis(r.Context(), pipeline.Request{
		AnalysisID: req.AnalysisID,
		Signal:     signal,
		Hint: waveform.Hint{
			Format:     req.Format,
			SampleRate: req.SampleRate,
			LeadNames:  req.LeadNames,
		},
	})
	if err != nil {
		if waveform.IsDecodeError(err) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		if r.Context().Err() != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}

// handleGetAnalysis serves recent records from the result cache. Records
// past their TTL are gone; there is no persistent store behind this.
func (s *AnalysisService) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	record, ok := s.cache.Get(r.Context(), id)
	if !ok {
		metrics.IncCacheMiss()
		http.Error(w, "Analysis not found", http.StatusNotFound)
		return
	}
	metrics.IncCacheHit()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *AnalysisService) processEvent(ctx context.Context, event kafka.Event) error {
	logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
	}).Info("Processing analysis request")

	if event.Type != "" && event.Type != kafka.EventAnalysisRequested {
		logger.Log.WithField("event_type", event.Type).Warn("Ignoring unexpected event type on request topic")
		return nil
	}

	signalB64, ok := event.Data["signal"].(string)
	if !ok {
		logger.Log.WithField("event_id", event.ID).Warn("Request event carries no signal")
		s.publishFailure(ctx, stringField(event.Data, "analysis_id"), "request carries no signal")
		return nil
	}
	signal, err := base64.StdEncoding.DecodeString(signalB64)
	if err != nil {
		logger.Log.WithError(err).WithField("event_id", event.ID).Warn("Request signal is not valid base64")
		s.publishFailure(ctx, stringField(event.Data, "analysis_id"), "signal is not valid base64: "+err.Error())
		return nil
	}

	req := pipeline.Request{
		AnalysisID: stringField(event.Data, "analysis_id"),
		Signal:     signal,
		Hint: waveform.Hint{
			Format:     stringField(event.Data, "format"),
			SampleRate: floatField(event.Data, "sample_rate"),
			LeadNames:  stringSliceField(event.Data, "lead_names"),
		},
	}

	if _, err := s.runAnalysis(ctx, req); err != nil {
		if waveform.IsDecodeError(err) {
			// Undecodable payloads never succeed on retry; report and commit.
			s.publishFailure(ctx, req.AnalysisID, err.Error())
			return nil
		}
		return err
	}
	return nil
}

// publishFailure reports a request that can never succeed on the result
// topic, keyed by whatever analysis id the request carried.
func (s *AnalysisService) publishFailure(ctx context.Context, analysisID, reason string) {
	err := s.producer.PublishEvent(ctx, kafka.EventAnalysisFailed, serviceName, map[string]interface{}{
		"analysis_id": analysisID,
		"error":       reason,
	})
	if err != nil {
		logger.Log.WithError(err).WithField("analysis_id", analysisID).Warn("Failure publication failed")
	}
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func floatField(data map[string]interface{}, key string) float64 {
	if v, ok := data[key].(float64); ok {
		return v
	}
	return 0
}

func stringSliceField(data map[string]interface{}, key string) []string {
	raw, ok := data[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
