// Package pipeline runs the full interpretation sequence for one ECG
// recording: decode, preprocess, quality scoring, feature extraction,
// hierarchical classification and explanation assembly. Only decoding
// can fail an analysis; every later stage degrades to a documented
// default and records a warning instead.
package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/drguilhermecapel/medai-sub005/pkg/classifier"
	"github.com/drguilhermecapel/medai-sub005/pkg/common/logger"
	"github.com/drguilhermecapel/medai-sub005/pkg/explain"
	"github.com/drguilhermecapel/medai-sub005/pkg/features"
	"github.com/drguilhermecapel/medai-sub005/pkg/preprocess"
	"github.com/drguilhermecapel/medai-sub005/pkg/quality"
	"github.com/drguilhermecapel/medai-sub005/pkg/waveform"
)

// Request is one analysis invocation. An empty AnalysisID is replaced
// with a generated one.
type Request struct {
	AnalysisID string
	Signal     []byte
	Hint       waveform.Hint
}

// Record is the complete, immutable outcome of one analysis. It carries
// no timestamps, so byte-identical input yields a byte-identical record.
type Record struct {
	AnalysisID  string                 `json:"analysis_id"`
	Metadata    waveform.Metadata      `json:"metadata"`
	Quality     quality.Report         `json:"quality"`
	Features    features.Set           `json:"features"`
	Level1      classifier.Level1      `json:"level1"`
	Level2      classifier.Level2      `json:"level2"`
	Level3      []classifier.Diagnosis `json:"level3"`
	Urgency     classifier.Urgency     `json:"urgency"`
	Explanation explain.Bundle         `json:"explanation"`
	Warnings    []string               `json:"warnings"`
}

// Options configures an Analyzer. The zero value uses the built-in rule
// set and the heuristic attribution source.
type Options struct {
	Rules  classifier.RuleConfig
	Source explain.AttributionSource
}

// Analyzer executes analyses. It holds only immutable reference data and
// is safe for concurrent use across requests.
type Analyzer struct {
	engine    *classifier.Engine
	explainer *explain.Generator
}

func New(opts Options) (*Analyzer, error) {
	cfg := opts.Rules
	if len(cfg.Level2) == 0 && cfg.Catalog.Concepts == nil {
		cfg = classifier.DefaultRuleConfig()
	}
	engine, err := classifier.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	return &Analyzer{
		engine:    engine,
		explainer: explain.NewGenerator(opts.Source),
	}, nil
}

// Analyze runs the stage sequence on one recording. Cancellation is
// honored at stage boundaries only; a stage in progress always finishes.
// The returned error is non-nil only for decode failures and context
// cancellation.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Record, error) {
	id := req.AnalysisID
	if id == "" {
		id = uuid.New().String()
	}
	log := logger.WithFields(logrus.Fields{"analysis_id": id})
	log.Info("Analysis started")

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matrix, meta, err := waveform.Decode(req.Signal, req.Hint)
	if err != nil {
		log.WithError(err).Error("Signal decoding failed")
		return nil, err
	}

	warnings := make([]string, 0, 4)
	collect := func(stageWarnings []string) {
		for _, w := range stageWarnings {
			log.Warn(w)
		}
		warnings = append(warnings, stageWarnings...)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleaned, stageWarnings := preprocess.Clean(matrix, meta)
	collect(stageWarnings)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report, stageWarnings := quality.Analyze(cleaned, meta)
	collect(stageWarnings)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	set, stageWarnings := features.Extract(cleaned, meta, report)
	collect(stageWarnings)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, stageWarnings := a.engine.Classify(set)
	collect(stageWarnings)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	label, confidence := primaryFinding(result)
	bundle, stageWarnings := a.explainer.Generate(cleaned, set, label, confidence)
	collect(stageWarnings)

	record := &Record{
		AnalysisID:  id,
		Metadata:    meta,
		Quality:     report,
		Features:    set,
		Level1:      result.Level1,
		Level2:      result.Level2,
		Level3:      result.Level3,
		Urgency:     result.Urgency,
		Explanation: bundle,
		Warnings:    warnings,
	}

	log.WithFields(logrus.Fields{
		"urgency":  string(record.Urgency),
		"category": string(record.Level2.Category),
		"warnings": len(record.Warnings),
	}).Info("Analysis completed")

	return record, nil
}

// primaryFinding picks the label and confidence handed to the
// explanation stage. With an empty diagnosis list the category itself is
// narrated.
func primaryFinding(result classifier.Result) (string, float64) {
	if primary, ok := result.Primary(); ok {
		return primary.Label, primary.Confidence
	}
	switch result.Level2.Category {
	case classifier.CategoryArrhythmia:
		return "Unclassified arrhythmia", result.Level2.Confidence
	case classifier.CategoryConduction:
		return "Nonspecific conduction abnormality", result.Level2.Confidence
	case classifier.CategoryIschemic:
		return "Nonspecific ischemic changes", result.Level2.Confidence
	}
	return "Normal Sinus Rhythm", result.Level2.Confidence
}
