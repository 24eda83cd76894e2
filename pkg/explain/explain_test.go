package explain

import (
	"math"
	"strings"
	"testing"

	"github.com/drguilhermecapel/medai-sub005/pkg/features"
	"github.com/drguilhermecapel/medai-sub005/pkg/waveform"
)

func explainSet(overrides map[string]float64) features.Set {
	set := features.Defaults()
	for k, v := range overrides {
		set[k] = v
	}
	return set
}

func TestTachycardiaNarrative(t *testing.T) {
	gen := NewGenerator(nil)
	set := explainSet(map[string]float64{features.KeyHeartRate: 180})

	bundle, warnings := gen.Generate(nil, set, "Sinus Tachycardia", 0.8)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if bundle.PrimaryDiagnosis != "Sinus Tachycardia" || bundle.Confidence != 0.8 {
		t.Fatalf("prediction not echoed: %+v", bundle)
	}
	if !strings.Contains(bundle.ClinicalExplanation, "Sinus Tachycardia") || !strings.Contains(bundle.ClinicalExplanation, "180") {
		t.Fatalf("narrative missing diagnosis or rate: %q", bundle.ClinicalExplanation)
	}
	if len(bundle.DiagnosticCriteria) == 0 || bundle.DiagnosticCriteria[0] != "Heart rate above 100 bpm" {
		t.Fatalf("unexpected criteria: %v", bundle.DiagnosticCriteria)
	}
	for _, rec := range bundle.Recommendations {
		if rec == correlationAdvice {
			t.Fatal("correlation advice should not appear at confidence 0.8")
		}
	}
}

func TestFibrillationAddsThromboembolicRisk(t *testing.T) {
	gen := NewGenerator(nil)
	bundle, _ := gen.Generate(nil, explainSet(nil), "Atrial Fibrillation", 0.85)

	found := false
	for _, risk := range bundle.RiskFactors {
		if strings.Contains(risk, "Thromboembolic") {
			found = true
		}
	}
	if !found {
		t.Fatalf("fibrillation should add thromboembolic risk: %v", bundle.RiskFactors)
	}
	if len(bundle.RiskFactors) != len(baselineRiskFactors)+1 {
		t.Fatalf("baseline risks should be retained: %v", bundle.RiskFactors)
	}
}

func TestInfarctionNarrativeShowsSTLevel(t *testing.T) {
	gen := NewGenerator(nil)
	set := explainSet(map[string]float64{features.KeySTElevationMV: 0.25})

	bundle, _ := gen.Generate(nil, set, "ST Elevation Myocardial Infarction", 0.9)
	if !strings.Contains(bundle.ClinicalExplanation, "0.25 mV") {
		t.Fatalf("narrative missing ST magnitude: %q", bundle.ClinicalExplanation)
	}
	if bundle.Recommendations[0] != "Immediate cardiology referral" {
		t.Fatalf("unexpected recommendations: %v", bundle.Recommendations)
	}
}

func TestBlockNarrativeShowsPRInterval(t *testing.T) {
	gen := NewGenerator(nil)
	set := explainSet(map[string]float64{features.KeyPRInterval: 230})

	bundle, _ := gen.Generate(nil, set, "First Degree AV Block", 0.85)
	if !strings.Contains(bundle.ClinicalExplanation, "230 ms") {
		t.Fatalf("narrative missing PR interval: %q", bundle.ClinicalExplanation)
	}
}

func TestNormalLabelGetsReferenceRangeNarrative(t *testing.T) {
	gen := NewGenerator(nil)
	bundle, _ := gen.Generate(nil, explainSet(nil), "Normal Sinus Rhythm", 0.85)
	if bundle.DiagnosticCriteria[0] != "Rate within 60 to 100 bpm" {
		t.Fatalf("expected normal-family criteria, got %v", bundle.DiagnosticCriteria)
	}
	if !strings.Contains(bundle.ClinicalExplanation, "within reference ranges") {
		t.Fatalf("unexpected narrative: %q", bundle.ClinicalExplanation)
	}
}

func TestUnmatchedLabelGetsNeutralNarrative(t *testing.T) {
	gen := NewGenerator(nil)
	for _, label := range []string{"Unclassified arrhythmia", "Nonspecific conduction abnormality"} {
		bundle, _ := gen.Generate(nil, explainSet(nil), label, 0.8)
		if strings.Contains(bundle.ClinicalExplanation, "reference ranges") {
			t.Fatalf("%s: neutral family should not assert normality: %q", label, bundle.ClinicalExplanation)
		}
		if bundle.Recommendations[0] != "Clinical correlation recommended" {
			t.Fatalf("%s: unexpected recommendations: %v", label, bundle.Recommendations)
		}
	}
}

func TestLowConfidenceAddsCorrelationAdvice(t *testing.T) {
	gen := NewGenerator(nil)

	bundle, _ := gen.Generate(nil, explainSet(nil), "Supraventricular Tachycardia", 0.65)
	last := bundle.Recommendations[len(bundle.Recommendations)-1]
	if last != correlationAdvice {
		t.Fatalf("expected correlation advice appended, got %v", bundle.Recommendations)
	}

	// The threshold is strict: exactly 0.7 does not trigger the advice.
	bundle, _ = gen.Generate(nil, explainSet(nil), "Supraventricular Tachycardia", 0.7)
	for _, rec := range bundle.Recommendations {
		if rec == correlationAdvice {
			t.Fatal("advice must not appear at confidence 0.7")
		}
	}
}

func TestImportanceRestrictedToPresentFeatures(t *testing.T) {
	gen := NewGenerator(nil)
	set := explainSet(nil)
	delete(set, features.KeyPRInterval)

	bundle, _ := gen.Generate(nil, set, "Sinus Tachycardia", 0.8)
	if bundle.FeatureImportance[features.KeyHeartRate] != 0.3 {
		t.Fatalf("heart rate weight wrong: %v", bundle.FeatureImportance)
	}
	if bundle.FeatureImportance[features.KeyQTInterval] != 0.2 {
		t.Fatalf("qt weight wrong: %v", bundle.FeatureImportance)
	}
	if _, ok := bundle.FeatureImportance[features.KeyPRInterval]; ok {
		t.Fatal("absent feature must not appear in the importance map")
	}
	if bundle.FeatureImportance[features.KeyQRSDuration] != 0.1 {
		t.Fatalf("default weight wrong: %v", bundle.FeatureImportance)
	}
}

func TestAttributionsSortedByWeight(t *testing.T) {
	gen := NewGenerator(nil)
	bundle, _ := gen.Generate(nil, explainSet(nil), "Sinus Tachycardia", 0.8)

	if len(bundle.Attributions) == 0 {
		t.Fatal("expected attribution blocks")
	}
	if bundle.Attributions[0].Feature != features.KeyHeartRate || bundle.Attributions[0].Weight != 0.3 {
		t.Fatalf("heart rate should rank first: %+v", bundle.Attributions[0])
	}
	for i := 1; i < len(bundle.Attributions); i++ {
		if bundle.Attributions[i].Weight > bundle.Attributions[i-1].Weight {
			t.Fatalf("attributions not sorted by weight: %+v", bundle.Attributions)
		}
	}
}

func TestLeadAttentionSizedToLeadCount(t *testing.T) {
	rows := make([][]float64, 500)
	for i := range rows {
		v := math.Sin(2 * math.Pi * float64(i) / 100)
		rows[i] = []float64{v, 2 * v, 0.5 * v}
	}
	m, err := waveform.NewMatrix(rows)
	if err != nil {
		t.Fatalf("matrix build failed: %v", err)
	}

	gen := NewGenerator(nil)
	bundle, _ := gen.Generate(m, explainSet(nil), "Normal Sinus Rhythm", 0.85)
	if len(bundle.LeadAttention) != 3 {
		t.Fatalf("expected one attention sequence per lead, got %d", len(bundle.LeadAttention))
	}
	for lead, seq := range bundle.LeadAttention {
		if len(seq) == 0 || len(seq) > attentionBuckets {
			t.Fatalf("lead %d: unexpected sequence length %d", lead, len(seq))
		}
		peak := 0.0
		for _, v := range seq {
			if v < 0 || v > 1 {
				t.Fatalf("lead %d: attention value %v outside [0,1]", lead, v)
			}
			if v > peak {
				peak = v
			}
		}
		if peak != 1 {
			t.Fatalf("lead %d: envelope not normalized, peak %v", lead, peak)
		}
	}
}

type panicSource struct{}

func (panicSource) FeatureAttributions(features.Set) []Attribution { panic("attribution fault") }
func (panicSource) LeadAttention(*waveform.Matrix) [][]float64     { panic("attention fault") }

func TestInternalFaultYieldsGenericBundle(t *testing.T) {
	gen := NewGenerator(panicSource{})

	bundle, warnings := gen.Generate(nil, explainSet(nil), "Atrial Fibrillation", 0.85)
	if len(warnings) != 1 || !strings.Contains(warnings[0], "explain:") {
		t.Fatalf("expected a degradation warning, got %v", warnings)
	}
	if bundle.Confidence != neutralConfidence {
		t.Fatalf("generic bundle should carry neutral confidence, got %v", bundle.Confidence)
	}
	if bundle.PrimaryDiagnosis != "Atrial Fibrillation" {
		t.Fatalf("diagnosis label should survive: %+v", bundle)
	}
	if len(bundle.Recommendations) == 0 || bundle.Recommendations[0] != correlationAdvice {
		t.Fatalf("generic bundle should advise correlation: %v", bundle.Recommendations)
	}
}

func TestBundlesDoNotShareTemplateStorage(t *testing.T) {
	gen := NewGenerator(nil)
	first, _ := gen.Generate(nil, explainSet(nil), "Sinus Bradycardia", 0.8)
	first.DiagnosticCriteria[0] = "mutated"
	first.Recommendations[0] = "mutated"

	second, _ := gen.Generate(nil, explainSet(nil), "Sinus Bradycardia", 0.8)
	if second.DiagnosticCriteria[0] == "mutated" || second.Recommendations[0] == "mutated" {
		t.Fatal("bundles must not alias package template storage")
	}
}
