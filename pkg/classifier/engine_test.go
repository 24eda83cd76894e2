package classifier

import (
	"testing"

	"github.com/drguilhermecapel/medai-sub005/pkg/features"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultRuleConfig())
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return engine
}

func featureSet(overrides map[string]float64) features.Set {
	set := features.Defaults()
	for k, v := range overrides {
		set[k] = v
	}
	return set
}

func TestNormalSinusRhythm(t *testing.T) {
	engine := newTestEngine(t)
	set := featureSet(map[string]float64{
		features.KeyHeartRate:  70,
		features.KeyRRStd:      20,
		features.KeyQTInterval: 400,
	})

	result, warnings := engine.Classify(set)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if !result.Level1.IsNormal || result.Level1.Confidence != 0.9 || result.Level1.AbnormalityScore != 0.1 {
		t.Fatalf("unexpected level1: %+v", result.Level1)
	}
	if result.Level2.Category != CategoryNormal || result.Level2.Confidence != 0.85 {
		t.Fatalf("unexpected level2: %+v", result.Level2)
	}
	if len(result.Level3) != 0 {
		t.Fatalf("expected empty diagnosis list, got %v", result.Level3)
	}
	if result.Urgency != UrgencyLow {
		t.Fatalf("expected LOW urgency, got %v", result.Urgency)
	}
}

func TestAtrialFibrillation(t *testing.T) {
	engine := newTestEngine(t)
	set := featureSet(map[string]float64{
		features.KeyHeartRate:       180,
		features.KeyIrregularRhythm: 1,
	})

	result, _ := engine.Classify(set)
	if result.Level1.IsNormal {
		t.Fatal("tachycardia should not screen as normal")
	}
	if result.Level2.Category != CategoryArrhythmia || result.Level2.Confidence != 0.9 {
		t.Fatalf("unexpected level2: %+v", result.Level2)
	}
	primary, ok := result.Primary()
	if !ok || primary.Label != "Atrial Fibrillation" || primary.Confidence != 0.85 {
		t.Fatalf("unexpected primary diagnosis: %+v", primary)
	}
	if primary.Code != "I48.91" {
		t.Fatalf("unexpected ICD-10 code: %q", primary.Code)
	}
	if result.Urgency != UrgencyHigh {
		t.Fatalf("expected HIGH urgency, got %v", result.Urgency)
	}
}

func TestSTElevationInfarction(t *testing.T) {
	engine := newTestEngine(t)
	set := featureSet(map[string]float64{features.KeySTElevation: 1, features.KeySTElevationMV: 0.3})

	result, _ := engine.Classify(set)
	// The screening envelope does not include ST level, so level1 stays
	// normal while the cascade still escalates.
	if !result.Level1.IsNormal {
		t.Fatalf("unexpected level1: %+v", result.Level1)
	}
	if result.Level2.Category != CategoryIschemic || result.Level2.Confidence != 0.9 {
		t.Fatalf("unexpected level2: %+v", result.Level2)
	}
	primary, ok := result.Primary()
	if !ok || primary.Label != "ST Elevation Myocardial Infarction" || primary.Confidence != 0.9 {
		t.Fatalf("unexpected primary diagnosis: %+v", primary)
	}
	if result.Urgency != UrgencyCritical {
		t.Fatalf("expected CRITICAL urgency, got %v", result.Urgency)
	}
}

func TestLevel2PriorityOrder(t *testing.T) {
	engine := newTestEngine(t)
	set := featureSet(map[string]float64{
		features.KeyHeartRate:   180,
		features.KeySTElevation: 1,
	})

	result, _ := engine.Classify(set)
	if result.Level2.Category != CategoryArrhythmia {
		t.Fatalf("tachycardia rule should win the chain, got %v", result.Level2.Category)
	}
	if result.Level2.Scores[CategoryIschemic] != 0.9 {
		t.Fatalf("ischemic score not recorded: %v", result.Level2.Scores)
	}
	if result.Level2.Scores[CategoryNormal] != 0.85 {
		t.Fatalf("default rule score not recorded: %v", result.Level2.Scores)
	}
	if result.Level2.Scores[CategoryConduction] != 0 {
		t.Fatalf("unmatched category should score 0: %v", result.Level2.Scores)
	}
}

func TestLevel2IsTotal(t *testing.T) {
	engine := newTestEngine(t)
	sets := []features.Set{
		featureSet(nil),
		featureSet(map[string]float64{features.KeyHeartRate: 300, features.KeyRRStd: 500}),
		featureSet(map[string]float64{features.KeyHeartRate: 0}),
		{},
		nil,
	}
	for i, set := range sets {
		result, _ := engine.Classify(set)
		if !validCategory(result.Level2.Category) {
			t.Fatalf("set %d produced invalid category %q", i, result.Level2.Category)
		}
	}
}

func TestBradycardiaWithAVBlock(t *testing.T) {
	engine := newTestEngine(t)
	set := featureSet(map[string]float64{
		features.KeyHeartRate:  40,
		features.KeyPRInterval: 220,
	})

	result, _ := engine.Classify(set)
	if result.Level2.Category != CategoryConduction || result.Level2.Confidence != 0.85 {
		t.Fatalf("unexpected level2: %+v", result.Level2)
	}
	if len(result.Level3) != 2 {
		t.Fatalf("expected two conduction findings, got %v", result.Level3)
	}
	if result.Level3[0].Label != "First Degree AV Block" || result.Level3[1].Label != "Sinus Bradycardia" {
		t.Fatalf("list not ranked by confidence: %v", result.Level3)
	}
	if result.Level3[0].Confidence < result.Level3[1].Confidence {
		t.Fatal("diagnosis list not sorted descending")
	}
	if result.Urgency != UrgencyMedium {
		t.Fatalf("AV block should yield MEDIUM urgency, got %v", result.Urgency)
	}
}

func TestSupraventricularTachycardia(t *testing.T) {
	engine := newTestEngine(t)
	set := featureSet(map[string]float64{
		features.KeyHeartRate: 120,
		features.KeyRRStd:     250,
	})

	result, _ := engine.Classify(set)
	if result.Level2.Category != CategoryArrhythmia || result.Level2.Confidence != 0.8 {
		t.Fatalf("unexpected level2: %+v", result.Level2)
	}
	primary, ok := result.Primary()
	if !ok || primary.Label != "Supraventricular Tachycardia" || primary.Confidence != 0.75 {
		t.Fatalf("unexpected primary diagnosis: %+v", primary)
	}
	if result.Urgency != UrgencyLow {
		t.Fatalf("0.75 confidence tachycardia should stay LOW, got %v", result.Urgency)
	}
}

func TestRegularTachycardiaUrgencyBoundary(t *testing.T) {
	engine := newTestEngine(t)
	set := featureSet(map[string]float64{features.KeyHeartRate: 180})

	result, _ := engine.Classify(set)
	primary, ok := result.Primary()
	if !ok || primary.Label != "Sinus Tachycardia" {
		t.Fatalf("unexpected primary diagnosis: %+v", primary)
	}
	// The high-urgency rule requires strictly more than 0.8.
	if result.Urgency != UrgencyLow {
		t.Fatalf("0.8 confidence tachycardia should stay LOW, got %v", result.Urgency)
	}
}

func TestUrgencyCriticalPrecedence(t *testing.T) {
	catalog := DefaultCatalog()
	afib := Diagnosis{Label: "Atrial Fibrillation", Confidence: 0.85, Code: "I48.91"}
	stemi := Diagnosis{Label: "ST Elevation Myocardial Infarction", Confidence: 0.6, Code: "I21.3"}

	if got := DeriveUrgency([]Diagnosis{afib, stemi}, catalog); got != UrgencyCritical {
		t.Fatalf("critical finding must win regardless of position, got %v", got)
	}
	if got := DeriveUrgency([]Diagnosis{stemi, afib}, catalog); got != UrgencyCritical {
		t.Fatalf("critical finding must win regardless of position, got %v", got)
	}
	if got := DeriveUrgency([]Diagnosis{afib}, catalog); got != UrgencyHigh {
		t.Fatalf("expected HIGH for confident AFib, got %v", got)
	}
	if got := DeriveUrgency([]Diagnosis{{Label: "Atrial Fibrillation", Confidence: 0.7, Code: "I48.91"}}, catalog); got != UrgencyMedium {
		t.Fatalf("low-confidence AFib should fall through to MEDIUM, got %v", got)
	}
	if got := DeriveUrgency(nil, catalog); got != UrgencyLow {
		t.Fatalf("empty list should be LOW, got %v", got)
	}
}

func TestLevel1Boundaries(t *testing.T) {
	engine := newTestEngine(t)
	cases := []struct {
		name   string
		hr     float64
		rrStd  float64
		qt     float64
		normal bool
	}{
		{"nominal", 70, 20, 400, true},
		{"hr-low-edge", 60, 20, 400, true},
		{"hr-below", 59.9, 20, 400, false},
		{"hr-high-edge", 100, 20, 400, true},
		{"hr-above", 100.1, 20, 400, false},
		{"rr-std-edge", 70, 99.9, 400, true},
		{"rr-std-at-limit", 70, 100, 400, false},
		{"qt-low-edge", 70, 20, 350, true},
		{"qt-below", 70, 20, 349.9, false},
		{"qt-high-edge", 70, 20, 450, true},
		{"qt-above", 70, 20, 450.1, false},
	}
	for _, tc := range cases {
		set := featureSet(map[string]float64{
			features.KeyHeartRate:  tc.hr,
			features.KeyRRStd:      tc.rrStd,
			features.KeyQTInterval: tc.qt,
		})
		result, _ := engine.Classify(set)
		if result.Level1.IsNormal != tc.normal {
			t.Fatalf("%s: expected normal=%v, got %+v", tc.name, tc.normal, result.Level1)
		}
	}
}

func TestClassifyEmptyFeatureSet(t *testing.T) {
	engine := newTestEngine(t)

	result, _ := engine.Classify(nil)
	if result.Level1.IsNormal {
		t.Fatal("empty feature set should screen abnormal")
	}
	if result.Level2.Category != CategoryNormal {
		t.Fatalf("empty feature set should land on the default category, got %v", result.Level2.Category)
	}
	if len(result.Level3) != 0 || result.Urgency != UrgencyLow {
		t.Fatalf("unexpected result for empty set: %+v", result)
	}
}
