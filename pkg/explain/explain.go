// Package explain turns a classification outcome and its supporting
// features into the structured explanation attached to every analysis
// record: a templated clinical narrative, diagnostic criteria, risk
// factors, recommendations, feature importances and attribution data.
// Generation never fails an analysis; internal faults yield a generic
// bundle with neutral confidence.
package explain

import (
	"fmt"
	"strings"

	"github.com/drguilhermecapel/medai-sub005/pkg/features"
	"github.com/drguilhermecapel/medai-sub005/pkg/waveform"
)

// Attribution is one (feature, value, weight) audit block.
type Attribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
	Weight  float64 `json:"weight"`
}

// Bundle is a complete explanation for one analysis.
type Bundle struct {
	PrimaryDiagnosis    string             `json:"primary_diagnosis"`
	Confidence          float64            `json:"confidence"`
	ClinicalExplanation string             `json:"clinical_explanation"`
	DiagnosticCriteria  []string           `json:"diagnostic_criteria"`
	RiskFactors         []string           `json:"risk_factors"`
	Recommendations     []string           `json:"recommendations"`
	FeatureImportance   map[string]float64 `json:"feature_importance"`
	LeadAttention       [][]float64        `json:"lead_attention"`
	Attributions        []Attribution      `json:"attributions"`
}

const (
	neutralConfidence    = 0.5
	correlationThreshold = 0.7
)

const correlationAdvice = "Seek additional clinical correlation"

type familyKey string

const (
	familyFibrillation familyKey = "fibrillation"
	familyTachycardia  familyKey = "tachycardia"
	familyBradycardia  familyKey = "bradycardia"
	familyInfarction   familyKey = "infarction"
	familyBlock        familyKey = "block"
	familyNormal       familyKey = "normal"
	familyDefault      familyKey = "default"
)

// familyOrder decides which keyword wins when a label matches several.
var familyOrder = []familyKey{
	familyFibrillation,
	familyTachycardia,
	familyBradycardia,
	familyInfarction,
	familyBlock,
	familyNormal,
}

// classifyFamily matches on whole words so that labels like
// "conduction abnormality" do not hit the normal family.
func classifyFamily(label string) familyKey {
	words := strings.Fields(strings.ToLower(label))
	for _, key := range familyOrder {
		for _, word := range words {
			if word == string(key) {
				return key
			}
		}
	}
	return familyDefault
}

type narrativeTemplate struct {
	narrate         func(label string, set features.Set) string
	criteria        []string
	risks           []string
	recommendations []string
}

var baselineRiskFactors = []string{
	"Advanced age",
	"Hypertension",
	"Structural heart disease",
}

var templates = map[familyKey]narrativeTemplate{
	familyFibrillation: {
		narrate: func(label string, set features.Set) string {
			return fmt.Sprintf("The recording shows %s with an irregularly irregular ventricular response at %.0f bpm and no consistent P-wave activity.",
				label, valueOr(set, features.KeyHeartRate, features.DefaultHeartRateBPM))
		},
		criteria: []string{
			"Irregularly irregular R-R intervals",
			"Absence of distinct P waves",
			"Variable ventricular response",
		},
		risks: []string{"Thromboembolic risk, assess need for anticoagulation"},
		recommendations: []string{
			"Assess stroke risk profile",
			"Consider rate or rhythm control strategy",
		},
	},
	familyTachycardia: {
		narrate: func(label string, set features.Set) string {
			return fmt.Sprintf("The recording shows %s with a ventricular rate of %.0f bpm, above the normal sinus range.",
				label, valueOr(set, features.KeyHeartRate, features.DefaultHeartRateBPM))
		},
		criteria: []string{
			"Heart rate above 100 bpm",
			"P-wave morphology identifies the origin",
			"QRS width separates supraventricular from ventricular origin",
		},
		recommendations: []string{
			"Evaluate for reversible causes",
			"Consider rate control if sustained",
		},
	},
	familyBradycardia: {
		narrate: func(label string, set features.Set) string {
			return fmt.Sprintf("The recording shows %s with a ventricular rate of %.0f bpm, below the normal sinus range.",
				label, valueOr(set, features.KeyHeartRate, features.DefaultHeartRateBPM))
		},
		criteria: []string{
			"Heart rate below 60 bpm",
			"Assess for sinus pauses or dropped beats",
			"Correlate with medication history",
		},
		recommendations: []string{
			"Review chronotropic medications",
			"Monitor for symptomatic episodes",
		},
	},
	familyInfarction: {
		narrate: func(label string, set features.Set) string {
			return fmt.Sprintf("The recording shows %s with ST-segment elevation of %.2f mV, consistent with acute myocardial injury.",
				label, valueOr(set, features.KeySTElevationMV, 0))
		},
		criteria: []string{
			"ST-segment elevation at the J point",
			"Reciprocal changes in opposing leads",
			"Serial troponin measurement",
		},
		recommendations: []string{
			"Immediate cardiology referral",
			"Serial ECG and troponin monitoring",
		},
	},
	familyBlock: {
		narrate: func(label string, set features.Set) string {
			return fmt.Sprintf("The recording shows %s with a PR interval of %.0f ms, indicating delayed atrioventricular conduction.",
				label, valueOr(set, features.KeyPRInterval, features.DefaultPRIntervalMS))
		},
		criteria: []string{
			"PR interval above 200 ms",
			"Constant PR prolongation across beats",
			"QRS morphology typically unchanged",
		},
		recommendations: []string{
			"Monitor conduction over time",
			"Review AV-nodal blocking agents",
		},
	},
	familyNormal: {
		narrate: func(label string, set features.Set) string {
			return fmt.Sprintf("The recording shows %s at %.0f bpm with rhythm and intervals within reference ranges.",
				label, valueOr(set, features.KeyHeartRate, features.DefaultHeartRateBPM))
		},
		criteria: []string{
			"Rate within 60 to 100 bpm",
			"Regular R-R intervals",
			"Normal interval durations",
		},
		recommendations: []string{
			"No acute intervention indicated",
			"Routine follow-up as clinically appropriate",
		},
	},
	familyDefault: {
		narrate: func(label string, set features.Set) string {
			return fmt.Sprintf("The recording shows %s at %.0f bpm. Correlate with the structured measurements in this report.",
				label, valueOr(set, features.KeyHeartRate, features.DefaultHeartRateBPM))
		},
		criteria: []string{
			"Review rate, intervals and ST measurements directly",
			"Compare against prior recordings when available",
		},
		recommendations: []string{
			"Clinical correlation recommended",
		},
	},
}

// importanceOrder lists the features eligible for the importance map and
// attribution blocks, most clinically salient first.
var importanceOrder = []string{
	features.KeyHeartRate,
	features.KeyQTInterval,
	features.KeyPRInterval,
	features.KeyQRSDuration,
	features.KeyRRMean,
	features.KeyRRStd,
	features.KeyRMSSD,
	features.KeyQTc,
	features.KeySTElevationMV,
	features.KeySpectralEntropy,
}

func importanceWeight(key string) float64 {
	switch key {
	case features.KeyHeartRate:
		return 0.3
	case features.KeyQTInterval:
		return 0.2
	case features.KeyPRInterval:
		return 0.15
	}
	return 0.1
}

// Generator assembles explanation bundles. Safe for concurrent use.
type Generator struct {
	source AttributionSource
}

// NewGenerator returns a generator backed by the given attribution
// source, or the built-in heuristic one when source is nil.
func NewGenerator(source AttributionSource) *Generator {
	if source == nil {
		source = heuristicSource{}
	}
	return &Generator{source: source}
}

// Generate builds the explanation for the given primary diagnosis. It
// never fails: an internal fault is reported as a warning and replaced
// with a generic bundle at neutral confidence.
func (g *Generator) Generate(m *waveform.Matrix, set features.Set, label string, confidence float64) (bundle Bundle, warnings []string) {
	defer func() {
		if r := recover(); r != nil {
			bundle = genericBundle(label)
			warnings = append(warnings, fmt.Sprintf("explain: internal fault (%v), generic bundle substituted", r))
		}
	}()

	tpl := templates[classifyFamily(label)]
	bundle = Bundle{
		PrimaryDiagnosis:    label,
		Confidence:          confidence,
		ClinicalExplanation: tpl.narrate(label, set),
		DiagnosticCriteria:  copyStrings(tpl.criteria),
		RiskFactors:         append(copyStrings(baselineRiskFactors), tpl.risks...),
		Recommendations:     copyStrings(tpl.recommendations),
		FeatureImportance:   importanceMap(set),
		LeadAttention:       g.source.LeadAttention(m),
		Attributions:        g.source.FeatureAttributions(set),
	}
	if confidence < correlationThreshold {
		bundle.Recommendations = append(bundle.Recommendations, correlationAdvice)
	}
	return bundle, nil
}

func importanceMap(set features.Set) map[string]float64 {
	out := make(map[string]float64, len(importanceOrder))
	for _, key := range importanceOrder {
		if _, ok := set[key]; ok {
			out[key] = importanceWeight(key)
		}
	}
	return out
}

func genericBundle(label string) Bundle {
	if label == "" {
		label = "Unspecified finding"
	}
	return Bundle{
		PrimaryDiagnosis:    label,
		Confidence:          neutralConfidence,
		ClinicalExplanation: "Automated interpretation could not be completed for this recording; manual review is advised.",
		DiagnosticCriteria:  []string{},
		RiskFactors:         copyStrings(baselineRiskFactors),
		Recommendations:     []string{correlationAdvice},
		FeatureImportance:   map[string]float64{},
	}
}

func valueOr(set features.Set, key string, fallback float64) float64 {
	if v, ok := set[key]; ok {
		return v
	}
	return fallback
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
