package classifier

import (
	"fmt"
	"sort"

	"github.com/drguilhermecapel/medai-sub005/pkg/features"
)

// Engine evaluates the three-level cascade. It is immutable after
// construction and safe for concurrent use across analyses.
type Engine struct {
	level1  Level1Config
	level2  []CategoryRule
	level3  map[Category][]DiagnosisRule
	catalog Catalog
}

func NewEngine(cfg RuleConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	byCategory := make(map[Category][]DiagnosisRule)
	for _, rule := range cfg.Level3 {
		byCategory[rule.Category] = append(byCategory[rule.Category], rule)
	}
	return &Engine{
		level1:  cfg.Level1,
		level2:  append([]CategoryRule(nil), cfg.Level2...),
		level3:  byCategory,
		catalog: cfg.Catalog,
	}, nil
}

// Classify runs all three levels and the urgency derivation. Every level
// absorbs its own faults: a degraded level reports a warning and yields
// its conservative default without blocking the levels after it.
func (e *Engine) Classify(set features.Set) (Result, []string) {
	var warnings []string
	l1 := e.classifyLevel1(set, &warnings)
	l2 := e.classifyLevel2(set, &warnings)
	l3 := e.classifyLevel3(set, l2.Category, &warnings)
	urgency := e.deriveUrgency(l3, &warnings)
	return Result{Level1: l1, Level2: l2, Level3: l3, Urgency: urgency}, warnings
}

func (e *Engine) classifyLevel1(set features.Set, warnings *[]string) (out Level1) {
	defer func() {
		if r := recover(); r != nil {
			out = Level1{IsNormal: true, Confidence: 0.5, AbnormalityScore: 0.5}
			*warnings = append(*warnings, fmt.Sprintf("classifier: level1 fault (%v), conservative default substituted", r))
		}
	}()

	hr := set[features.KeyHeartRate]
	rrStd := set[features.KeyRRStd]
	qt := set[features.KeyQTInterval]
	normal := hr >= e.level1.HeartRateMin && hr <= e.level1.HeartRateMax &&
		rrStd < e.level1.RRStdMax &&
		qt >= e.level1.QTMin && qt <= e.level1.QTMax
	if normal {
		return Level1{IsNormal: true, Confidence: e.level1.NormalConfidence, AbnormalityScore: 0.1}
	}
	return Level1{IsNormal: false, Confidence: e.level1.AbnormalConfidence, AbnormalityScore: 0.8}
}

// classifyLevel2 walks the priority chain. The first matching rule decides
// the category; the score map records the best matching confidence per
// category across the whole chain.
func (e *Engine) classifyLevel2(set features.Set, warnings *[]string) (out Level2) {
	defer func() {
		if r := recover(); r != nil {
			out = Level2{Category: CategoryNormal, Confidence: 0.5, Scores: zeroScores()}
			*warnings = append(*warnings, fmt.Sprintf("classifier: level2 fault (%v), Normal substituted", r))
		}
	}()

	scores := zeroScores()
	var winner *CategoryRule
	for i := range e.level2 {
		if !e.level2[i].matches(set) {
			continue
		}
		rule := e.level2[i]
		if rule.Confidence > scores[rule.Category] {
			scores[rule.Category] = rule.Confidence
		}
		if winner == nil {
			winner = &e.level2[i]
		}
	}
	if winner == nil {
		// Unreachable with a validated chain: the default rule matches.
		return Level2{Category: CategoryNormal, Confidence: 0.5, Scores: scores}
	}
	return Level2{Category: winner.Category, Confidence: winner.Confidence, Scores: scores}
}

// classifyLevel3 collects every matching rule of the winning category and
// ranks the findings by confidence, rule order breaking ties.
func (e *Engine) classifyLevel3(set features.Set, category Category, warnings *[]string) (out []Diagnosis) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			*warnings = append(*warnings, fmt.Sprintf("classifier: level3 fault (%v), empty diagnosis list substituted", r))
		}
	}()

	var list []Diagnosis
	for _, rule := range e.level3[category] {
		if !rule.matches(set) {
			continue
		}
		concept, ok := e.catalog.Lookup(rule.Diagnosis)
		if !ok {
			continue
		}
		list = append(list, Diagnosis{
			Label:      concept.Label,
			Confidence: rule.Confidence,
			Code:       concept.ICD10,
			SNOMED:     concept.SNOMED,
			Category:   category,
		})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Confidence > list[j].Confidence })
	return list
}

func (e *Engine) deriveUrgency(diagnoses []Diagnosis, warnings *[]string) (out Urgency) {
	defer func() {
		if r := recover(); r != nil {
			out = UrgencyLow
			*warnings = append(*warnings, fmt.Sprintf("classifier: urgency fault (%v), LOW substituted", r))
		}
	}()
	return DeriveUrgency(diagnoses, e.catalog)
}

// DeriveUrgency applies the fixed precedence scan: any critical finding
// wins outright, then any tachycardia above 0.8 confidence, then any
// medium-priority finding. Later matches never downgrade earlier ones.
func DeriveUrgency(diagnoses []Diagnosis, catalog Catalog) Urgency {
	byCode := make(map[string]Concept, len(catalog.Concepts))
	for _, concept := range catalog.Concepts {
		byCode[concept.ICD10] = concept
	}

	for _, d := range diagnoses {
		if byCode[d.Code].Critical {
			return UrgencyCritical
		}
	}
	for _, d := range diagnoses {
		if byCode[d.Code].Tachycardia && d.Confidence > 0.8 {
			return UrgencyHigh
		}
	}
	for _, d := range diagnoses {
		if byCode[d.Code].Medium {
			return UrgencyMedium
		}
	}
	return UrgencyLow
}

func zeroScores() map[Category]float64 {
	scores := make(map[Category]float64, len(Categories))
	for _, c := range Categories {
		scores[c] = 0
	}
	return scores
}
