package classifier

import (
	"errors"
	"fmt"
	"io/ioutil"
	"math"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/drguilhermecapel/medai-sub005/pkg/features"
)

// ConfigError marks rule-table problems that must stop the process at
// startup. It is never produced during analysis.
type ConfigError struct {
	reason error
}

func (e ConfigError) Error() string {
	return e.reason.Error()
}

func (e ConfigError) Unwrap() error {
	return e.reason
}

func IsConfigError(err error) bool {
	var ce ConfigError
	return errors.As(err, &ce)
}

func configErr(format string, args ...interface{}) error {
	return ConfigError{reason: fmt.Errorf(format, args...)}
}

// Condition is one threshold test against a named feature. Bounds may be
// combined; all set bounds must hold. Flag features use above/below 0.5.
type Condition struct {
	Feature string   `yaml:"feature" json:"feature"`
	Above   *float64 `yaml:"above,omitempty" json:"above,omitempty"`
	Below   *float64 `yaml:"below,omitempty" json:"below,omitempty"`
	AtLeast *float64 `yaml:"at_least,omitempty" json:"at_least,omitempty"`
	AtMost  *float64 `yaml:"at_most,omitempty" json:"at_most,omitempty"`
}

func (c Condition) matches(set features.Set) bool {
	value, ok := set[c.Feature]
	if !ok {
		return false
	}
	if c.Above != nil && !(value > *c.Above) {
		return false
	}
	if c.Below != nil && !(value < *c.Below) {
		return false
	}
	if c.AtLeast != nil && !(value >= *c.AtLeast) {
		return false
	}
	if c.AtMost != nil && !(value <= *c.AtMost) {
		return false
	}
	return true
}

func (c Condition) validate() error {
	if c.Feature == "" {
		return fmt.Errorf("condition has no feature name")
	}
	bounds := 0
	for _, bound := range []*float64{c.Above, c.Below, c.AtLeast, c.AtMost} {
		if bound == nil {
			continue
		}
		bounds++
		if math.IsNaN(*bound) || math.IsInf(*bound, 0) {
			return fmt.Errorf("condition on %q has a non-finite bound", c.Feature)
		}
	}
	if bounds == 0 {
		return fmt.Errorf("condition on %q has no bounds", c.Feature)
	}
	return nil
}

// CategoryRule is one entry of the Level-2 priority chain. AllOf conditions
// are conjoined; when AnyOf is present at least one of them must also hold.
// A rule with no conditions always matches, which is only legal for the
// final (default) entry of the chain.
type CategoryRule struct {
	Name       string      `yaml:"name" json:"name"`
	AllOf      []Condition `yaml:"all_of,omitempty" json:"all_of,omitempty"`
	AnyOf      []Condition `yaml:"any_of,omitempty" json:"any_of,omitempty"`
	Category   Category    `yaml:"category" json:"category"`
	Confidence float64     `yaml:"confidence" json:"confidence"`
}

func (r CategoryRule) matches(set features.Set) bool {
	for _, c := range r.AllOf {
		if !c.matches(set) {
			return false
		}
	}
	if len(r.AnyOf) == 0 {
		return true
	}
	for _, c := range r.AnyOf {
		if c.matches(set) {
			return true
		}
	}
	return false
}

func (r CategoryRule) unconditional() bool {
	return len(r.AllOf) == 0 && len(r.AnyOf) == 0
}

// DiagnosisRule is one entry of a Level-3 category table. All matching
// rules of the winning category contribute to the ranked diagnosis list.
type DiagnosisRule struct {
	Name       string      `yaml:"name" json:"name"`
	Category   Category    `yaml:"category" json:"category"`
	AllOf      []Condition `yaml:"all_of,omitempty" json:"all_of,omitempty"`
	AnyOf      []Condition `yaml:"any_of,omitempty" json:"any_of,omitempty"`
	Diagnosis  string      `yaml:"diagnosis" json:"diagnosis"`
	Confidence float64     `yaml:"confidence" json:"confidence"`
}

func (r DiagnosisRule) matches(set features.Set) bool {
	return CategoryRule{AllOf: r.AllOf, AnyOf: r.AnyOf}.matches(set)
}

// Level1Config holds the normal/abnormal screening envelope. Interval
// bounds are inclusive, the rr_std bound is exclusive.
type Level1Config struct {
	HeartRateMin       float64 `yaml:"heart_rate_min" json:"heart_rate_min"`
	HeartRateMax       float64 `yaml:"heart_rate_max" json:"heart_rate_max"`
	RRStdMax           float64 `yaml:"rr_std_max" json:"rr_std_max"`
	QTMin              float64 `yaml:"qt_min" json:"qt_min"`
	QTMax              float64 `yaml:"qt_max" json:"qt_max"`
	NormalConfidence   float64 `yaml:"normal_confidence" json:"normal_confidence"`
	AbnormalConfidence float64 `yaml:"abnormal_confidence" json:"abnormal_confidence"`
}

type RuleConfig struct {
	Level1  Level1Config    `yaml:"level1" json:"level1"`
	Level2  []CategoryRule  `yaml:"level2" json:"level2"`
	Level3  []DiagnosisRule `yaml:"level3" json:"level3"`
	Catalog Catalog         `yaml:"catalog" json:"catalog"`
}

// Load reads a rule configuration from a yaml file, or returns the
// defaults when the path is empty. The result is not yet validated;
// NewEngine does that.
func Load(path string) (RuleConfig, error) {
	if path == "" {
		return DefaultRuleConfig(), nil
	}
	content, err := ioutil.ReadFile(filepath.Clean(path))
	if err != nil {
		return RuleConfig{}, configErr("read rule config: %v", err)
	}
	var cfg RuleConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return RuleConfig{}, configErr("parse rule config: %v", err)
	}
	if cfg.Catalog.Concepts == nil {
		cfg.Catalog = DefaultCatalog()
	}
	return cfg, nil
}

func (cfg RuleConfig) Validate() error {
	l1 := cfg.Level1
	for name, conf := range map[string]float64{"normal": l1.NormalConfidence, "abnormal": l1.AbnormalConfidence} {
		if conf <= 0 || conf > 1 {
			return configErr("level1 %s confidence %v outside (0,1]", name, conf)
		}
	}
	if l1.HeartRateMin >= l1.HeartRateMax {
		return configErr("level1 heart rate band [%v,%v] is empty", l1.HeartRateMin, l1.HeartRateMax)
	}
	if l1.QTMin >= l1.QTMax {
		return configErr("level1 QT band [%v,%v] is empty", l1.QTMin, l1.QTMax)
	}
	if l1.RRStdMax <= 0 {
		return configErr("level1 rr_std bound must be positive, got %v", l1.RRStdMax)
	}

	if len(cfg.Level2) == 0 {
		return configErr("level2 chain is empty")
	}
	for i, rule := range cfg.Level2 {
		if !validCategory(rule.Category) {
			return configErr("level2 rule %d (%s): unknown category %q", i, rule.Name, rule.Category)
		}
		if rule.Confidence <= 0 || rule.Confidence > 1 {
			return configErr("level2 rule %d (%s): confidence %v outside (0,1]", i, rule.Name, rule.Confidence)
		}
		for _, c := range append(append([]Condition{}, rule.AllOf...), rule.AnyOf...) {
			if err := c.validate(); err != nil {
				return configErr("level2 rule %d (%s): %v", i, rule.Name, err)
			}
		}
		last := i == len(cfg.Level2)-1
		if last && !rule.unconditional() {
			return configErr("level2 chain must end with an unconditional default rule")
		}
		if !last && rule.unconditional() {
			return configErr("level2 rule %d (%s): only the final rule may be unconditional", i, rule.Name)
		}
	}

	for i, rule := range cfg.Level3 {
		if !validCategory(rule.Category) {
			return configErr("level3 rule %d (%s): unknown category %q", i, rule.Name, rule.Category)
		}
		if rule.Confidence <= 0 || rule.Confidence > 1 {
			return configErr("level3 rule %d (%s): confidence %v outside (0,1]", i, rule.Name, rule.Confidence)
		}
		if _, ok := cfg.Catalog.Lookup(rule.Diagnosis); !ok {
			return configErr("level3 rule %d (%s): diagnosis %q not in catalog", i, rule.Name, rule.Diagnosis)
		}
		for _, c := range append(append([]Condition{}, rule.AllOf...), rule.AnyOf...) {
			if err := c.validate(); err != nil {
				return configErr("level3 rule %d (%s): %v", i, rule.Name, err)
			}
		}
	}

	if err := cfg.Catalog.validate(); err != nil {
		return configErr("%v", err)
	}
	return nil
}

func f(v float64) *float64 { return &v }

// DefaultRuleConfig is the hand-tuned clinical rule set. The priority
// order and confidence constants are behavioural contracts validated
// against clinical output; changing them is a clinical-validation concern,
// not a refactor.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		Level1: Level1Config{
			HeartRateMin:       60,
			HeartRateMax:       100,
			RRStdMax:           100,
			QTMin:              350,
			QTMax:              450,
			NormalConfidence:   0.9,
			AbnormalConfidence: 0.8,
		},
		Level2: []CategoryRule{
			{
				Name:       "severe-tachycardia",
				AllOf:      []Condition{{Feature: features.KeyHeartRate, Above: f(150)}},
				Category:   CategoryArrhythmia,
				Confidence: 0.9,
			},
			{
				Name:       "severe-bradycardia",
				AllOf:      []Condition{{Feature: features.KeyHeartRate, Below: f(50)}},
				Category:   CategoryConduction,
				Confidence: 0.85,
			},
			{
				Name:       "rr-variability",
				AllOf:      []Condition{{Feature: features.KeyRRStd, Above: f(200)}},
				Category:   CategoryArrhythmia,
				Confidence: 0.8,
			},
			{
				Name: "interval-prolongation",
				AnyOf: []Condition{
					{Feature: features.KeyPRInterval, Above: f(200)},
					{Feature: features.KeyQRSDuration, Above: f(120)},
				},
				Category:   CategoryConduction,
				Confidence: 0.8,
			},
			{
				Name:       "st-elevation",
				AllOf:      []Condition{{Feature: features.KeySTElevation, Above: f(0.5)}},
				Category:   CategoryIschemic,
				Confidence: 0.9,
			},
			{
				Name:       "default-normal",
				Category:   CategoryNormal,
				Confidence: 0.85,
			},
		},
		Level3: []DiagnosisRule{
			{
				Name:     "atrial-fibrillation",
				Category: CategoryArrhythmia,
				AllOf: []Condition{
					{Feature: features.KeyHeartRate, Above: f(150)},
					{Feature: features.KeyIrregularRhythm, Above: f(0.5)},
				},
				Diagnosis:  "atrial_fibrillation",
				Confidence: 0.85,
			},
			{
				Name:     "sinus-tachycardia",
				Category: CategoryArrhythmia,
				AllOf: []Condition{
					{Feature: features.KeyHeartRate, Above: f(150)},
					{Feature: features.KeyIrregularRhythm, Below: f(0.5)},
				},
				Diagnosis:  "sinus_tachycardia",
				Confidence: 0.8,
			},
			{
				Name:     "supraventricular-tachycardia",
				Category: CategoryArrhythmia,
				AllOf: []Condition{
					{Feature: features.KeyHeartRate, Above: f(100)},
					{Feature: features.KeyHeartRate, AtMost: f(150)},
				},
				Diagnosis:  "supraventricular_tachycardia",
				Confidence: 0.75,
			},
			{
				Name:       "sinus-bradycardia",
				Category:   CategoryConduction,
				AllOf:      []Condition{{Feature: features.KeyHeartRate, Below: f(50)}},
				Diagnosis:  "sinus_bradycardia",
				Confidence: 0.8,
			},
			{
				Name:       "first-degree-av-block",
				Category:   CategoryConduction,
				AllOf:      []Condition{{Feature: features.KeyPRInterval, Above: f(200)}},
				Diagnosis:  "first_degree_av_block",
				Confidence: 0.85,
			},
			{
				Name:       "stemi",
				Category:   CategoryIschemic,
				AllOf:      []Condition{{Feature: features.KeySTElevation, Above: f(0.5)}},
				Diagnosis:  "stemi",
				Confidence: 0.9,
			},
			{
				Name:       "nstemi",
				Category:   CategoryIschemic,
				AllOf:      []Condition{{Feature: features.KeySTElevation, Below: f(0.5)}},
				Diagnosis:  "nstemi",
				Confidence: 0.8,
			},
		},
		Catalog: DefaultCatalog(),
	}
}
