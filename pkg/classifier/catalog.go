package classifier

import (
	"fmt"
	"strings"
)

// Concept is one diagnosable finding with its code-system identifiers.
// The urgency flags drive the precedence scan in DeriveUrgency, so a new
// catalog entry inherits urgency behaviour without touching the scanner.
type Concept struct {
	Label  string `yaml:"label" json:"label"`
	ICD10  string `yaml:"icd10" json:"icd10"`
	SNOMED string `yaml:"snomed" json:"snomed"`

	Tachycardia bool `yaml:"tachycardia,omitempty" json:"tachycardia,omitempty"`
	Critical    bool `yaml:"critical,omitempty" json:"critical,omitempty"`
	Medium      bool `yaml:"medium,omitempty" json:"medium,omitempty"`
}

type Catalog struct {
	Concepts map[string]Concept `yaml:"concepts" json:"concepts"`
}

func (c Catalog) Lookup(key string) (Concept, bool) {
	if c.Concepts == nil {
		return Concept{}, false
	}
	concept, ok := c.Concepts[strings.ToLower(strings.TrimSpace(key))]
	return concept, ok
}

func (c Catalog) validate() error {
	if len(c.Concepts) == 0 {
		return fmt.Errorf("diagnosis catalog empty")
	}
	codes := make(map[string]string)
	for key, concept := range c.Concepts {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("diagnosis catalog has an empty key")
		}
		if concept.Label == "" {
			return fmt.Errorf("diagnosis %q has no label", key)
		}
		if concept.ICD10 == "" {
			return fmt.Errorf("diagnosis %q has no ICD-10 code", key)
		}
		if prev, dup := codes[concept.ICD10]; dup {
			return fmt.Errorf("diagnoses %q and %q share ICD-10 code %s", prev, key, concept.ICD10)
		}
		codes[concept.ICD10] = key
	}
	return nil
}

// DefaultCatalog covers the findings the default rule tables can produce,
// plus the critical ventricular rhythms so that externally configured
// rules land on the right urgency.
func DefaultCatalog() Catalog {
	return Catalog{Concepts: map[string]Concept{
		"atrial_fibrillation": {
			Label:       "Atrial Fibrillation",
			ICD10:       "I48.91",
			SNOMED:      "49436004",
			Tachycardia: true,
			Medium:      true,
		},
		"sinus_tachycardia": {
			Label:       "Sinus Tachycardia",
			ICD10:       "R00.0",
			SNOMED:      "11092001",
			Tachycardia: true,
		},
		"supraventricular_tachycardia": {
			Label:       "Supraventricular Tachycardia",
			ICD10:       "I47.1",
			SNOMED:      "6456007",
			Tachycardia: true,
		},
		"sinus_bradycardia": {
			Label:  "Sinus Bradycardia",
			ICD10:  "R00.1",
			SNOMED: "49710005",
		},
		"first_degree_av_block": {
			Label:  "First Degree AV Block",
			ICD10:  "I44.0",
			SNOMED: "270492004",
			Medium: true,
		},
		"stemi": {
			Label:    "ST Elevation Myocardial Infarction",
			ICD10:    "I21.3",
			SNOMED:   "401303003",
			Critical: true,
		},
		"nstemi": {
			Label:  "Non-ST Elevation Myocardial Infarction",
			ICD10:  "I21.4",
			SNOMED: "401314000",
			Medium: true,
		},
		"ventricular_tachycardia": {
			Label:       "Ventricular Tachycardia",
			ICD10:       "I47.2",
			SNOMED:      "25569003",
			Tachycardia: true,
			Critical:    true,
		},
		"ventricular_fibrillation": {
			Label:    "Ventricular Fibrillation",
			ICD10:    "I49.01",
			SNOMED:   "71908006",
			Critical: true,
		},
	}}
}
