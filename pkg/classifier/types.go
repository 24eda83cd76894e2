package classifier

type Category string

const (
	CategoryNormal     Category = "Normal"
	CategoryArrhythmia Category = "Arrhythmia"
	CategoryConduction Category = "ConductionAbnormality"
	CategoryIschemic   Category = "IschemicChange"
)

// Categories lists every valid Level-2 outcome in a fixed order.
var Categories = []Category{CategoryNormal, CategoryArrhythmia, CategoryConduction, CategoryIschemic}

func validCategory(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type Urgency string

const (
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

type Level1 struct {
	IsNormal         bool    `json:"is_normal"`
	Confidence       float64 `json:"confidence"`
	AbnormalityScore float64 `json:"abnormality_score"`
}

type Level2 struct {
	Category   Category             `json:"category"`
	Confidence float64              `json:"confidence"`
	Scores     map[Category]float64 `json:"scores"`
}

type Diagnosis struct {
	Label      string   `json:"diagnosis"`
	Confidence float64  `json:"confidence"`
	Code       string   `json:"code"`
	SNOMED     string   `json:"snomed,omitempty"`
	Category   Category `json:"source_category"`
}

// Result carries all three cascade levels and the derived urgency.
// Level3 is sorted descending by confidence; an empty list is the valid
// "no actionable finding" terminal state.
type Result struct {
	Level1  Level1      `json:"level1"`
	Level2  Level2      `json:"level2"`
	Level3  []Diagnosis `json:"level3"`
	Urgency Urgency     `json:"urgency"`
}

// Primary returns the ranked list head.
func (r Result) Primary() (Diagnosis, bool) {
	if len(r.Level3) == 0 {
		return Diagnosis{}, false
	}
	return r.Level3[0], true
}
