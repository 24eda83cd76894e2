package pipeline

// EventPayload flattens a record into the map published on the result
// topic. Routing fields sit at the top level so downstream consumers can
// react to urgency without decoding the full record.
func EventPayload(record *Record) map[string]interface{} {
	payload := map[string]interface{}{
		"analysis_id":   record.AnalysisID,
		"urgency":       string(record.Urgency),
		"category":      string(record.Level2.Category),
		"is_normal":     record.Level1.IsNormal,
		"confidence":    record.Level2.Confidence,
		"quality_score": record.Quality.OverallScore,
		"warning_count": len(record.Warnings),
		"record":        record,
	}
	if len(record.Level3) > 0 {
		primary := record.Level3[0]
		payload["primary_diagnosis"] = primary.Label
		payload["diagnosis_code"] = primary.Code
		payload["diagnosis_confidence"] = primary.Confidence
	}
	return payload
}
