package types

// SentinelHSCode is substituted when classification of an item fails.
const SentinelHSCode = "0000.00.000"

// Confidence tier boundaries (percent).
const (
	HighConfidenceThreshold   = 80
	MediumConfidenceThreshold = 40
)

// Item is one row prepared for classification.
type Item struct {
	RowIndex    int               `json:"row_index"`
	ProductName string            `json:"product_name"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Result is the structured output of one classification call.
type Result struct {
	HSCode       string   `json:"hs_code"`
	Confidence   int      `json:"confidence"`
	Description  string   `json:"description"`
	Reasoning    string   `json:"reasoning"`
	Alternatives []string `json:"alternative_codes"`
}

// Tier returns the confidence tier label for r: "high", "medium" or "low".
func (r Result) Tier() string {
	return ConfidenceTier(r.Confidence)
}

// ConfidenceTier maps a 0-100 confidence to its tier label.
func ConfidenceTier(confidence int) string {
	switch {
	case confidence >= HighConfidenceThreshold:
		return "high"
	case confidence >= MediumConfidenceThreshold:
		return "medium"
	default:
		return "low"
	}
}

// BatchStats summarizes one orchestrator run.
type BatchStats struct {
	TotalItems        int     `json:"total_items"`
	Successful        int     `json:"successful_classifications"`
	HighConfidence    int     `json:"high_confidence_results"`
	AverageConfidence float64 `json:"average_confidence"`
}

// BatchRun is the aggregate outcome of one batch invocation. Results is
// index-aligned with the submitted items; an item is never dropped.
type BatchRun struct {
	ID      string     `json:"id"`
	Results []Result   `json:"results"`
	Errors  []string   `json:"errors"`
	Stats   BatchStats `json:"processing_stats"`
}
