package domain

// NormalizedRow is one canonical commission record.
type NormalizedRow struct {
	Policy     string  `json:"policy"`
	Insured    string  `json:"insured"`
	Commission float64 `json:"commission"`
	Status     string  `json:"status,omitempty"`
	Days       float64 `json:"days,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
}

// NormalizedDelinquencyRow is one canonical delinquency record. Amount holds
// the carrier's balance column.
type NormalizedDelinquencyRow struct {
	Policy  string  `json:"policy"`
	Insured string  `json:"insured"`
	Days    float64 `json:"days,omitempty"`
	Amount  float64 `json:"amount,omitempty"`
	Status  string  `json:"status,omitempty"`
}
