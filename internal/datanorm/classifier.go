package datanorm

import (
	"strings"
)

// Classifier determines whether an uploaded report is a commission statement
// or a delinquency (arrears) listing from its filename and header row.
type Classifier struct{}

func NewClassifier() *Classifier {
	return &Classifier{}
}

// reportSignals are the substrings that point at one report kind. Filename
// hits weigh more than header hits.
type reportSignals struct {
	kind     ReportKind
	filename []string
	headers  []string
}

const filenameWeight = 2

var classifierSignals = []reportSignals{
	{
		kind:     ReportCommission,
		filename: []string{"comision", "comisión", "commission", "honorario", "liquidacion", "liquidación"},
		headers:  []string{"comision", "comisión", "commission", "honorario", "% com", "prima neta", "premium"},
	},
	{
		kind:     ReportDelinquency,
		filename: []string{"mora", "morosidad", "atraso", "delinq", "arrears", "cartera", "vencid"},
		headers:  []string{"mora", "atraso", "vencid", "saldo", "balance", "overdue", "arrears"},
	},
}

// score counts keyword hits for one kind. Each header column counts once.
func (sig reportSignals) score(filename string, headerRow []string) int {
	n := 0
	for _, kw := range sig.filename {
		if strings.Contains(filename, kw) {
			n += filenameWeight
		}
	}
	for _, h := range headerRow {
		key := columnKey(h)
		for _, kw := range sig.headers {
			if strings.Contains(key, kw) {
				n++
				break
			}
		}
	}
	return n
}

// Classify scores the filename and header row against both report kinds and
// returns the higher one. Ties, including no signal at all, go to commission.
func (c *Classifier) Classify(filename string, headerRow []string) ReportKind {
	nameLower := strings.ToLower(filename)

	best, bestScore := ReportCommission, 0
	for _, sig := range classifierSignals {
		if s := sig.score(nameLower, headerRow); s > bestScore {
			best, bestScore = sig.kind, s
		}
	}
	return best
}
