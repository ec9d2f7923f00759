package filter

import (
	"encoding/json"
	"fmt"
	"os"
)

// QueryGap records the genomes a single query was never found in.
type QueryGap struct {
	Genomes []string `json:"genomes"`
	Count   int      `json:"count"`
	Percent string   `json:"percent"`
}

// GenomeGap records the queries a single genome has no hit for.
type GenomeGap struct {
	Queries []string `json:"queries"`
	Count   int      `json:"count"`
	Percent string   `json:"percent"`
}

// QuerySummary is the query half of the decision report.
type QuerySummary struct {
	Names   []string            `json:"names"`
	Count   int                 `json:"count"`
	Missing map[string]QueryGap `json:"missing"`
}

// GenomeSummary is the genome half of the decision report.
type GenomeSummary struct {
	Names   []string             `json:"names"`
	Count   int                  `json:"count"`
	Indexes []int                `json:"indexes"`
	Missing map[string]GenomeGap `json:"missing"`
}

// Report is the persisted decision report. Percentages are formatted
// to two decimal places at report time; keep and drop decisions are
// made on the unrounded values.
type Report struct {
	Queries QuerySummary  `json:"queries"`
	Genomes GenomeSummary `json:"genomes"`
}

// LoadReport reads a previously persisted decision report.
func LoadReport(path string) (Report, error) {
	var rep Report
	data, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	if err := json.Unmarshal(data, &rep); err != nil {
		return rep, fmt.Errorf("corrupt decision report %s: %w", path, err)
	}
	return rep, nil
}

func percent(n, total int) (float64, string) {
	p := float64(n) / float64(total) * 100
	return p, fmt.Sprintf("%.2f", p)
}
