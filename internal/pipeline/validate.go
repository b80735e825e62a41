package pipeline

import (
	"fmt"
	"sort"

	"corpus-pipeline/internal/models"
	"corpus-pipeline/internal/split"
)

// Report is the post-run validation outcome written to _validate.json.
type Report struct {
	OK     bool     `json:"ok"`
	Issues []string `json:"issues"`
}

// Validate checks the bookkeeping and split invariants of a finished run.
func Validate(clean []models.Row, counts models.Counts, splits split.Splits) Report {
	issues := []string{}

	dropped := counts.Dropped()
	if counts[models.CountExported]-dropped != counts[models.CountClean] {
		issues = append(issues, fmt.Sprintf("Counts mismatch: exported(%d) - drops(%d) != clean(%d)",
			counts[models.CountExported], dropped, counts[models.CountClean]))
	}

	sizes := splits.Sizes()
	if total := sizes[split.Train] + sizes[split.Dev] + sizes[split.Test]; total != len(clean) {
		issues = append(issues, fmt.Sprintf("Splits sum mismatch: %v vs clean %d", sizes, len(clean)))
	}

	for i := 0; i < len(split.Names); i++ {
		for j := i + 1; j < len(split.Names); j++ {
			a, b := split.Names[i], split.Names[j]
			if n := overlap(splits[a], splits[b], func(r models.Row) any { return r.ID }); n > 0 {
				issues = append(issues, fmt.Sprintf("Split leakage between %s and %s: %d ids", a, b, n))
			}
		}
	}

	pairs := make(map[[2]string]struct{}, len(clean))
	for _, r := range clean {
		pairs[[2]string{r.SourceText, r.TargetText}] = struct{}{}
	}
	if len(pairs) != len(clean) {
		issues = append(issues, "Residual duplicate (source_text,target_text) pairs detected after filters")
	}

	if n := sourceOverlap(splits); n > 0 {
		issues = append(issues, fmt.Sprintf("Source text appears in multiple splits: %d overlaps", n))
	}

	return Report{OK: len(issues) == 0, Issues: issues}
}

func overlap(a, b []models.Row, key func(models.Row) any) int {
	set := make(map[any]struct{}, len(a))
	for _, r := range a {
		set[key(r)] = struct{}{}
	}
	hits := make(map[any]struct{})
	for _, r := range b {
		if _, ok := set[key(r)]; ok {
			hits[key(r)] = struct{}{}
		}
	}
	return len(hits)
}

func sourceOverlap(splits split.Splits) int {
	owners := map[string]map[string]struct{}{}
	for _, name := range split.Names {
		for _, r := range splits[name] {
			if owners[r.SourceText] == nil {
				owners[r.SourceText] = map[string]struct{}{}
			}
			owners[r.SourceText][name] = struct{}{}
		}
	}
	n := 0
	for _, in := range owners {
		if len(in) > 1 {
			n++
		}
	}
	return n
}

// checkWindow verifies the extracted batch lies strictly after the cursor in
// ascending (approved_at, id) order.
func checkWindow(from models.Watermark, batch []models.Row) []string {
	var issues []string
	prev := from
	for i, r := range batch {
		if !prev.Less(r.Watermark()) {
			issues = append(issues, fmt.Sprintf("Extraction order violated at position %d (id %d)", i, r.ID))
			break
		}
		prev = r.Watermark()
	}
	return issues
}

func distinct(rows []models.Row, field func(models.Row) string) []string {
	set := map[string]struct{}{}
	for _, r := range rows {
		set[field(r)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
