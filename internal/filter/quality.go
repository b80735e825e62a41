package filter

import (
	"strings"

	"corpus-pipeline/internal/models"
)

// Quality drops empty pairs, implausible length ratios and exact duplicates.
type Quality struct {
	LenLow              float64
	LenHigh             float64
	SkipLenCheckIfShort int
}

func (Quality) Name() string { return "bad" }

type pairKey struct {
	source, target string
}

// Apply runs the three checks in order; a row leaves at the first failing check.
// The exact-duplicate set spans the whole batch so the first occurrence wins.
func (q Quality) Apply(rows []models.Row) Result {
	res := Result{
		Stats: map[string]int{
			models.CountDroppedEmpty: 0,
			models.CountDroppedLen:   0,
			models.CountDroppedDup:   0,
		},
	}
	seen := make(map[pairKey]struct{}, len(rows))

	for _, r := range rows {
		if strings.TrimSpace(r.SourceText) == "" || strings.TrimSpace(r.TargetText) == "" {
			res.Stats[models.CountDroppedEmpty]++
			res.Drops = append(res.Drops, models.Drop{Row: r, Reason: models.ReasonEmpty})
			continue
		}

		sw, tw := len(strings.Fields(r.SourceText)), len(strings.Fields(r.TargetText))
		if sw > q.SkipLenCheckIfShort && tw > q.SkipLenCheckIfShort {
			ratio := float64(sw) / float64(max(1, tw))
			if ratio < q.LenLow || ratio > q.LenHigh {
				res.Stats[models.CountDroppedLen]++
				res.Drops = append(res.Drops, models.Drop{
					Row:      r,
					Reason:   models.ReasonLenRatio,
					Ratio:    ptr(round3(ratio)),
					SrcWords: ptr(sw),
					TgtWords: ptr(tw),
				})
				continue
			}
		}

		key := pairKey{r.SourceText, r.TargetText}
		if _, dup := seen[key]; dup {
			res.Stats[models.CountDroppedDup]++
			res.Drops = append(res.Drops, models.Drop{Row: r, Reason: models.ReasonDupExact})
			continue
		}
		seen[key] = struct{}{}
		res.Kept = append(res.Kept, r)
	}
	return res
}
