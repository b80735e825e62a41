package pipeline

import (
	"corpus-pipeline/internal/config"
	"corpus-pipeline/internal/filter"
	"corpus-pipeline/internal/langid"
	"corpus-pipeline/internal/split"
)

// Params are the tunables of one cleaning run. They are recorded in the run card.
type Params struct {
	JobName             string
	LangIDMinProb       float64
	LangIDMinMargin     float64
	SkipShortWords      int
	SkipSymboly         bool
	LenLow              float64
	LenHigh             float64
	SkipLenCheckIfShort int
	DupNearJaccard      float64
	DupNearKey          string
	SplitSeed           int64
	Fractions           split.Fractions
}

// ParamsFromConfig maps the pipeline section of the configuration.
func ParamsFromConfig(c config.Pipeline) Params {
	return Params{
		JobName:             c.JobName,
		LangIDMinProb:       c.LangIDMinProb,
		LangIDMinMargin:     c.LangIDMinMargin,
		SkipShortWords:      c.SkipShortWords,
		SkipSymboly:         c.SkipSymboly,
		LenLow:              c.LenRatioLow,
		LenHigh:             c.LenRatioHigh,
		SkipLenCheckIfShort: c.SkipLenCheckIfShort,
		DupNearJaccard:      c.DupNearJaccard,
		DupNearKey:          c.DupNearKey,
		SplitSeed:           c.SplitSeed,
		Fractions:           c.Fractions(),
	}
}

// DefaultStages is the fixed filter order: language-ID, quality, near-duplicate.
func DefaultStages(p Params, classifier langid.Classifier) []filter.Stage {
	return []filter.Stage{
		filter.Language{
			Classifier:     classifier,
			MinProb:        p.LangIDMinProb,
			MinMargin:      p.LangIDMinMargin,
			SkipShortWords: p.SkipShortWords,
			SkipSymboly:    p.SkipSymboly,
		},
		filter.Quality{
			LenLow:              p.LenLow,
			LenHigh:             p.LenHigh,
			SkipLenCheckIfShort: p.SkipLenCheckIfShort,
		},
		filter.NearDuplicate{
			KeyField:  p.DupNearKey,
			Threshold: p.DupNearJaccard,
		},
	}
}
