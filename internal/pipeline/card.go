package pipeline

import (
	"corpus-pipeline/internal/models"
	"corpus-pipeline/internal/split"
)

// Card is the manifest of one run: parameters, counts and language coverage.
type Card struct {
	RunID        string        `json:"run_id"`
	CreatedAtUTC string        `json:"created_at_utc"`
	JobName      string        `json:"job_name"`
	Counts       models.Counts `json:"counts"`
	Filters      CardFilters   `json:"filters"`
	Modes        CardModes     `json:"modes"`
	Langs        CardLangs     `json:"langs"`
	Window       CardWindow    `json:"window"`
	Notes        string        `json:"notes"`
	Columns      []string      `json:"columns"`
	License      string        `json:"license"`
	Splits       CardSplits    `json:"splits"`
}

type CardFilters struct {
	LangIDMinProb       float64   `json:"langid_min_prob"`
	LangIDMinMargin     float64   `json:"langid_min_margin"`
	SkipShortWords      int       `json:"skip_short_words"`
	SkipSymboly         bool      `json:"skip_symboly"`
	SkipLenCheckIfShort int       `json:"skip_len_check_if_short"`
	LenRatio            []float64 `json:"len_ratio"`
	DupNearJaccard      float64   `json:"dup_near_jaccard"`
	DupNearKey          string    `json:"dup_near_key"`
}

type CardModes struct {
	SampleSize *int `json:"sample_size"`
}

type CardLangs struct {
	Source []string `json:"source"`
	Target []string `json:"target"`
}

// CardWindow records the extraction window the run consumed.
type CardWindow struct {
	From models.Watermark  `json:"from"`
	To   *models.Watermark `json:"to"`
}

type CardSplits struct {
	Counts map[string]int `json:"counts"`
	Seed   int64          `json:"seed"`
	Frac   []float64      `json:"frac"`
}

var cardColumns = []string{"id", "source_text", "target_text", "source_lang", "target_lang", "created_at"}

func newCard(runID, createdAt string, p Params, sampleSize int, counts models.Counts, clean []models.Row, splits split.Splits, window CardWindow) Card {
	var sample *int
	if sampleSize > 0 {
		sample = &sampleSize
	}
	return Card{
		RunID:        runID,
		CreatedAtUTC: createdAt,
		JobName:      p.JobName,
		Counts:       counts,
		Filters: CardFilters{
			LangIDMinProb:       p.LangIDMinProb,
			LangIDMinMargin:     p.LangIDMinMargin,
			SkipShortWords:      p.SkipShortWords,
			SkipSymboly:         p.SkipSymboly,
			SkipLenCheckIfShort: p.SkipLenCheckIfShort,
			LenRatio:            []float64{p.LenLow, p.LenHigh},
			DupNearJaccard:      p.DupNearJaccard,
			DupNearKey:          p.DupNearKey,
		},
		Modes: CardModes{SampleSize: sample},
		Langs: CardLangs{
			Source: distinct(clean, func(r models.Row) string { return r.SourceLang }),
			Target: distinct(clean, func(r models.Row) string { return r.TargetLang }),
		},
		Window:  window,
		Notes:   "normalize + lang-id + quality filters + near-dup + splits",
		Columns: cardColumns,
		License: "internal",
		Splits: CardSplits{
			Counts: splits.Sizes(),
			Seed:   p.SplitSeed,
			Frac:   p.Fractions.Slice(),
		},
	}
}
