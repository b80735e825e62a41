package filter

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"corpus-pipeline/internal/langid"
	"corpus-pipeline/internal/models"
)

const minLetterFraction = 0.4

var letterRun = regexp.MustCompile(`\p{L}+`)

// Language drops rows whose source text is confidently classified as a
// language other than the declared one. Inconclusive mismatches are kept.
type Language struct {
	Classifier     langid.Classifier
	MinProb        float64
	MinMargin      float64
	SkipShortWords int
	SkipSymboly    bool
}

func (Language) Name() string { return "lang" }

func (l Language) Apply(rows []models.Row) Result {
	res := Result{
		Stats: map[string]int{
			models.CountChecked:     0,
			models.CountDroppedLang: 0,
			models.CountKeptLowConf: 0,
		},
	}

	for _, r := range rows {
		if l.trustMetadata(r) {
			res.Kept = append(res.Kept, r)
			continue
		}

		d := l.Classifier.Classify(r.SourceText)
		res.Stats[models.CountChecked]++
		confident := d.Prob >= l.MinProb && d.Margin >= l.MinMargin

		if strings.EqualFold(d.Label, r.SourceLang) {
			if !confident {
				res.Stats[models.CountKeptLowConf]++
			}
			res.Kept = append(res.Kept, r)
			continue
		}
		if !confident {
			res.Stats[models.CountKeptLowConf]++
			res.Kept = append(res.Kept, r)
			continue
		}
		res.Stats[models.CountDroppedLang]++
		res.Drops = append(res.Drops, models.Drop{
			Row:      r,
			Reason:   models.ReasonLangMismatch,
			Detected: d.Label,
			Prob:     ptr(d.Prob),
			Margin:   ptr(d.Margin),
		})
	}
	return res
}

// trustMetadata is true when the classifier is not consulted at all.
func (l Language) trustMetadata(r models.Row) bool {
	if !l.Classifier.Supports(r.SourceLang) {
		return true
	}
	if wordCount(r.SourceText) < l.SkipShortWords {
		return true
	}
	return l.SkipSymboly && mostlySymbolsOrDigits(r.SourceText)
}

func wordCount(s string) int {
	return len(letterRun.FindAllStringIndex(s, -1))
}

func mostlySymbolsOrDigits(s string) bool {
	if s == "" {
		return true
	}
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return float64(letters)/float64(utf8.RuneCountInString(s)) < minLetterFraction
}
