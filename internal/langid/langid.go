// Package langid adapts a statistical language identifier to the pipeline's
// Classifier contract: a top label, its normalized probability and the
// margin over the runner-up.
package langid

import (
	"strings"

	"github.com/cockroachdb/errors"
	lingua "github.com/pemistahl/lingua-go"
)

// Detection is the classifier output for one text.
type Detection struct {
	Label  string  `json:"label"`
	Prob   float64 `json:"prob"`
	Margin float64 `json:"margin"`
}

// Classifier identifies the language of a text within a fixed language set.
type Classifier interface {
	Supports(lang string) bool
	Classify(text string) Detection
}

// Lingua classifies with lingua-go restricted to the configured languages.
type Lingua struct {
	detector  lingua.LanguageDetector
	supported map[string]bool
}

// NewLingua builds a detector for the given ISO 639-1 codes. At least two
// languages are required.
func NewLingua(codes []string) (*Lingua, error) {
	if len(codes) < 2 {
		return nil, errors.Newf("langid: need at least two languages, got %d", len(codes))
	}
	langs := make([]lingua.Language, 0, len(codes))
	supported := make(map[string]bool, len(codes))
	for _, code := range codes {
		code = strings.ToLower(strings.TrimSpace(code))
		iso := lingua.GetIsoCode639_1FromValue(strings.ToUpper(code))
		lang := lingua.GetLanguageFromIsoCode639_1(iso)
		if lang == lingua.Unknown {
			return nil, errors.Newf("langid: unsupported language code %q", code)
		}
		langs = append(langs, lang)
		supported[code] = true
	}
	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(langs...).
		Build()
	return &Lingua{detector: detector, supported: supported}, nil
}

// Supports reports whether lang is in the configured set.
func (l *Lingua) Supports(lang string) bool {
	return l.supported[strings.ToLower(lang)]
}

// Classify returns the most likely language. Confidence values from lingua
// sum to one across the configured set and arrive sorted descending.
func (l *Lingua) Classify(text string) Detection {
	values := l.detector.ComputeLanguageConfidenceValues(text)
	if len(values) == 0 {
		return Detection{}
	}
	top := values[0]
	d := Detection{
		Label: strings.ToLower(top.Language().IsoCode639_1().String()),
		Prob:  top.Value(),
	}
	runnerUp := 0.0
	if len(values) > 1 {
		runnerUp = values[1].Value()
	}
	d.Margin = d.Prob - runnerUp
	return d
}
