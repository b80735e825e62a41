// Package normalize canonicalizes the text of a translation pair before filtering.
//
// The source and target sides are cleaned independently: neither side's
// content influences how the other is rewritten.
package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"corpus-pipeline/internal/models"
)

const (
	nbsp = '\u00a0'
	zwsp = '\u200b'

	// TargetApostrophe is the modifier letter apostrophe used by the target orthography.
	TargetApostrophe = '\u02bc'
)

var (
	curlyQuotes = strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	)

	// straight apostrophe, right single quote, modifier letter prime
	apostropheVariants = strings.NewReplacer(
		"'", string(TargetApostrophe),
		"’", string(TargetApostrophe),
		"ʹ", string(TargetApostrophe),
	)
)

// Row returns a copy of r with both text fields normalized.
func Row(r models.Row) models.Row {
	r.SourceText = Source(r.SourceText)
	r.TargetText = Target(r.TargetText)
	return r
}

// Rows normalizes every row, preserving order.
func Rows(rows []models.Row) []models.Row {
	out := make([]models.Row, len(rows))
	for i, r := range rows {
		out[i] = Row(r)
	}
	return out
}

// Source cleans whitespace, straightens curly quotes and drops a dangling trailing quote.
func Source(s string) string {
	s = Whitespace(s)
	s = curlyQuotes.Replace(s)
	return StripUnbalancedTrailingQuote(s)
}

// Target cleans whitespace, composes to NFC, canonicalizes apostrophes and
// drops a dangling trailing quote.
func Target(s string) string {
	s = norm.NFC.String(Whitespace(s))
	s = apostropheVariants.Replace(s)
	return StripUnbalancedTrailingQuote(s)
}

// Whitespace maps NBSP to a space, removes zero-width spaces, collapses runs
// of whitespace and trims.
func Whitespace(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case nbsp:
			return ' '
		case zwsp:
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// StripUnbalancedTrailingQuote removes a final quote character when that
// quote occurs an odd number of times. Curly quotes count as their straight
// equivalent. Interior unbalanced quotes are left alone.
func StripUnbalancedTrailingQuote(s string) string {
	if s == "" {
		return s
	}
	unified := curlyQuotes.Replace(s)
	trimmed := strings.TrimRight(s, " \t\r\n")
	for _, q := range []string{`"`, "'"} {
		if strings.Count(unified, q)%2 == 0 {
			continue
		}
		if !strings.HasSuffix(strings.TrimRight(unified, " \t\r\n"), q) {
			continue
		}
		_, size := lastRune(trimmed)
		return strings.TrimRight(trimmed[:len(trimmed)-size], " \t\r\n")
	}
	return s
}

func lastRune(s string) (rune, int) {
	rs := []rune(s)
	if len(rs) == 0 {
		return 0, 0
	}
	r := rs[len(rs)-1]
	return r, len(string(r))
}
