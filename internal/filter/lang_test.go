package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpus-pipeline/internal/langid"
	"corpus-pipeline/internal/models"
)

type stubClassifier struct {
	supported map[string]bool
	byText    map[string]langid.Detection
	calls     int
}

func (s *stubClassifier) Supports(lang string) bool { return s.supported[lang] }

func (s *stubClassifier) Classify(text string) langid.Detection {
	s.calls++
	return s.byText[text]
}

func newStub(byText map[string]langid.Detection) *stubClassifier {
	return &stubClassifier{supported: map[string]bool{"en": true, "fr": true}, byText: byText}
}

func langFilter(c langid.Classifier) Language {
	return Language{Classifier: c, MinProb: 0.55, MinMargin: 0.20, SkipShortWords: 3, SkipSymboly: true}
}

func TestLanguage_Policy(t *testing.T) {
	const (
		match        = "the cat sat on the mat"
		weakMatch    = "the dog ran to the park"
		confidentMis = "le chat est sur le tapis"
		weakMis      = "la table est dans la maison"
	)
	stub := newStub(map[string]langid.Detection{
		match:        {Label: "en", Prob: 0.9, Margin: 0.8},
		weakMatch:    {Label: "en", Prob: 0.5, Margin: 0.0},
		confidentMis: {Label: "fr", Prob: 0.95, Margin: 0.9},
		weakMis:      {Label: "fr", Prob: 0.6, Margin: 0.1},
	})

	res := langFilter(stub).Apply([]models.Row{
		row(1, match, "x"),
		row(2, weakMatch, "x"),
		row(3, confidentMis, "x"),
		row(4, weakMis, "x"),
	})

	assert.Equal(t, []int64{1, 2, 4}, ids(res.Kept))
	assert.Equal(t, 4, res.Stats[models.CountChecked])
	assert.Equal(t, 1, res.Stats[models.CountDroppedLang])
	assert.Equal(t, 2, res.Stats[models.CountKeptLowConf])

	require.Len(t, res.Drops, 1)
	d := res.Drops[0]
	assert.Equal(t, int64(3), d.ID)
	assert.Equal(t, models.ReasonLangMismatch, d.Reason)
	assert.Equal(t, "fr", d.Detected)
	assert.InDelta(t, 0.95, *d.Prob, 1e-9)
	assert.InDelta(t, 0.9, *d.Margin, 1e-9)
}

func TestLanguage_TrustsMetadata(t *testing.T) {
	stub := newStub(map[string]langid.Detection{})
	unsupported := row(1, "das ist ein langer deutscher Satz", "x")
	unsupported.SourceLang = "de"

	res := langFilter(stub).Apply([]models.Row{
		unsupported,
		row(2, "two words", "x"),
		row(3, "1234 5678 90 !! ab cd ef", "x"),
	})

	assert.Equal(t, []int64{1, 2, 3}, ids(res.Kept))
	assert.Zero(t, stub.calls)
	assert.Zero(t, res.Stats[models.CountChecked])
}

func TestLanguage_SymbolyCheckCanBeDisabled(t *testing.T) {
	text := "ab cd ef 1234567890123"
	stub := newStub(map[string]langid.Detection{text: {Label: "fr", Prob: 1, Margin: 1}})
	f := langFilter(stub)
	f.SkipSymboly = false

	res := f.Apply([]models.Row{row(1, text, "x")})
	assert.Empty(t, res.Kept)
	assert.Equal(t, 1, res.Stats[models.CountDroppedLang])
}

func TestMostlySymbolsOrDigits(t *testing.T) {
	assert.True(t, mostlySymbolsOrDigits(""))
	assert.True(t, mostlySymbolsOrDigits("12345 ab"))
	assert.False(t, mostlySymbolsOrDigits("hello 1"))
	assert.Equal(t, 3, wordCount("héllo, wörld-again 42"))
}
