package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"corpus-pipeline/internal/models"
)

func TestWhitespace(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "nbsp", in: "a\u00a0b", want: "a b"},
		{name: "zero width removed", in: "ab\u200bc", want: "abc"},
		{name: "collapse and trim", in: "  a \t\n b   c  ", want: "a b c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Whitespace(tt.in))
		})
	}
}

func TestSource(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "curly double unified", in: "“Hello”", want: `"Hello"`},
		{name: "curly single unified", in: "it’s", want: "it's"},
		{name: "trailing unmatched double", in: `Hello world"`, want: "Hello world"},
		{name: "trailing unmatched curly", in: "Hello world”", want: "Hello world"},
		{name: "balanced kept", in: `say "hi"`, want: `say "hi"`},
		{name: "interior unbalanced kept", in: `a "b c`, want: `a "b c`},
		{name: "trailing unmatched single", in: "end'", want: "end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Source(tt.in))
		})
	}
}

func TestTarget(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "straight apostrophe", in: "mb'a", want: "mbʼa"},
		{name: "right single quote", in: "mb’a", want: "mbʼa"},
		{name: "modifier prime", in: "mbʹa", want: "mbʼa"},
		{name: "nfc composition", in: "e\u0301", want: "\u00e9"},
		{name: "trailing unmatched curly double", in: "Mba”", want: "Mba"},
		{name: "whitespace", in: " Mba  ndə ", want: "Mba ndə"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Target(tt.in))
		})
	}
}

func TestRowsKeepsOrderAndIdentity(t *testing.T) {
	in := []models.Row{
		{ID: 2, SourceText: " b ", TargetText: "y'"},
		{ID: 1, SourceText: "a", TargetText: "x"},
	}
	out := Rows(in)
	assert.Equal(t, int64(2), out[0].ID)
	assert.Equal(t, "b", out[0].SourceText)
	assert.Equal(t, " b ", in[0].SourceText, "input must not be mutated")
	assert.Equal(t, int64(1), out[1].ID)
}
