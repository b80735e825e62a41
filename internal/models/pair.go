package models

import "time"

// PairStatus is the review state of a translation pair.
type PairStatus string

const (
	PairPending  PairStatus = "pending"
	PairRejected PairStatus = "rejected"
	PairApproved PairStatus = "approved"
)

// Row is an approved pair in flight through one pipeline run.
// Filters return new slices of rows; a Row read from the store is never written back.
type Row struct {
	ID         int64     `json:"id"`
	SourceText string    `json:"source_text"`
	TargetText string    `json:"target_text"`
	SourceLang string    `json:"source_lang"`
	TargetLang string    `json:"target_lang"`
	CreatedAt  time.Time `json:"created_at"`
	ApprovedAt time.Time `json:"approved_at"`
}

// Watermark returns the (approved_at, id) position of the row.
func (r Row) Watermark() Watermark {
	at := r.ApprovedAt
	id := r.ID
	return Watermark{ApprovedAt: &at, ID: &id}
}

// Drop reasons recorded by the filter chain.
const (
	ReasonEmpty        = "empty"
	ReasonLenRatio     = "lenratio"
	ReasonDupExact     = "dup_exact"
	ReasonLangMismatch = "lang_mismatch"
	ReasonDupNear      = "dup_near"
)

// Drop is a row removed by a filter, annotated with why.
type Drop struct {
	Row
	Reason string `json:"reason"`

	Ratio    *float64 `json:"ratio,omitempty"`
	SrcWords *int     `json:"src_words,omitempty"`
	TgtWords *int     `json:"tgt_words,omitempty"`

	Detected string   `json:"detected,omitempty"`
	Prob     *float64 `json:"prob,omitempty"`
	Margin   *float64 `json:"margin,omitempty"`

	DuplicateOf *int64   `json:"duplicate_of,omitempty"`
	Jaccard     *float64 `json:"jaccard,omitempty"`
}
