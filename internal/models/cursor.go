package models

import "time"

// Watermark is the exclusive lower bound of the next extraction window.
// A zero Watermark (nil fields) sorts before every row.
type Watermark struct {
	ApprovedAt *time.Time `json:"last_approved_at"`
	ID         *int64     `json:"last_id"`
}

// IsZero reports whether the watermark is -inf.
func (w Watermark) IsZero() bool {
	return w.ApprovedAt == nil
}

// Less orders watermarks by (approved_at, id). A zero watermark is smallest.
func (w Watermark) Less(o Watermark) bool {
	if w.IsZero() {
		return !o.IsZero()
	}
	if o.IsZero() {
		return false
	}
	if !w.ApprovedAt.Equal(*o.ApprovedAt) {
		return w.ApprovedAt.Before(*o.ApprovedAt)
	}
	return w.id() < o.id()
}

// Admits reports whether a row lies strictly after the watermark.
func (w Watermark) Admits(r Row) bool {
	return w.Less(r.Watermark())
}

func (w Watermark) id() int64 {
	if w.ID == nil {
		return 0
	}
	return *w.ID
}

// Cursor is the durable per-job watermark row.
type Cursor struct {
	JobName   string    `json:"job_name"`
	Watermark Watermark `json:"watermark"`
	UpdatedAt time.Time `json:"updated_at"`
}
