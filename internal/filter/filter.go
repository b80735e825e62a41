// Package filter holds the ordered drop filters of the cleaning pipeline.
//
// Every filter consumes rows in extraction order and returns the survivors
// in the same order, a stats map whose dropped_* entries account for every
// drop, and the annotated drop records.
package filter

import (
	"math"

	"corpus-pipeline/internal/models"
)

// Result is the output of one filter stage.
type Result struct {
	Kept  []models.Row
	Stats map[string]int
	Drops []models.Drop
}

// Stage is one step of the filter chain.
type Stage interface {
	// Name identifies the stage in artifact file names and logs.
	Name() string
	Apply(rows []models.Row) Result
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func ptr[T any](v T) *T {
	return &v
}
