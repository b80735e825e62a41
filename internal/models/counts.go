package models

import (
	"sort"
	"strings"
)

// Count keys shared by the pipeline stages and the run card.
const (
	CountExported       = "exported"
	CountClean          = "clean"
	CountChecked        = "checked"
	CountKeptLowConf    = "kept_lowconf"
	CountDroppedLang    = "dropped_lang"
	CountDroppedEmpty   = "dropped_empty"
	CountDroppedLen     = "dropped_lenratio"
	CountDroppedDup     = "dropped_dup_exact"
	CountDroppedDupNear = "dropped_dup_near"

	droppedPrefix = "dropped_"
)

// Counts is the flat run summary persisted as run metrics.
type Counts map[string]int

// Merge adds every entry of other into c.
func (c Counts) Merge(other map[string]int) {
	for k, v := range other {
		c[k] += v
	}
}

// Dropped sums every dropped_* entry.
func (c Counts) Dropped() int {
	total := 0
	for k, v := range c {
		if strings.HasPrefix(k, droppedPrefix) {
			total += v
		}
	}
	return total
}

// DropReasons returns the dropped_* keys in sorted order.
func (c Counts) DropReasons() []string {
	var keys []string
	for k := range c {
		if strings.HasPrefix(k, droppedPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
