// Package split partitions clean rows into train/dev/test shards.
package split

import (
	"math"
	"math/rand"

	"github.com/cockroachdb/errors"

	"corpus-pipeline/internal/models"
)

// Shard names in artifact order.
const (
	Train = "train"
	Dev   = "dev"
	Test  = "test"
)

// Names lists the shards in the order they are written and validated.
var Names = []string{Train, Dev, Test}

const fractionTolerance = 1e-6

// ErrInvalidFractions is returned when fractions are negative or do not sum to one.
var ErrInvalidFractions = errors.New("split fractions must be non-negative and sum to 1")

// Fractions are the train/dev/test proportions.
type Fractions struct {
	Train float64 `json:"train"`
	Dev   float64 `json:"dev"`
	Test  float64 `json:"test"`
}

// Default is the 80/10/10 split.
var Default = Fractions{Train: 0.8, Dev: 0.1, Test: 0.1}

// Validate checks the fractions before any data is touched.
func (f Fractions) Validate() error {
	if f.Train < 0 || f.Dev < 0 || f.Test < 0 {
		return errors.Wrapf(ErrInvalidFractions, "got %v", f.Slice())
	}
	if math.Abs(f.Train+f.Dev+f.Test-1) > fractionTolerance {
		return errors.Wrapf(ErrInvalidFractions, "got %v", f.Slice())
	}
	return nil
}

// Slice returns the fractions as [train, dev, test].
func (f Fractions) Slice() []float64 {
	return []float64{f.Train, f.Dev, f.Test}
}

// Splits maps shard name to rows.
type Splits map[string][]models.Row

// Sizes returns the row count of every shard.
func (s Splits) Sizes() map[string]int {
	out := make(map[string]int, len(s))
	for k, v := range s {
		out[k] = len(v)
	}
	return out
}

// Rows shuffles row indices with a seeded source and slices off floor(train*n)
// rows for train, floor(dev*n) for dev, and the remainder for test.
func Rows(rows []models.Row, seed int64, f Fractions) (Splits, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	n := len(rows)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	nTrain := int(math.Floor(f.Train * float64(n)))
	nDev := int(math.Floor(f.Dev * float64(n)))
	if nTrain+nDev > n {
		nDev = n - nTrain
	}

	pick := func(ix []int) []models.Row {
		out := make([]models.Row, 0, len(ix))
		for _, i := range ix {
			out = append(out, rows[i])
		}
		return out
	}
	return Splits{
		Train: pick(idx[:nTrain]),
		Dev:   pick(idx[nTrain : nTrain+nDev]),
		Test:  pick(idx[nTrain+nDev:]),
	}, nil
}
