package dataset

import (
	"math"
	"math/rand/v2"

	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
)

// SplitOptions configures Split. ValSize is a fraction of the whole table.
type SplitOptions struct {
	TestSize float64
	ValSize  float64
	Seed     uint64
	Logger   log.Logger
}

// Split separates target from t and partitions the rows into train,
// validation and test sets.
//
// The test set takes ceil(n·TestSize) rows of a seeded permutation. When
// ValSize > 0 the remainder is permuted again by a fresh stream from the same
// seed and ceil(m·ValSize/(1-TestSize)) of its m rows become the validation
// set, so validation is ValSize of the whole table. The same inputs always
// yield the same partitions.
func Split(t *Table, target string, opts SplitOptions) (*Partition, error) {
	if opts.TestSize <= 0 || opts.TestSize >= 1 {
		return nil, errors.NewValidationError("test_size", "must be in (0, 1)", opts.TestSize)
	}
	if opts.ValSize < 0 || opts.TestSize+opts.ValSize >= 1 {
		return nil, errors.NewValidationError("val_size", "must be >= 0 with test_size + val_size < 1", opts.ValSize)
	}

	yc, err := t.RequireColumn(target)
	if err != nil {
		return nil, err
	}
	if yc.Type != Numeric {
		return nil, errors.NewValidationError(target, "target column must be numeric", yc.Type.String())
	}
	if n := yc.NullCount(); n > 0 {
		return nil, errors.NewValidationError(target, "target column has missing values", n)
	}

	n := t.NumRows()
	nTest := ceilCount(float64(n) * opts.TestSize)
	if nTest >= n {
		return nil, errors.NewValidationError("test_size", "leaves no training rows", n)
	}

	perm := rand.New(rand.NewPCG(opts.Seed, opts.Seed)).Perm(n)
	testIdx := perm[:nTest]
	rest := perm[nTest:]

	var valIdx []int
	trainIdx := rest
	if opts.ValSize > 0 {
		frac := opts.ValSize / (1 - opts.TestSize)
		nVal := ceilCount(float64(len(rest)) * frac)
		if nVal >= len(rest) {
			return nil, errors.NewValidationError("val_size", "leaves no training rows", len(rest))
		}
		order := rand.New(rand.NewPCG(opts.Seed, opts.Seed)).Perm(len(rest))
		valIdx = make([]int, nVal)
		trainIdx = make([]int, len(rest)-nVal)
		for i, p := range order {
			if i < nVal {
				valIdx[i] = rest[p]
			} else {
				trainIdx[i-nVal] = rest[p]
			}
		}
	}

	full := XY{X: t.Drop(target), Y: yc.Num}
	s := &Partition{
		Train:    full.Take(trainIdx),
		Test:     full.Take(testIdx),
		TrainIdx: trainIdx,
		ValIdx:   valIdx,
		TestIdx:  testIdx,
	}
	if valIdx != nil {
		v := full.Take(valIdx)
		s.Validation = &v
	}

	log.OrDefault(opts.Logger, "splitter").Info("data split",
		log.OperationKey, log.OperationSplit,
		"split.train", len(trainIdx), "split.validation", len(valIdx), "split.test", len(testIdx),
		log.RandomSeedKey, opts.Seed)
	return s, nil
}

// ceilCount rounds up, ignoring floating error below 1e-9.
func ceilCount(x float64) int {
	return int(math.Ceil(x - 1e-9))
}
