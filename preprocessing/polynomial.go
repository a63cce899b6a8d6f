package preprocessing

import (
	"strconv"
	"strings"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/core/parallel"
	"github.com/YuminosukeSato/valuation/dataset"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// parallelTerms is the term count above which columns are computed concurrently.
const parallelTerms = 64

// PolynomialFeatures appends every product of the input columns with total
// degree 2..Degree. With InteractionOnly no column appears twice in a term.
// Terms are named like "a*b" and "a^2*b". No bias column is added.
type PolynomialFeatures struct {
	model.StateManager
	Degree          int
	InteractionOnly bool
	Columns         []string

	// Inputs and Terms are learned at fit. Each term lists input indices in
	// non-decreasing order.
	Inputs []string
	Terms  [][]int
	Names  []string
}

func NewPolynomialFeatures(degree int, interactionOnly bool, columns ...string) *PolynomialFeatures {
	return &PolynomialFeatures{Degree: degree, InteractionOnly: interactionOnly, Columns: columns}
}

func (p *PolynomialFeatures) Fit(t *dataset.Table, _ []float64) error {
	if p.Degree < 1 {
		return errors.NewValidationError("degree", "must be >= 1", p.Degree)
	}
	cols, err := resolveColumns(t, p.Columns, dataset.Numeric)
	if err != nil {
		return err
	}
	p.Inputs = cols
	p.Terms = nil
	p.Names = nil
	for d := 2; d <= p.Degree; d++ {
		p.combinations(d, 0, nil)
	}
	for _, term := range p.Terms {
		p.Names = append(p.Names, p.termName(term))
	}
	p.SetFitted(len(cols), t.NumRows())
	return nil
}

func (p *PolynomialFeatures) combinations(remaining, start int, prefix []int) {
	if remaining == 0 {
		p.Terms = append(p.Terms, append([]int(nil), prefix...))
		return
	}
	for i := start; i < len(p.Inputs); i++ {
		next := i
		if p.InteractionOnly {
			next = i + 1
		}
		p.combinations(remaining-1, next, append(prefix, i))
	}
}

func (p *PolynomialFeatures) termName(term []int) string {
	parts := make([]string, 0, len(term))
	for i := 0; i < len(term); {
		j := i
		for j < len(term) && term[j] == term[i] {
			j++
		}
		name := p.Inputs[term[i]]
		if j-i > 1 {
			name += "^" + strconv.Itoa(j-i)
		}
		parts = append(parts, name)
		i = j
	}
	return strings.Join(parts, "*")
}

func (p *PolynomialFeatures) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := p.RequireFitted("PolynomialFeatures", "Transform"); err != nil {
		return nil, err
	}
	inputs := make([]*dataset.Column, len(p.Inputs))
	for j, n := range p.Inputs {
		c, err := numericColumn(t, n)
		if err != nil {
			return nil, err
		}
		inputs[j] = c
	}

	rows := t.NumRows()
	cols := make([]*dataset.Column, len(p.Terms))
	parallel.ParallelizeWithThreshold(len(p.Terms), parallelTerms, func(start, end int) {
		for k := start; k < end; k++ {
			values := make([]float64, rows)
			for i := range values {
				v := 1.0
				for _, j := range p.Terms[k] {
					v *= inputs[j].Num[i]
				}
				values[i] = v
			}
			cols[k] = dataset.NewNumeric(p.Names[k], values)
		}
	})

	out := t
	for _, c := range cols {
		var err error
		if out, err = out.WithColumn(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}
