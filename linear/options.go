package linear

import (
	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// Penalty は正則化付き線形モデルのハイパーパラメータ
type Penalty struct {
	Alpha       float64
	L1Ratio     float64
	MaxIter     int
	Tol         float64
	RandomState int
}

func defaultPenalty() Penalty {
	return Penalty{Alpha: 1.0, L1Ratio: 0.5, MaxIter: 1000, Tol: 1e-4, RandomState: 42}
}

// Option は正則化付き線形モデルを設定する関数
type Option func(*Penalty)

// WithAlpha は正則化の強さを設定する
func WithAlpha(alpha float64) Option {
	return func(p *Penalty) {
		p.Alpha = alpha
	}
}

// WithL1Ratio は ElasticNet の L1 比率を設定する
func WithL1Ratio(ratio float64) Option {
	return func(p *Penalty) {
		p.L1Ratio = ratio
	}
}

// WithMaxIter は座標降下法の最大反復回数を設定する
func WithMaxIter(n int) Option {
	return func(p *Penalty) {
		p.MaxIter = n
	}
}

// WithTol は収束判定の許容誤差を設定する
func WithTol(tol float64) Option {
	return func(p *Penalty) {
		p.Tol = tol
	}
}

func buildPenalty(opts []Option) Penalty {
	p := defaultPenalty()
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// apply は keys に含まれるパラメータだけを params から読み込み、検証してから反映する
func (p *Penalty) apply(params model.Params, keys ...string) error {
	if err := params.CheckKeys(keys...); err != nil {
		return err
	}
	next := *p
	var err error
	if next.Alpha, err = params.Float("alpha", p.Alpha); err != nil {
		return err
	}
	if next.L1Ratio, err = params.Float("l1_ratio", p.L1Ratio); err != nil {
		return err
	}
	if next.MaxIter, err = params.Int("max_iter", p.MaxIter); err != nil {
		return err
	}
	if next.Tol, err = params.Float("tol", p.Tol); err != nil {
		return err
	}
	if next.RandomState, err = params.Int("random_state", p.RandomState); err != nil {
		return err
	}
	if err := next.validate(); err != nil {
		return err
	}
	*p = next
	return nil
}

func (p Penalty) validate() error {
	switch {
	case p.Alpha < 0:
		return errors.NewValidationError("alpha", "must be >= 0", p.Alpha)
	case p.L1Ratio < 0 || p.L1Ratio > 1:
		return errors.NewValidationError("l1_ratio", "must be in [0, 1]", p.L1Ratio)
	case p.MaxIter < 1:
		return errors.NewValidationError("max_iter", "must be >= 1", p.MaxIter)
	case p.Tol <= 0:
		return errors.NewValidationError("tol", "must be > 0", p.Tol)
	}
	return nil
}

func (p Penalty) params(keys ...string) model.Params {
	all := model.Params{
		"alpha":        p.Alpha,
		"l1_ratio":     p.L1Ratio,
		"max_iter":     p.MaxIter,
		"tol":          p.Tol,
		"random_state": p.RandomState,
	}
	out := make(model.Params, len(keys))
	for _, k := range keys {
		out[k] = all[k]
	}
	return out
}
