package preprocessing

import (
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/core/stats"
	"github.com/YuminosukeSato/valuation/dataset"
	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// logShift は非正の値を含む列に加えるずらし量
const logShift = 1e-6

// LogTransformer は指定列を自然対数に変換する。
// 学習時に最小値が 0 以下の列は、最小値が logShift になるようにずらしてから対数を取る。
type LogTransformer struct {
	model.StateManager
	Columns []string

	// Shift は列ごとに加える値
	Shift []float64
}

func NewLogTransformer(columns ...string) *LogTransformer {
	return &LogTransformer{Columns: columns}
}

func (l *LogTransformer) Fit(t *dataset.Table, _ []float64) error {
	if _, err := resolveColumns(t, l.Columns, dataset.Numeric); err != nil {
		return err
	}
	l.Shift = make([]float64, len(l.Columns))
	for j, n := range l.Columns {
		c, _ := t.Column(n)
		values := c.NonNull()
		if len(values) == 0 {
			continue
		}
		if lo, _ := stats.MinMax(values); lo <= 0 {
			l.Shift[j] = logShift - lo
		}
	}
	l.SetFitted(len(l.Columns), t.NumRows())
	return nil
}

// Transform は対数を取る。ずらした後も正にならない値は NumericError。
func (l *LogTransformer) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := l.RequireFitted("LogTransformer", "Transform"); err != nil {
		return nil, err
	}
	out := t
	for j, n := range l.Columns {
		shift := l.Shift[j]
		c, err := numericColumn(t, n)
		if err != nil {
			return nil, err
		}
		for i, v := range c.Num {
			if !c.Null[i] && v+shift <= 0 {
				return nil, errors.NewNumericError("LogTransformer.Transform", "non-positive value in column "+n+" after shift")
			}
		}
		if out, err = mapNumeric(out, n, func(v float64) float64 { return math.Log(v + shift) }); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PowerMethod はべき変換の種類
type PowerMethod string

const (
	YeoJohnson PowerMethod = "yeo-johnson"
	BoxCox     PowerMethod = "box-cox"
)

// PowerTransformer は列ごとに最尤推定した λ でべき変換し、その後で標準化する。
// box-cox は正の値だけを受け付ける。yeo-johnson は負の値も扱える。
type PowerTransformer struct {
	model.StateManager
	Method  PowerMethod
	Columns []string

	// Lambdas は列ごとの推定 λ
	Lambdas []float64

	// Mean と Scale は変換後の値の標準化パラメータ
	Mean  []float64
	Scale []float64
}

// NewPowerTransformer は method の PowerTransformer を作成する。未知の method は ConfigurationError。
func NewPowerTransformer(method string, columns ...string) (*PowerTransformer, error) {
	switch PowerMethod(method) {
	case YeoJohnson, BoxCox:
	case "":
		method = string(YeoJohnson)
	default:
		return nil, errors.NewConfigurationError("feature_engineering.transforms.power_method", method, string(YeoJohnson), string(BoxCox))
	}
	return &PowerTransformer{Method: PowerMethod(method), Columns: columns}, nil
}

func (p *PowerTransformer) Fit(t *dataset.Table, _ []float64) error {
	if _, err := resolveColumns(t, p.Columns, dataset.Numeric); err != nil {
		return err
	}
	n := len(p.Columns)
	p.Lambdas = make([]float64, n)
	p.Mean = make([]float64, n)
	p.Scale = make([]float64, n)
	for j, name := range p.Columns {
		c, _ := t.Column(name)
		values := c.NonNull()
		if len(values) < 2 {
			return errors.NewValidationError(name, "power transform needs at least two values", len(values))
		}
		if p.Method == BoxCox {
			if lo, _ := stats.MinMax(values); lo <= 0 {
				return errors.NewValidationError(name, "box-cox requires strictly positive values", lo)
			}
		}
		lambda := p.estimateLambda(values)
		transformed := make([]float64, len(values))
		for i, v := range values {
			transformed[i] = p.apply(v, lambda)
		}
		scale := stats.PopulationStd(transformed)
		if scale < zeroSpread || math.IsNaN(scale) {
			scale = 1
		}
		p.Lambdas[j], p.Mean[j], p.Scale[j] = lambda, stats.Mean(transformed), scale
	}
	p.SetFitted(n, t.NumRows())
	return nil
}

func (p *PowerTransformer) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := p.RequireFitted("PowerTransformer", "Transform"); err != nil {
		return nil, err
	}
	out := t
	for j, name := range p.Columns {
		lambda, mean, scale := p.Lambdas[j], p.Mean[j], p.Scale[j]
		c, err := numericColumn(t, name)
		if err != nil {
			return nil, err
		}
		if p.Method == BoxCox {
			for i, v := range c.Num {
				if !c.Null[i] && v <= 0 {
					return nil, errors.NewNumericError("PowerTransformer.Transform", "box-cox requires strictly positive values in column "+name)
				}
			}
		}
		if out, err = mapNumeric(out, name, func(v float64) float64 {
			return (p.apply(v, lambda) - mean) / scale
		}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *PowerTransformer) apply(x, lambda float64) float64 {
	if p.Method == BoxCox {
		return boxCox(x, lambda)
	}
	return yeoJohnson(x, lambda)
}

// estimateLambda は対数尤度を最大にする λ を Nelder-Mead で探す
func (p *PowerTransformer) estimateLambda(values []float64) float64 {
	// 変換に依存しない項 (λ-1)·Σ g(x) の g(x) の和
	var jacobian float64
	for _, x := range values {
		if p.Method == BoxCox {
			jacobian += math.Log(x)
		} else {
			jacobian += math.Copysign(math.Log1p(math.Abs(x)), x)
		}
	}
	n := float64(len(values))
	buf := make([]float64, len(values))
	negLLF := func(lambda float64) float64 {
		for i, x := range values {
			buf[i] = p.apply(x, lambda)
		}
		sd := stats.PopulationStd(buf)
		variance := sd * sd
		if variance <= 0 || math.IsNaN(variance) || math.IsInf(variance, 0) {
			return math.Inf(1)
		}
		return n/2*math.Log(variance) - (lambda-1)*jacobian
	}

	problem := optimize.Problem{Func: func(x []float64) float64 { return negLLF(x[0]) }}
	settings := &optimize.Settings{FuncEvaluations: 400}
	// 評価回数の上限に達した場合も最良点を使う
	res, _ := optimize.Minimize(problem, []float64{1}, settings, &optimize.NelderMead{})
	if res == nil || math.IsInf(res.F, 1) || math.IsNaN(res.X[0]) {
		return 1
	}
	return res.X[0]
}

func yeoJohnson(x, lambda float64) float64 {
	const eps = 1e-12
	if x >= 0 {
		if math.Abs(lambda) < eps {
			return math.Log1p(x)
		}
		return (math.Pow(x+1, lambda) - 1) / lambda
	}
	if math.Abs(lambda-2) < eps {
		return -math.Log1p(-x)
	}
	return -(math.Pow(1-x, 2-lambda) - 1) / (2 - lambda)
}

func boxCox(x, lambda float64) float64 {
	if math.Abs(lambda) < 1e-12 {
		return math.Log(x)
	}
	return (math.Pow(x, lambda) - 1) / lambda
}
