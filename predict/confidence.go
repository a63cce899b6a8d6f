package predict

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// MinConfidence is the lowest score any rules can give.
const MinConfidence = 0.5

// RangeRule penalizes a numeric field outside [Min, Max].
type RangeRule struct {
	Field string
	Min   float64
	Max   float64
}

// ConfidenceRules score how complete and plausible an input is. The score
// is a heuristic, not a calibrated probability.
type ConfidenceRules struct {
	Required       []string
	MissingPenalty float64
	Ranges         []RangeRule
	RangePenalty   float64
	Floor          float64
}

// DefaultConfidenceRules start at 1, take 0.1 off per missing area, city or
// property_type, 0.05 off for an area outside [30, 500] or a building_year
// outside [1990, 2024], and never go below 0.5.
func DefaultConfidenceRules() ConfidenceRules {
	return ConfidenceRules{
		Required:       []string{"area", "city", "property_type"},
		MissingPenalty: 0.1,
		Ranges: []RangeRule{
			{Field: "area", Min: 30, Max: 500},
			{Field: "building_year", Min: 1990, Max: 2024},
		},
		RangePenalty: 0.05,
		Floor:        0.5,
	}
}

// Validate rejects negative or non-finite penalties, a floor outside [0, 1]
// and range rules with NaN or inverted bounds.
func (r ConfidenceRules) Validate() error {
	for name, p := range map[string]float64{"missing_penalty": r.MissingPenalty, "range_penalty": r.RangePenalty} {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return errors.NewValidationError(name, "must be a finite value >= 0", p)
		}
	}
	if !(r.Floor >= 0 && r.Floor <= 1) {
		return errors.NewValidationError("floor", "must be within [0, 1]", r.Floor)
	}
	for _, rule := range r.Ranges {
		if math.IsNaN(rule.Min) || math.IsNaN(rule.Max) || rule.Min > rule.Max {
			return errors.NewValidationError(rule.Field, "range needs min <= max", []float64{rule.Min, rule.Max})
		}
	}
	return nil
}

// Score returns the confidence of input, clamped to [max(Floor, 0.5), 1] and
// rounded to two decimals.
func (r ConfidenceRules) Score(input map[string]any) float64 {
	c := 1.0
	for _, field := range r.Required {
		if isMissing(input[field]) {
			c -= r.MissingPenalty
		}
	}
	for _, rule := range r.Ranges {
		v, ok := toFloat(input[rule.Field])
		if !ok || math.IsNaN(v) {
			continue
		}
		if v < rule.Min || v > rule.Max {
			c -= r.RangePenalty
		}
	}
	floor := MinConfidence
	if r.Floor > floor && r.Floor <= 1 {
		floor = r.Floor
	}
	if math.IsNaN(c) {
		c = floor
	}
	c = math.Max(floor, math.Min(1, c))
	out, _ := decimal.NewFromFloat(c).Round(2).Float64()
	return out
}

func isMissing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case decimal.Decimal:
		f, _ := x.Float64()
		return f, true
	default:
		return 0, false
	}
}
