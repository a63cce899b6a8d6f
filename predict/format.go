package predict

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// DefaultUnit is appended to formatted prices (ten thousand yuan).
const DefaultUnit = "万元"

// Formatter renders monetary values with locale digit grouping.
type Formatter struct {
	Locale   language.Tag
	Decimals int
	Unit     string
}

// DefaultFormatter formats Chinese-locale prices with two decimals, e.g.
// 1234.567 as "1,234.57万元".
func DefaultFormatter() Formatter {
	return Formatter{Locale: language.Chinese, Decimals: 2, Unit: DefaultUnit}
}

// Round rounds v half away from zero to the formatter's decimals. NaN and
// infinities are returned unchanged.
func (f Formatter) Round(v float64) float64 {
	if !finite(v) {
		return v
	}
	r, _ := decimal.NewFromFloat(v).Round(int32(f.Decimals)).Float64()
	return r
}

// Format returns v rounded, grouped and suffixed with the unit.
func (f Formatter) Format(v float64) string {
	if !finite(v) {
		return fmt.Sprint(v) + f.Unit
	}
	p := message.NewPrinter(f.Locale)
	return p.Sprint(number.Decimal(f.Round(v), number.Scale(f.Decimals))) + f.Unit
}

// FormatWithConfidence appends the confidence as a percentage.
func (f Formatter) FormatWithConfidence(v, confidence float64) string {
	return fmt.Sprintf("%s (confidence %.1f%%)", f.Format(v), confidence*100)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
