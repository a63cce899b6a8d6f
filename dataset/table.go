// Package dataset loads, cleans, transforms and splits tabular property data.
//
// A Table is an ordered set of named, typed columns sharing one row count.
// Tables are treated as immutable: every operation returns a new Table and
// leaves its input untouched, so fitted state never aliases caller data.
package dataset

import (
	"math"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// ColumnType is the homogeneous value type of a column.
type ColumnType int

const (
	Numeric ColumnType = iota
	Text
	Time
)

func (t ColumnType) String() string {
	switch t {
	case Numeric:
		return "numeric"
	case Text:
		return "text"
	case Time:
		return "time"
	default:
		return "unknown"
	}
}

// Column holds one typed sequence. Only the slice matching Type is
// populated. Null marks missing cells and always has the column's length.
type Column struct {
	Name string
	Type ColumnType
	Num  []float64
	Str  []string
	Time []time.Time
	Null []bool
}

// NewNumeric builds a numeric column. NaN values are recorded as missing.
func NewNumeric(name string, values []float64) *Column {
	null := make([]bool, len(values))
	for i, v := range values {
		null[i] = math.IsNaN(v)
	}
	return &Column{Name: name, Type: Numeric, Num: values, Null: null}
}

// NewText builds a text column. A nil null slice means nothing is missing.
func NewText(name string, values []string, null []bool) *Column {
	if null == nil {
		null = make([]bool, len(values))
	}
	return &Column{Name: name, Type: Text, Str: values, Null: null}
}

// NewTime builds a temporal column. Zero times are recorded as missing.
func NewTime(name string, values []time.Time) *Column {
	null := make([]bool, len(values))
	for i, v := range values {
		null[i] = v.IsZero()
	}
	return &Column{Name: name, Type: Time, Time: values, Null: null}
}

// Len returns the number of cells.
func (c *Column) Len() int {
	return len(c.Null)
}

// IsNull reports whether cell i is missing.
func (c *Column) IsNull(i int) bool {
	return c.Null[i]
}

// NullCount returns the number of missing cells.
func (c *Column) NullCount() int {
	n := 0
	for _, m := range c.Null {
		if m {
			n++
		}
	}
	return n
}

// Value returns cell i as float64, string or time.Time, or nil when missing.
func (c *Column) Value(i int) any {
	if c.Null[i] {
		return nil
	}
	switch c.Type {
	case Numeric:
		return c.Num[i]
	case Time:
		return c.Time[i]
	default:
		return c.Str[i]
	}
}

// Format renders cell i for delimited output. Missing cells render empty.
func (c *Column) Format(i int) string {
	if c.Null[i] {
		return ""
	}
	switch c.Type {
	case Numeric:
		return strconv.FormatFloat(c.Num[i], 'g', -1, 64)
	case Time:
		ts := c.Time[i]
		if ts.Hour() == 0 && ts.Minute() == 0 && ts.Second() == 0 && ts.Nanosecond() == 0 {
			return ts.Format(time.DateOnly)
		}
		return ts.Format(time.RFC3339)
	default:
		return c.Str[i]
	}
}

// NonNull returns the numeric values of present cells.
func (c *Column) NonNull() []float64 {
	out := make([]float64, 0, len(c.Num))
	for i, v := range c.Num {
		if !c.Null[i] {
			out = append(out, v)
		}
	}
	return out
}

// NonNullStrings returns the text values of present cells.
func (c *Column) NonNullStrings() []string {
	out := make([]string, 0, len(c.Str))
	for i, v := range c.Str {
		if !c.Null[i] {
			out = append(out, v)
		}
	}
	return out
}

// Take returns a new column holding the given rows in order.
func (c *Column) Take(rows []int) *Column {
	out := &Column{Name: c.Name, Type: c.Type, Null: make([]bool, len(rows))}
	switch c.Type {
	case Numeric:
		out.Num = make([]float64, len(rows))
	case Text:
		out.Str = make([]string, len(rows))
	case Time:
		out.Time = make([]time.Time, len(rows))
	}
	for i, r := range rows {
		out.Null[i] = c.Null[r]
		switch c.Type {
		case Numeric:
			out.Num[i] = c.Num[r]
		case Text:
			out.Str[i] = c.Str[r]
		case Time:
			out.Time[i] = c.Time[r]
		}
	}
	return out
}

// Clone returns a deep copy.
func (c *Column) Clone() *Column {
	out := &Column{Name: c.Name, Type: c.Type, Null: append([]bool(nil), c.Null...)}
	out.Num = append([]float64(nil), c.Num...)
	out.Str = append([]string(nil), c.Str...)
	out.Time = append([]time.Time(nil), c.Time...)
	return out
}

func (c *Column) equal(o *Column) bool {
	if c.Name != o.Name || c.Type != o.Type || c.Len() != o.Len() {
		return false
	}
	for i := range c.Null {
		if c.Null[i] != o.Null[i] {
			return false
		}
		if c.Null[i] {
			continue
		}
		switch c.Type {
		case Numeric:
			if c.Num[i] != o.Num[i] {
				return false
			}
		case Text:
			if c.Str[i] != o.Str[i] {
				return false
			}
		case Time:
			if !c.Time[i].Equal(o.Time[i]) {
				return false
			}
		}
	}
	return true
}

// Table is an ordered collection of equally long columns.
type Table struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// NewTable assembles columns into a table. Names must be unique and all
// columns must have the same length.
func NewTable(cols ...*Column) (*Table, error) {
	t := &Table{index: make(map[string]int, len(cols))}
	for i, c := range cols {
		if _, dup := t.index[c.Name]; dup {
			return nil, errors.NewValidationError("columns", "duplicate column name", c.Name)
		}
		if i == 0 {
			t.rows = c.Len()
		} else if c.Len() != t.rows {
			return nil, errors.NewDimensionError("NewTable", t.rows, c.Len(), 0)
		}
		t.index[c.Name] = i
	}
	t.cols = cols
	return t, nil
}

// MustTable is NewTable that panics on error, for literals in tests and examples.
func MustTable(cols ...*Column) *Table {
	t, err := NewTable(cols...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) NumRows() int { return t.rows }
func (t *Table) NumCols() int { return len(t.cols) }

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Columns returns the columns in order. Callers must not mutate them.
func (t *Table) Columns() []*Column {
	return t.cols
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// RequireColumn returns the named column or a ValidationError.
func (t *Table) RequireColumn(name string) (*Column, error) {
	c, ok := t.Column(name)
	if !ok {
		return nil, errors.NewValidationError(name, "column not found", nil)
	}
	return c, nil
}

// HasColumn reports whether the table has the named column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// WithColumn returns a table with c appended, or replacing an existing
// column of the same name in place.
func (t *Table) WithColumn(c *Column) (*Table, error) {
	cols := append([]*Column(nil), t.cols...)
	if i, ok := t.index[c.Name]; ok {
		cols[i] = c
	} else {
		cols = append(cols, c)
	}
	if len(t.cols) == 0 {
		return NewTable(cols...)
	}
	if c.Len() != t.rows {
		return nil, errors.NewDimensionError("WithColumn", t.rows, c.Len(), 0)
	}
	return NewTable(cols...)
}

// Drop returns a table without the named columns. Unknown names are ignored.
func (t *Table) Drop(names ...string) *Table {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	cols := make([]*Column, 0, len(t.cols))
	for _, c := range t.cols {
		if !skip[c.Name] {
			cols = append(cols, c)
		}
	}
	out, _ := NewTable(cols...)
	if len(cols) == 0 {
		out.rows = t.rows
	}
	return out
}

// Select returns a table with exactly the named columns, in that order.
func (t *Table) Select(names ...string) (*Table, error) {
	cols := make([]*Column, len(names))
	for i, n := range names {
		c, err := t.RequireColumn(n)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return NewTable(cols...)
}

// Rename returns a table with columns renamed per mapping.
func (t *Table) Rename(mapping map[string]string) (*Table, error) {
	cols := make([]*Column, len(t.cols))
	for i, c := range t.cols {
		if to, ok := mapping[c.Name]; ok {
			cp := *c
			cp.Name = to
			cols[i] = &cp
		} else {
			cols[i] = c
		}
	}
	return NewTable(cols...)
}

// Take returns the given rows, in the given order, across all columns.
func (t *Table) Take(rows []int) *Table {
	cols := make([]*Column, len(t.cols))
	for i, c := range t.cols {
		cols[i] = c.Take(rows)
	}
	out, _ := NewTable(cols...)
	out.rows = len(rows)
	return out
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	cols := make([]*Column, len(t.cols))
	for i, c := range t.cols {
		cols[i] = c.Clone()
	}
	out, _ := NewTable(cols...)
	out.rows = t.rows
	return out
}

// Equal reports whether both tables have the same columns, types and cells.
func (t *Table) Equal(o *Table) bool {
	if t.rows != o.rows || len(t.cols) != len(o.cols) {
		return false
	}
	for i := range t.cols {
		if !t.cols[i].equal(o.cols[i]) {
			return false
		}
	}
	return true
}

// IsMissing reports whether the cell at (row, col) is missing.
func (t *Table) IsMissing(row int, col string) bool {
	c, ok := t.Column(col)
	return ok && c.Null[row]
}

// CountMissing returns the number of missing cells across the table.
func (t *Table) CountMissing() int {
	n := 0
	for _, c := range t.cols {
		n += c.NullCount()
	}
	return n
}

// RowHasMissing reports whether any cell in row is missing.
func (t *Table) RowHasMissing(row int) bool {
	for _, c := range t.cols {
		if c.Null[row] {
			return true
		}
	}
	return false
}

func (t *Table) namesOfType(typ ColumnType) []string {
	var names []string
	for _, c := range t.cols {
		if c.Type == typ {
			names = append(names, c.Name)
		}
	}
	return names
}

func (t *Table) NumericColumns() []string { return t.namesOfType(Numeric) }
func (t *Table) TextColumns() []string    { return t.namesOfType(Text) }
func (t *Table) TimeColumns() []string    { return t.namesOfType(Time) }

// Matrix returns the named numeric columns as a dense row-major matrix. With
// no names every column is used. Non-numeric or incomplete columns are a
// ValidationError.
func (t *Table) Matrix(names ...string) (*mat.Dense, error) {
	if len(names) == 0 {
		names = t.Names()
	}
	if len(names) == 0 || t.rows == 0 {
		return nil, errors.WithStack(errors.ErrEmptyData)
	}
	m := mat.NewDense(t.rows, len(names), nil)
	for j, n := range names {
		c, err := t.RequireColumn(n)
		if err != nil {
			return nil, err
		}
		if c.Type != Numeric {
			return nil, errors.NewValidationError(n, "column is not numeric", c.Type.String())
		}
		if nulls := c.NullCount(); nulls > 0 {
			return nil, errors.NewValidationError(n, "column has missing values", nulls)
		}
		m.SetCol(j, c.Num)
	}
	return m, nil
}

// FromMatrix wraps the columns of m as numeric columns with the given names.
func FromMatrix(m mat.Matrix, names []string) (*Table, error) {
	r, c := m.Dims()
	if c != len(names) {
		return nil, errors.NewDimensionError("FromMatrix", c, len(names), 1)
	}
	cols := make([]*Column, c)
	for j := 0; j < c; j++ {
		vals := make([]float64, r)
		mat.Col(vals, j, m)
		cols[j] = NewNumeric(names[j], vals)
	}
	t, err := NewTable(cols...)
	if err != nil {
		return nil, err
	}
	t.rows = r
	return t, nil
}

// rowKey renders a row so that two rows share a key exactly when every cell
// is equal, including missingness.
func (t *Table) rowKey(row int) string {
	var b strings.Builder
	for _, c := range t.cols {
		if c.Null[row] {
			b.WriteString("\x00")
		} else {
			switch c.Type {
			case Numeric:
				b.WriteString(strconv.FormatFloat(c.Num[row], 'g', -1, 64))
			case Time:
				b.WriteString(strconv.FormatInt(c.Time[row].UnixNano(), 10))
			default:
				b.WriteString(strconv.Quote(c.Str[row]))
			}
		}
		b.WriteByte(0x1f)
	}
	return b.String()
}

// XY is a feature table row-aligned with its target vector.
type XY struct {
	X *Table
	Y []float64
}

// Len returns the number of rows.
func (d XY) Len() int {
	return len(d.Y)
}

// Take returns the given rows of both X and Y.
func (d XY) Take(rows []int) XY {
	y := make([]float64, len(rows))
	for i, r := range rows {
		y[i] = d.Y[r]
	}
	return XY{X: d.X.Take(rows), Y: y}
}

// Target returns Y as a gonum vector.
func (d XY) Target() *mat.VecDense {
	return mat.NewVecDense(len(d.Y), append([]float64(nil), d.Y...))
}

// Partition is the result of splitting a table. Validation is nil when no
// validation fraction was requested. The index slices record the original
// row positions of each partition.
type Partition struct {
	Train      XY
	Validation *XY
	Test       XY

	TrainIdx []int
	ValIdx   []int
	TestIdx  []int
}
