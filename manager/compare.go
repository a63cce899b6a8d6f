package manager

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// ComparisonColumns are the sortable columns of a Comparison after the model
// name.
var ComparisonColumns = []string{
	"mse", "rmse", "mae", "median_ae", "r2", "explained_variance", "max_error",
	"cv_r2_mean", "cv_r2_std",
}

// ComparisonRow is one successful candidate.
type ComparisonRow struct {
	Model  string             `json:"model_name"`
	Values map[string]float64 `json:"values"`
}

// Comparison is a ranked table of successful candidates.
type Comparison struct {
	Rows []ComparisonRow `json:"rows"`
}

// Compare lists the successful candidates ordered by sortBy. The sort is
// stable, so equal values keep declaration order. An unknown column leaves
// declaration order.
func (m *Manager) Compare(sortBy string, ascending bool) Comparison {
	var cmp Comparison
	for _, res := range m.results {
		if !res.OK() {
			continue
		}
		values := res.Success.Metrics.Map()
		values["cv_r2_mean"] = res.Success.CV.Mean
		values["cv_r2_std"] = res.Success.CV.Std
		cmp.Rows = append(cmp.Rows, ComparisonRow{Model: res.Name, Values: values})
	}
	if !isColumn(sortBy) {
		if sortBy != "" && len(cmp.Rows) > 0 {
			m.logger.Warn("unknown comparison column, keeping declaration order", "sort_by", sortBy)
		}
		return cmp
	}
	sort.SliceStable(cmp.Rows, func(i, j int) bool {
		a, b := cmp.Rows[i].Values[sortBy], cmp.Rows[j].Values[sortBy]
		if ascending {
			return a < b
		}
		return a > b
	})
	return cmp
}

func isColumn(name string) bool {
	for _, c := range ComparisonColumns {
		if c == name {
			return true
		}
	}
	return false
}

// Models returns the model names in row order.
func (c Comparison) Models() []string {
	out := make([]string, len(c.Rows))
	for i, r := range c.Rows {
		out[i] = r.Model
	}
	return out
}

func (c Comparison) writer() table.Writer {
	w := table.NewWriter()
	header := table.Row{"model_name"}
	for _, col := range ComparisonColumns {
		header = append(header, col)
	}
	w.AppendHeader(header)
	for _, r := range c.Rows {
		row := table.Row{r.Model}
		for _, col := range ComparisonColumns {
			row = append(row, fmt.Sprintf("%.4f", r.Values[col]))
		}
		w.AppendRow(row)
	}
	configs := make([]table.ColumnConfig, len(ComparisonColumns))
	for i := range ComparisonColumns {
		configs[i] = table.ColumnConfig{Number: i + 2, Align: text.AlignRight}
	}
	w.SetColumnConfigs(configs)
	return w
}

// TableStyle is the light box style with headers printed as given, so the
// snake_case metric names stay greppable.
func TableStyle() table.Style {
	style := table.StyleLight
	style.Format.Header = text.FormatDefault
	return style
}

// Render draws the comparison as a terminal table.
func (c Comparison) Render() string {
	w := c.writer()
	w.SetStyle(TableStyle())
	return w.Render()
}

// Markdown draws the comparison as a Markdown table.
func (c Comparison) Markdown() string {
	return c.writer().RenderMarkdown()
}

// Summary describes the last run: candidate counts, the best model and the
// successful candidates ordered by r2.
func (m *Manager) Summary() string {
	if len(m.results) == 0 {
		return "no model trained"
	}
	var b strings.Builder
	failed := 0
	for _, res := range m.results {
		if !res.OK() {
			failed++
		}
	}
	fmt.Fprintf(&b, "candidates: %d (succeeded %d, failed %d)\n",
		len(m.results), len(m.results)-failed, failed)
	if name, _, score, ok := m.Best(); ok {
		fmt.Fprintf(&b, "best model: %s (%s %.4f)\n", name, m.rankingMetric, score)
	} else {
		b.WriteString("best model: none\n")
	}

	w := table.NewWriter()
	w.SetStyle(TableStyle())
	w.AppendHeader(table.Row{"model_name", "r2", "rmse", "mae", "status"})
	for _, row := range m.Compare("r2", false).Rows {
		w.AppendRow(table.Row{
			row.Model,
			fmt.Sprintf("%.4f", row.Values["r2"]),
			fmt.Sprintf("%.4f", row.Values["rmse"]),
			fmt.Sprintf("%.4f", row.Values["mae"]),
			Ranked.String(),
		})
	}
	for _, res := range m.results {
		if res.Failure != nil {
			w.AppendRow(table.Row{res.Name, "-", "-", "-", Failed.String() + " (" + res.Failure.Stage + ")"})
		}
	}
	b.WriteString(w.Render())
	return b.String()
}
