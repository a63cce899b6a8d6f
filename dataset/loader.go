package dataset

import (
	"bytes"
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// Format is a supported on-disk table layout.
type Format string

const (
	FormatCSV         Format = "csv"
	FormatSpreadsheet Format = "xlsx"
	FormatJSON        Format = "json"
)

// Formats lists the supported formats.
var Formats = []Format{FormatCSV, FormatSpreadsheet, FormatJSON}

var formatExtensions = map[Format][]string{
	FormatCSV:         {".csv", ".tsv", ".txt"},
	FormatSpreadsheet: {".xlsx", ".xlsm"},
	FormatJSON:        {".json"},
}

// ParseFormat maps a file extension token ("csv", ".xlsx", "json") to a Format.
func ParseFormat(ext string) (Format, error) {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	switch ext {
	case "csv", "tsv", "txt":
		return FormatCSV, nil
	case "xlsx", "xlsm", "excel", "spreadsheet":
		return FormatSpreadsheet, nil
	case "json":
		return FormatJSON, nil
	default:
		supported := make([]string, len(Formats))
		for i, f := range Formats {
			supported[i] = string(f)
		}
		return "", errors.NewConfigurationError("file_extension", ext, supported...)
	}
}

// DefaultMissingTokens are the cell values read as missing.
var DefaultMissingTokens = []string{"", "NA", "N/A", "NaN", "nan", "null", "NULL", "None"}

type loadOptions struct {
	delimiter     rune
	sheet         string
	indexColumn   string
	missingTokens map[string]bool
	encoding      string
}

// LoadOption customizes Load.
type LoadOption func(*loadOptions)

// WithDelimiter sets the field delimiter for delimited text.
func WithDelimiter(r rune) LoadOption {
	return func(o *loadOptions) { o.delimiter = r }
}

// WithSheet selects a spreadsheet sheet by name. Default: the first sheet.
func WithSheet(name string) LoadOption {
	return func(o *loadOptions) { o.sheet = name }
}

// WithIndexColumn drops a positional index column after loading.
func WithIndexColumn(name string) LoadOption {
	return func(o *loadOptions) { o.indexColumn = name }
}

// WithMissingTokens replaces the set of tokens read as missing.
func WithMissingTokens(tokens ...string) LoadOption {
	return func(o *loadOptions) {
		o.missingTokens = make(map[string]bool, len(tokens))
		for _, t := range tokens {
			o.missingTokens[t] = true
		}
	}
}

// WithEncoding declares the text encoding of delimited and JSON files by its
// WHATWG label ("utf-8", "gbk", "gb18030", "big5", "shift_jis", ...).
// Spreadsheets are always UTF-8.
func WithEncoding(enc string) LoadOption {
	return func(o *loadOptions) { o.encoding = enc }
}

// LookupEncoding resolves a WHATWG encoding label. UTF-8 resolves to nil,
// meaning the bytes are read as they are.
func LookupEncoding(label string) (encoding.Encoding, error) {
	e, err := htmlindex.Get(strings.TrimSpace(label))
	if err != nil {
		return nil, errors.NewConfigurationError("encoding", label,
			"utf-8", "gbk", "gb18030", "big5", "shift_jis", "euc-kr", "windows-1252")
	}
	if name, _ := htmlindex.Name(e); name == "utf-8" {
		return nil, nil
	}
	return e, nil
}

// Load reads the file at path as format. A missing path is a NotFoundError;
// content that does not parse, or an extension that contradicts format, is a
// FormatError.
func Load(path string, format Format, opts ...LoadOption) (*Table, error) {
	o := loadOptions{delimiter: ',', encoding: "utf-8"}
	WithMissingTokens(DefaultMissingTokens...)(&o)
	for _, opt := range opts {
		opt(&o)
	}

	enc, err := LookupEncoding(o.encoding)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("file", path)
		}
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if info.IsDir() {
		return nil, errors.NewFormatError(path, string(format), "path is a directory")
	}

	exts, ok := formatExtensions[format]
	if !ok {
		return nil, errors.NewFormatError(path, string(format), "unsupported format")
	}
	if ext := strings.ToLower(filepath.Ext(path)); !contains(exts, ext) {
		return nil, errors.NewFormatError(path, string(format), "file extension "+ext+" does not match the declared format")
	}

	var header []string
	var records [][]string
	switch format {
	case FormatCSV:
		header, records, err = readDelimited(path, o.delimiter, enc)
	case FormatSpreadsheet:
		header, records, err = readSpreadsheet(path, o.sheet)
	case FormatJSON:
		header, records, err = readRecords(path, enc)
	}
	if err != nil {
		return nil, errors.NewFormatError(path, string(format), err.Error())
	}

	t, err := buildTable(header, records, o.missingTokens)
	if err != nil {
		return nil, err
	}
	if o.indexColumn != "" {
		t = t.Drop(o.indexColumn)
	}
	return t, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// readText reads path decoded to UTF-8 by enc, or verbatim when enc is nil.
func readText(path string, enc encoding.Encoding) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if enc != nil {
		r = transform.NewReader(f, enc.NewDecoder())
	}
	return io.ReadAll(r)
}

func readDelimited(path string, delimiter rune, enc encoding.Encoding) ([]string, [][]string, error) {
	raw, err := readText(path, enc)
	if err != nil {
		return nil, nil, err
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = delimiter
	reader.FieldsPerRecord = 0

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, errors.New("no header row")
	}
	if err != nil {
		return nil, nil, err
	}
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	return header, records, nil
}

func readSpreadsheet(path, sheet string) ([]string, [][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, nil, errors.New("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, errors.New("no header row")
	}

	header := rows[0]
	records := make([][]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		// trailing empty cells are omitted by the reader
		padded := make([]string, len(header))
		copy(padded, row)
		records = append(records, padded)
	}
	return header, records, nil
}

// readRecords reads a JSON array of flat objects. Columns are the union of
// keys in sorted order; absent keys are missing cells.
func readRecords(path string, enc encoding.Encoding) ([]string, [][]string, error) {
	raw, err := readText(path, enc)
	if err != nil {
		return nil, nil, err
	}
	var objects []map[string]any
	if err := json.Unmarshal(raw, &objects); err != nil {
		return nil, nil, err
	}

	keySet := make(map[string]struct{})
	for _, obj := range objects {
		for k := range obj {
			keySet[k] = struct{}{}
		}
	}
	header := make([]string, 0, len(keySet))
	for k := range keySet {
		header = append(header, k)
	}
	sort.Strings(header)

	records := make([][]string, len(objects))
	for i, obj := range objects {
		row := make([]string, len(header))
		for j, k := range header {
			row[j] = jsonCell(obj[k])
		}
		records[i] = row
	}
	return header, records, nil
}

func jsonCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

// buildTable types each column: numeric when every present cell parses as a
// number, text otherwise.
func buildTable(header []string, records [][]string, missing map[string]bool) (*Table, error) {
	cols := make([]*Column, len(header))
	for j, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = "column_" + strconv.Itoa(j)
		}

		cells := make([]string, len(records))
		null := make([]bool, len(records))
		numeric := true
		nums := make([]float64, len(records))
		for i, rec := range records {
			if j < len(rec) {
				cells[i] = rec[j]
			}
			cell := strings.TrimSpace(cells[i])
			if missing[cell] {
				null[i] = true
				nums[i] = math.NaN()
				continue
			}
			if numeric {
				v, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64)
				if err != nil {
					numeric = false
					continue
				}
				nums[i] = v
			}
		}

		if numeric {
			cols[j] = &Column{Name: name, Type: Numeric, Num: nums, Null: null}
		} else {
			cols[j] = NewText(name, cells, null)
		}
	}
	return NewTable(cols...)
}

// FindDataFile returns the first file in dir (sorted by name) whose extension
// matches format.
func FindDataFile(dir string, format Format) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NewNotFoundError("directory", dir)
		}
		return "", errors.Wrapf(err, "read %s", dir)
	}
	exts := formatExtensions[format]
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if contains(exts, strings.ToLower(filepath.Ext(e.Name()))) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", errors.NewNotFoundError(string(format)+" file", dir)
}

// Save writes t to path in the given format, creating parent directories.
func Save(t *Table, path string, format Format) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	switch format {
	case FormatCSV:
		return saveDelimited(t, path)
	case FormatJSON:
		return saveRecords(t, path)
	case FormatSpreadsheet:
		return saveSpreadsheet(t, path)
	default:
		_, err := ParseFormat(string(format))
		return err
	}
}

func saveDelimited(t *Table, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(t.Names()); err != nil {
		return errors.Wrap(err, "write header")
	}
	row := make([]string, t.NumCols())
	for i := 0; i < t.NumRows(); i++ {
		for j, c := range t.Columns() {
			row[j] = c.Format(i)
		}
		if err := w.Write(row); err != nil {
			return errors.Wrapf(err, "write row %d", i)
		}
	}
	w.Flush()
	return w.Error()
}

func saveRecords(t *Table, path string) error {
	records := make([]map[string]any, t.NumRows())
	for i := range records {
		rec := make(map[string]any, t.NumCols())
		for _, c := range t.Columns() {
			if c.Type == Time && !c.Null[i] {
				rec[c.Name] = c.Format(i)
				continue
			}
			rec[c.Name] = c.Value(i)
		}
		records[i] = rec
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode records")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write %s", path)
}

func saveSpreadsheet(t *Table, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"
	header := make([]any, t.NumCols())
	for j, n := range t.Names() {
		header[j] = n
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return errors.Wrap(err, "write header")
	}
	for i := 0; i < t.NumRows(); i++ {
		row := make([]any, t.NumCols())
		for j, c := range t.Columns() {
			if c.Type == Numeric && !c.Null[i] {
				row[j] = c.Num[i]
			} else {
				row[j] = c.Format(i)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Wrap(err, "cell name")
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return errors.Wrapf(err, "write row %d", i)
		}
	}
	return errors.Wrapf(f.SaveAs(path), "save %s", path)
}

// SaveSplits writes each partition as X_{part}.csv and y_{part}.csv under dir.
// The validation files are only written when the split has one.
func SaveSplits(dir string, s *Partition, target string) error {
	parts := []struct {
		name string
		xy   *XY
	}{
		{"train", &s.Train},
		{"val", s.Validation},
		{"test", &s.Test},
	}
	for _, p := range parts {
		if p.xy == nil {
			continue
		}
		if err := Save(p.xy.X, filepath.Join(dir, "X_"+p.name+".csv"), FormatCSV); err != nil {
			return err
		}
		y, err := NewTable(NewNumeric(target, p.xy.Y))
		if err != nil {
			return err
		}
		if err := Save(y, filepath.Join(dir, "y_"+p.name+".csv"), FormatCSV); err != nil {
			return err
		}
	}
	return nil
}
