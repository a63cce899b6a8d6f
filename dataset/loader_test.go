package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/YuminosukeSato/valuation/pkg/errors"
)

const housesCSV = "id,area,city,price\n1,89.5,Xiangtan,120\n2,NA,Changsha,210.5\n3,120,,180\n"

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeFile(t, "houses.csv", "\xef\xbb\xbf"+housesCSV)

	tbl, err := Load(path, FormatCSV, WithIndexColumn("id"))
	require.NoError(t, err)

	assert.Equal(t, []string{"area", "city", "price"}, tbl.Names())
	assert.Equal(t, 3, tbl.NumRows())

	area, _ := tbl.Column("area")
	assert.Equal(t, Numeric, area.Type)
	assert.True(t, area.Null[1])
	assert.Equal(t, 120.0, area.Num[2])

	city, _ := tbl.Column("city")
	assert.Equal(t, Text, city.Type)
	assert.True(t, city.Null[2])
}

func TestLoadJSONRecords(t *testing.T) {
	path := writeFile(t, "houses.json", `[
		{"area": 89.5, "city": "Xiangtan", "price": 120},
		{"area": null, "city": "Changsha", "price": 210.5, "rooms": 3}
	]`)

	tbl, err := Load(path, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, []string{"area", "city", "price", "rooms"}, tbl.Names())

	rooms, _ := tbl.Column("rooms")
	assert.Equal(t, Numeric, rooms.Type)
	assert.Equal(t, []bool{true, false}, rooms.Null)
}

func TestLoadEncodedText(t *testing.T) {
	const body = "面积,城市,价格\n89.5,湘潭,120\n120,长沙,180\n"
	gbk, err := simplifiedchinese.GBK.NewEncoder().String(body)
	require.NoError(t, err)
	require.NotEqual(t, body, gbk)

	for _, label := range []string{"gbk", "GB2312", "gb18030"} {
		t.Run(label, func(t *testing.T) {
			tbl, err := Load(writeFile(t, "houses.csv", gbk), FormatCSV, WithEncoding(label))
			require.NoError(t, err)
			assert.Equal(t, []string{"面积", "城市", "价格"}, tbl.Names())
			city, _ := tbl.Column("城市")
			assert.Equal(t, []string{"湘潭", "长沙"}, city.Str)
		})
	}

	records, err := simplifiedchinese.GBK.NewEncoder().String(`[{"城市": "湘潭", "价格": 120}]`)
	require.NoError(t, err)
	tbl, err := Load(writeFile(t, "houses.json", records), FormatJSON, WithEncoding("gbk"))
	require.NoError(t, err)
	city, _ := tbl.Column("城市")
	assert.Equal(t, []string{"湘潭"}, city.Str)

	// UTF-8 labels keep the bytes as they are
	tbl, err = Load(writeFile(t, "houses.csv", "\xef\xbb\xbf"+body), FormatCSV, WithEncoding("UTF8"))
	require.NoError(t, err)
	assert.Equal(t, "面积", tbl.Names()[0])
}

func TestLoadErrors(t *testing.T) {
	csvPath := writeFile(t, "houses.csv", housesCSV)

	tests := []struct {
		name  string
		load  func() error
		check func(error) bool
	}{
		{"missing file", func() error {
			_, err := Load(filepath.Join(t.TempDir(), "none.csv"), FormatCSV)
			return err
		}, errors.IsNotFound},
		{"extension mismatch", func() error {
			_, err := Load(csvPath, FormatJSON)
			return err
		}, isFormatError},
		{"unsupported format", func() error {
			_, err := Load(csvPath, Format("parquet"))
			return err
		}, isFormatError},
		{"malformed json", func() error {
			_, err := Load(writeFile(t, "bad.json", "{not json"), FormatJSON)
			return err
		}, isFormatError},
		{"ragged csv", func() error {
			_, err := Load(writeFile(t, "ragged.csv", "a,b\n1\n"), FormatCSV)
			return err
		}, isFormatError},
		{"unknown encoding", func() error {
			_, err := Load(csvPath, FormatCSV, WithEncoding("klingon"))
			return err
		}, errors.IsConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.load()
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error type: %v", err)
		})
	}
}

func isFormatError(err error) bool {
	var fe *errors.FormatError
	return errors.As(err, &fe)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"csv": FormatCSV, ".xlsx": FormatSpreadsheet, "JSON": FormatJSON} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("parquet")
	assert.True(t, errors.IsConfiguration(err))
}

func TestSaveAndReload(t *testing.T) {
	tbl := MustTable(
		NewNumeric("area", []float64{89.5, 120}),
		NewText("city", []string{"xiangtan", "changsha"}, nil),
		NewNumeric("price", []float64{120, 180}),
	)

	for _, format := range Formats {
		t.Run(string(format), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out", "houses."+string(format))
			require.NoError(t, Save(tbl, path, format))

			back, err := Load(path, format)
			require.NoError(t, err)
			for _, name := range tbl.Names() {
				want, _ := tbl.Column(name)
				got, ok := back.Column(name)
				require.True(t, ok, name)
				if diff := cmp.Diff(want, got); diff != "" {
					t.Errorf("column %s mismatch (-want +got):\n%s", name, diff)
				}
			}
		})
	}
}

func TestFindDataFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), nil, 0o600))

	got, err := FindDataFile(dir, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.csv"), got)

	_, err = FindDataFile(dir, FormatJSON)
	assert.True(t, errors.IsNotFound(err))
}

func TestSaveSplits(t *testing.T) {
	tbl := MustTable(NewNumeric("area", seq(10)), NewNumeric("price", seq(10)))
	part, err := Split(tbl, "price", SplitOptions{TestSize: 0.2, Seed: 1})
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, SaveSplits(dir, part, "price"))
	for _, name := range []string{"X_train.csv", "y_train.csv", "X_test.csv", "y_test.csv"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	assert.NoFileExists(t, filepath.Join(dir, "X_val.csv"))
}

func seq(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}
