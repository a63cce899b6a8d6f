package model

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// Params はハイパーパラメータの名前と値の対応。
// 値は設定ファイル由来の int / float64 / string / bool / nil を想定する。
type Params map[string]any

// Clone は浅いコピーを返す
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge は p に override を重ねた新しい Params を返す
func (p Params) Merge(override Params) Params {
	out := p.Clone()
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Keys はキーを昇順で返す
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String は決定的な順序で "k=v" を連結した表現を返す
func (p Params) String() string {
	s := "{"
	for i, k := range p.Keys() {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s=%v", k, p[k])
	}
	return s + "}"
}

// Float は key の値を float64 として取り出す。キーが無ければ def。
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, errors.NewValidationError(key, "expected a number", v)
		}
		return f, nil
	default:
		return 0, errors.NewValidationError(key, "expected a number", v)
	}
}

// Int は key の値を int として取り出す。整数でない浮動小数点はエラー。
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, errors.NewValidationError(key, "expected an integer", v)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, errors.NewValidationError(key, "expected an integer", v)
		}
		return n, nil
	default:
		return 0, errors.NewValidationError(key, "expected an integer", v)
	}
}

// OptionalInt は nil を「制限なし」として扱う（max_depth など）。戻り値 0 は未指定を表す。
func (p Params) OptionalInt(key string) (int, error) {
	return p.Int(key, 0)
}

// Str は key の値を文字列として取り出す
func (p Params) Str(key, def string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.NewValidationError(key, "expected a string", v)
	}
	return s, nil
}

// Bool は key の値を bool として取り出す
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, errors.NewValidationError(key, "expected a boolean", v)
		}
		return b, nil
	default:
		return false, errors.NewValidationError(key, "expected a boolean", v)
	}
}

// CheckKeys は allowed に含まれないキーがあれば ValidationError を返す
func (p Params) CheckKeys(allowed ...string) error {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	for _, k := range p.Keys() {
		if _, ok := set[k]; !ok {
			return errors.NewValidationError(k, "unknown hyperparameter", p[k])
		}
	}
	return nil
}
