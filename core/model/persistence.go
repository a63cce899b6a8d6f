package model

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// SaveModel はモデルを gob 形式でファイルに保存する。
// インターフェース型のフィールドを含む場合、具象型は事前に gob.Register されている必要がある。
//
// 使用例:
//
//	reg := linear.NewRidge()
//	// ... モデルの学習 ...
//	err := model.SaveModel(reg, "ridge.gob")
func SaveModel(v any, filename string) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "create %s", filename)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", filename)
		}
	}()
	return SaveModelToWriter(v, file)
}

// LoadModel はファイルからモデルを読み込む。v はポインタでなければならない。
// ファイルが存在しない場合は NotFoundError を返す。
func LoadModel(v any, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("file", filename)
		}
		return errors.Wrapf(err, "open %s", filename)
	}
	defer file.Close()
	return LoadModelFromReader(v, file)
}

// SaveModelToWriter はモデルを io.Writer に保存する
func SaveModelToWriter(v any, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(v); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader は io.Reader からモデルを読み込む
func LoadModelFromReader(v any, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(v); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}
