package artifact

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// Catalog indexes artifact metadata by model name and version.
type Catalog interface {
	// Put records meta. The store calls it after both files are written.
	Put(meta Metadata) error

	// Get returns the metadata of an exact name and version.
	Get(name, version string) (Metadata, error)

	// Versions lists the versions of name in ascending semver order.
	Versions(name string) ([]string, error)

	// List returns every artifact ordered by name, then version.
	List() ([]Metadata, error)

	Close() error
}

const sidecarExt = ".json"

// DirCatalog reads the metadata sidecars of a store directory. It keeps no
// state of its own, so Put is a no-op.
type DirCatalog struct {
	Dir string
}

func NewDirCatalog(dir string) *DirCatalog {
	return &DirCatalog{Dir: dir}
}

func (c *DirCatalog) Put(Metadata) error { return nil }

func (c *DirCatalog) Close() error { return nil }

func (c *DirCatalog) Get(name, version string) (Metadata, error) {
	return readSidecar(filepath.Join(c.Dir, name+"_"+version+sidecarExt))
}

func (c *DirCatalog) Versions(name string) ([]string, error) {
	all, err := c.List()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range all {
		if m.ModelName == name {
			out = append(out, m.Version)
		}
	}
	return out, nil
}

func (c *DirCatalog) List() ([]Metadata, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read artifact directory %s", c.Dir)
	}
	var out []Metadata
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), sidecarExt) {
			continue
		}
		m, err := readSidecar(filepath.Join(c.Dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sortMetadata(out)
	return out, nil
}

func readSidecar(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, errors.NewNotFoundError("artifact", strings.TrimSuffix(filepath.Base(path), sidecarExt))
		}
		return Metadata{}, errors.Wrapf(err, "read %s", path)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, errors.NewFormatError(path, "json", err.Error())
	}
	return m, nil
}

func sortMetadata(ms []Metadata) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].ModelName != ms[j].ModelName {
			return ms[i].ModelName < ms[j].ModelName
		}
		return lessVersion(ms[i].Version, ms[j].Version)
	})
}

func lessVersion(a, b string) bool {
	vs := []string{b, a}
	SortVersions(vs)
	return vs[0] == a && a != b
}

// Key prefix of catalog entries in badger.
const badgerKeyPrefix = "artifact:"

// BadgerCatalog keeps the metadata index in a badger database under keys
// "artifact:{name}:{version}".
type BadgerCatalog struct {
	db *badger.DB
}

// OpenBadgerCatalog opens (or creates) a badger database at path.
func OpenBadgerCatalog(path string) (*BadgerCatalog, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, errors.Wrapf(err, "open badger catalog %s", path)
	}
	return &BadgerCatalog{db: db}, nil
}

// NewBadgerCatalog wraps an already open database.
func NewBadgerCatalog(db *badger.DB) *BadgerCatalog {
	return &BadgerCatalog{db: db}
}

func badgerKey(name, version string) []byte {
	return []byte(badgerKeyPrefix + name + ":" + version)
}

func (c *BadgerCatalog) Put(meta Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "marshal artifact metadata")
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(meta.ModelName, meta.Version), data)
	})
}

func (c *BadgerCatalog) Get(name, version string) (Metadata, error) {
	var m Metadata
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(name, version))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.NewNotFoundError("artifact", name+"_"+version)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	return m, err
}

func (c *BadgerCatalog) scan(prefix string) ([]Metadata, error) {
	var out []Metadata
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			var m Metadata
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan artifact catalog")
	}
	sortMetadata(out)
	return out, nil
}

func (c *BadgerCatalog) Versions(name string) ([]string, error) {
	ms, err := c.scan(badgerKeyPrefix + name + ":")
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Version
	}
	return out, nil
}

func (c *BadgerCatalog) List() ([]Metadata, error) {
	return c.scan(badgerKeyPrefix)
}

func (c *BadgerCatalog) Close() error {
	return c.db.Close()
}
