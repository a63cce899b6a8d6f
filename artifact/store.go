package artifact

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/YuminosukeSato/valuation/core/model"
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
)

const (
	bundleExt = ".gob"
	fileMode  = 0o644
)

// Store saves and loads artifacts in a directory.
type Store struct {
	dir     string
	catalog Catalog
	logger  log.Logger
	now     func() time.Time

	mu sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCatalog replaces the default directory catalog. The store takes
// ownership and closes it in Close.
func WithCatalog(c Catalog) StoreOption {
	return func(s *Store) { s.catalog = c }
}

func WithLogger(l log.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore opens dir, creating it when needed.
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create artifact directory %s", dir)
	}
	s := &Store{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.catalog == nil {
		s.catalog = NewDirCatalog(dir)
	}
	s.logger = log.OrDefault(s.logger, "artifact")
	return s, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the bundle path of name at version.
func (s *Store) Path(name, version string) string {
	return filepath.Join(s.dir, name+"_"+version+bundleExt)
}

func (s *Store) sidecarPath(name, version string) string {
	return filepath.Join(s.dir, name+"_"+version+sidecarExt)
}

// Save persists a and returns the stored copy with ID, Version, TrainedAt and
// NFeatures filled in. An empty Metadata.Version takes the patch successor
// of the latest stored version. Saving onto an existing version fails with
// a ValidationError and leaves the stored files untouched.
func (s *Store) Save(a *Artifact) (*Artifact, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := *a
	meta := &out.Metadata
	meta.Params = a.Metadata.Params.Clone()
	if meta.Version == "" {
		existing, err := s.catalog.Versions(meta.ModelName)
		if err != nil {
			return nil, err
		}
		v, err := NextVersion(existing)
		if err != nil {
			return nil, err
		}
		meta.Version = v
	} else {
		if err := ValidateVersion(meta.Version); err != nil {
			return nil, err
		}
		existing, err := s.catalog.Versions(meta.ModelName)
		if err != nil {
			return nil, err
		}
		for _, v := range existing {
			if SameVersion(v, meta.Version) {
				return nil, errors.NewValidationError("version",
					"artifact already exists and is never overwritten", meta.ModelName+"_"+v)
			}
		}
	}
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.TrainedAt.IsZero() {
		meta.TrainedAt = s.now().UTC()
	}
	if meta.NFeatures == 0 {
		meta.NFeatures = out.Estimator.NFeatures()
	}
	if meta.Kind == "" {
		meta.Kind = meta.ModelName
	}

	var buf bytes.Buffer
	if err := model.SaveModelToWriter(&bundle{
		Metadata:     *meta,
		Estimator:    out.Estimator,
		Preprocessor: out.Preprocessor,
	}, &buf); err != nil {
		return nil, errors.Wrapf(err, "encode artifact %s", meta.Key())
	}
	sidecar, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, errors.Wrapf(err, "encode metadata of %s", meta.Key())
	}

	path := s.Path(meta.ModelName, meta.Version)
	if err := writeExclusive(path, buf.Bytes()); err != nil {
		return nil, err
	}
	sidecarPath := s.sidecarPath(meta.ModelName, meta.Version)
	if err := os.WriteFile(sidecarPath, sidecar, fileMode); err != nil {
		_ = os.Remove(path)
		_ = os.Remove(sidecarPath)
		return nil, errors.Wrapf(err, "write metadata of %s", meta.Key())
	}
	if err := s.catalog.Put(*meta); err != nil {
		// files stay on disk only for indexed versions
		_ = os.Remove(path)
		_ = os.Remove(sidecarPath)
		return nil, errors.Wrapf(err, "index artifact %s", meta.Key())
	}

	s.logger.Info("artifact saved",
		log.OperationKey, log.OperationSave,
		log.ModelNameKey, meta.ModelName,
		log.ModelVersionKey, meta.Version,
		log.ArtifactIDKey, meta.ID,
		log.PathKey, path,
	)
	return &out, nil
}

func writeExclusive(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	if err != nil {
		if os.IsExist(err) {
			return errors.NewValidationError("version", "artifact already exists and is never overwritten", filepath.Base(path))
		}
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	if _, err = f.Write(data); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

// resolve returns the stored tag of name at version. The tag as written is
// tried first, then any stored tag of equal precedence, so an artifact saved
// as "v1" loads as "v1.0.0" and the other way round.
func (s *Store) resolve(name, version string) (string, error) {
	if err := ValidateVersion(version); err != nil {
		return "", err
	}
	if _, err := os.Stat(s.Path(name, version)); err == nil {
		return version, nil
	}
	stored, err := s.catalog.Versions(name)
	if err != nil {
		return "", err
	}
	for _, v := range stored {
		if SameVersion(v, version) {
			return v, nil
		}
	}
	return "", errors.NewNotFoundError("artifact", name+"_"+version)
}

// Load returns the artifact saved as name at exactly version.
func (s *Store) Load(name, version string) (*Artifact, error) {
	v, err := s.resolve(name, version)
	if err != nil {
		return nil, err
	}
	path := s.Path(name, v)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("artifact", name+"_"+v)
		}
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var b bundle
	if err := model.LoadModelFromReader(&b, f); err != nil {
		return nil, errors.NewFormatError(path, "gob", err.Error())
	}
	if b.Estimator == nil {
		return nil, errors.NewFormatError(path, "gob", "bundle has no estimator")
	}
	s.logger.Debug("artifact loaded",
		log.OperationKey, log.OperationLoad,
		log.ModelNameKey, name,
		log.ModelVersionKey, v,
	)
	return &Artifact{Metadata: b.Metadata, Estimator: b.Estimator, Preprocessor: b.Preprocessor}, nil
}

// LoadLatest loads the highest version of name.
func (s *Store) LoadLatest(name string) (*Artifact, error) {
	versions, err := s.Versions(name)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, errors.NewNotFoundError("artifact", name)
	}
	return s.Load(name, versions[len(versions)-1])
}

// Versions lists the stored versions of name, lowest first.
func (s *Store) Versions(name string) ([]string, error) {
	vs, err := s.catalog.Versions(name)
	if err != nil {
		return nil, err
	}
	SortVersions(vs)
	return vs, nil
}

// List returns the metadata of every stored artifact.
func (s *Store) List() ([]Metadata, error) {
	return s.catalog.List()
}

// Metadata returns the catalog entry of name at version.
func (s *Store) Metadata(name, version string) (Metadata, error) {
	v, err := s.resolve(name, version)
	if err != nil {
		return Metadata{}, err
	}
	return s.catalog.Get(name, v)
}

func (s *Store) Close() error {
	return s.catalog.Close()
}
