package artifact

import (
	"fmt"
	"sort"

	"golang.org/x/mod/semver"

	"github.com/YuminosukeSato/valuation/pkg/errors"
)

// FirstVersion is the version of the first artifact saved under a name.
const FirstVersion = "v1.0.0"

// ValidateVersion checks that v is a semantic version tag such as "v1",
// "v1.2" or "v1.2.3-rc.1". Tags are stored as given.
func ValidateVersion(v string) error {
	if !semver.IsValid(v) {
		return errors.NewValidationError("version", "must be a semantic version like v1.2.3", v)
	}
	return nil
}

// SameVersion reports whether a and b have equal semantic version
// precedence, so "v1" and "v1.0.0" are the same version.
func SameVersion(a, b string) bool {
	return semver.Compare(a, b) == 0
}

// SortVersions orders versions by semantic version precedence, ascending.
func SortVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return semver.Compare(versions[i], versions[j]) < 0
	})
}

// NextVersion returns the patch successor of the highest of versions, or
// FirstVersion when there are none.
func NextVersion(versions []string) (string, error) {
	if len(versions) == 0 {
		return FirstVersion, nil
	}
	latest := versions[0]
	for _, v := range versions[1:] {
		if semver.Compare(v, latest) > 0 {
			latest = v
		}
	}
	var major, minor, patch int
	core := semver.Canonical(latest)
	if pre := semver.Prerelease(core); pre != "" {
		core = core[:len(core)-len(pre)]
	}
	if _, err := fmt.Sscanf(core, "v%d.%d.%d", &major, &minor, &patch); err != nil {
		return "", errors.NewValidationError("version", "cannot increment", latest)
	}
	return fmt.Sprintf("v%d.%d.%d", major, minor, patch+1), nil
}
