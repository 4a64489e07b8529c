// Package catalog provides an in-process package index usable as an installer backend.
//
// Each package version is a set of files. A constraint is resolved to the highest matching version.
package catalog

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/semver"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"go.uber.org/atomic"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/installer"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

type Package struct {
	Name    string            `json:"name"`
	Version string            `json:"version"`
	Files   map[string]string `json:"files,omitempty"`
}

type Backend struct {
	lock        sync.RWMutex
	packages    map[string][]Package
	invocations *atomic.Int64
}

func New(packages ...Package) (*Backend, error) {
	b := &Backend{packages: make(map[string][]Package), invocations: atomic.NewInt64(0)}
	if err := b.Add(packages...); err != nil {
		return nil, err
	}
	return b, nil
}

// LoadFile creates the backend from a JSON file with an array of packages.
func LoadFile(fs afero.Fs, path string) (*Backend, error) {
	content, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.PrefixErrorf(err, `cannot read catalog "%s"`, path)
	}

	var packages []Package
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(content, &packages); err != nil {
		return nil, errors.PrefixErrorf(err, `cannot decode catalog "%s"`, path)
	}

	return New(packages...)
}

func (b *Backend) Add(packages ...Package) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	for _, pkg := range packages {
		if _, err := semver.NewVersion(pkg.Version); err != nil {
			return errors.Errorf(`invalid version "%s" of package "%s"`, pkg.Version, pkg.Name)
		}
		name := normalize(pkg.Name)
		b.packages[name] = append(b.packages[name], pkg)
	}
	return nil
}

// Invocations returns the number of Install calls.
func (b *Backend) Invocations() int64 {
	return b.invocations.Load()
}

// Resolve returns the highest version matching the spec.
func (b *Backend) Resolve(spec constraint.Spec) (Package, bool) {
	b.lock.RLock()
	defer b.lock.RUnlock()

	var best Package
	var bestVersion *semver.Version
	for _, pkg := range b.packages[normalize(spec.Name)] {
		if !spec.Matches(pkg.Version) {
			continue
		}
		version, err := semver.NewVersion(pkg.Version)
		if err != nil {
			continue
		}
		if bestVersion == nil || version.GreaterThan(bestVersion) {
			best, bestVersion = pkg, version
		}
	}
	return best, bestVersion != nil
}

func (b *Backend) Install(ctx context.Context, req installer.BuildRequest) error {
	b.invocations.Add(1)

	errs := errors.NewMultiError()
	resolved := make([]Package, 0, len(req.Constraints))
	for _, spec := range req.Constraints {
		if pkg, ok := b.Resolve(spec); ok {
			resolved = append(resolved, pkg)
		} else {
			errs.Append(errors.Errorf(`no version of package "%s" matches "%s"`, spec.Name, spec.String()))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}

	for _, pkg := range resolved {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writePackage(req.Fs, req.Dir, pkg); err != nil {
			return err
		}
	}
	return nil
}

func writePackage(fs afero.Fs, dir string, pkg Package) error {
	metadataDir := filepath.Join(dir, normalize(pkg.Name)+"-"+pkg.Version+".dist-info")
	if err := fs.MkdirAll(metadataDir, 0o755); err != nil {
		return err
	}
	metadata := "Name: " + pkg.Name + "\nVersion: " + pkg.Version + "\n"
	if err := afero.WriteFile(fs, filepath.Join(metadataDir, "METADATA"), []byte(metadata), 0o644); err != nil {
		return err
	}

	for path, content := range pkg.Files {
		target := filepath.Join(dir, filepath.FromSlash(path))
		if !filepath.IsLocal(filepath.FromSlash(path)) {
			return errors.Errorf(`invalid file path "%s" in package "%s"`, path, pkg.Name)
		}
		if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := afero.WriteFile(fs, target, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", "_")
}
