// Package pkgrepo resolves (language, version?) pairs against an on-disk
// tree of installed runtimes, the way the original runtime manager scanned
// a packages directory, but stateless: every call re-reads the directory
// it needs rather than caching in a package-level slice.
package pkgrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/turbo-run/turbo/api/internal/types"
)

// ErrPackageNotFound is returned by Resolve when no installed directory
// satisfies the requested name and version.
var ErrPackageNotFound = errors.New("package not found")

// Repository resolves installed runtimes rooted at a single directory.
type Repository struct {
	root   string
	logger *logrus.Entry
}

// NewRepository creates a repository over <root>/<name>/<version>/...
func NewRepository(root string, logger *logrus.Logger) *Repository {
	return &Repository{root: root, logger: logger.WithField("component", "pkgrepo")}
}

// Resolve finds the installed runtime for name and an optional version.
// An absent or "latest" version picks the numerically greatest semver
// directory; unparseable version directories are skipped with a warning.
func (r *Repository) Resolve(name, version string) (*types.PackageDefinition, error) {
	langDir := filepath.Join(r.root, name)

	if version == "" || version == "latest" {
		v, err := r.findLatestVersion(name)
		if err != nil {
			return nil, err
		}
		version = v
	} else {
		if _, err := os.Stat(filepath.Join(langDir, version)); err != nil {
			return nil, fmt.Errorf("%w: %s-%s", ErrPackageNotFound, name, version)
		}
	}

	return r.load(name, version)
}

func (r *Repository) findLatestVersion(name string) (string, error) {
	langDir := filepath.Join(r.root, name)
	entries, err := os.ReadDir(langDir)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPackageNotFound, name)
	}

	var best *semver.Version
	var bestRaw string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		v, err := semver.NewVersion(entry.Name())
		if err != nil {
			r.logger.Warnf("skipping unparseable version directory %s/%s: %v", name, entry.Name(), err)
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestRaw = entry.Name()
		}
	}

	if best == nil {
		return "", fmt.Errorf("%w: %s", ErrPackageNotFound, name)
	}
	return bestRaw, nil
}

func (r *Repository) load(name, version string) (*types.PackageDefinition, error) {
	path := filepath.Join(r.root, name, version)

	manifestPath := filepath.Join(path, "package.yaml")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read package.yaml at %s: %w", path, err)
	}

	var manifest types.PackageYaml
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse package.yaml at %s: %w", manifestPath, err)
	}

	if manifest.Name == "" {
		manifest.Name = name
	}
	if manifest.Version == "" {
		manifest.Version = version
	}

	return &types.PackageDefinition{Path: path, Yaml: manifest}, nil
}

// NameVersion is one entry returned by ListAll.
type NameVersion struct {
	Name    string
	Version string
}

// ListAll walks the two-level <root>/<name>/<version> tree and returns
// every installed (name, version) pair, sorted by name ascending then
// version descending; non-semver version directories are skipped.
func (r *Repository) ListAll() ([]NameVersion, error) {
	names, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read runtimes root %s: %w", r.root, err)
	}

	var results []NameVersion
	for _, nameEntry := range names {
		if !nameEntry.IsDir() {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(r.root, nameEntry.Name()))
		if err != nil {
			r.logger.WithError(err).Warnf("failed to read language dir %s", nameEntry.Name())
			continue
		}
		for _, versionEntry := range versions {
			if !versionEntry.IsDir() {
				continue
			}
			if _, err := semver.NewVersion(versionEntry.Name()); err != nil {
				continue
			}
			if _, err := os.Stat(filepath.Join(r.root, nameEntry.Name(), versionEntry.Name(), "run.sh")); err != nil {
				continue
			}
			results = append(results, NameVersion{Name: nameEntry.Name(), Version: versionEntry.Name()})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Name != results[j].Name {
			return results[i].Name < results[j].Name
		}
		vi, erri := semver.NewVersion(results[i].Version)
		vj, errj := semver.NewVersion(results[j].Version)
		if erri == nil && errj == nil {
			return vi.GreaterThan(vj)
		}
		return results[i].Version > results[j].Version
	})

	return results, nil
}
