package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/turbo-run/turbo/api/internal/metadata"
	"github.com/turbo-run/turbo/api/internal/types"
)

// Installer materializes a package source into an installed runtime.
type Installer interface {
	Install(name, version string) error
	Uninstall(name, version string) error
}

// PackageHandler exposes local package-source discovery and
// install/uninstall backed by a build.sh run against packagesPath.
type PackageHandler struct {
	installer    Installer
	repo         Repository
	meta         *metadata.Store
	packagesPath string
	logger       *logrus.Logger
}

// NewPackageHandler creates a new package handler. meta may be nil, in
// which case install-state bookkeeping is skipped.
func NewPackageHandler(installer Installer, repo Repository, meta *metadata.Store, packagesPath string, logger *logrus.Logger) *PackageHandler {
	return &PackageHandler{installer: installer, repo: repo, meta: meta, packagesPath: packagesPath, logger: logger}
}

// RegisterRoutes registers package management routes.
func (ph *PackageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/packages", ph.GetPackages)
	r.Post("/packages", ph.InstallPackage)
	r.Delete("/packages", ph.UninstallPackage)
}

// GetPackages lists every package source under packagesPath, alongside
// whether it is currently installed (resolvable via the runtime repo).
func (ph *PackageHandler) GetPackages(w http.ResponseWriter, r *http.Request) {
	sources, err := ph.listSources()
	if err != nil {
		ph.logger.WithError(err).Error("failed to list package sources")
		ph.sendError(w, "Failed to get package list", http.StatusInternalServerError)
		return
	}

	languageFilter := r.URL.Query().Get("language")

	response := make([]types.PackageInfo, 0, len(sources))
	for _, s := range sources {
		if languageFilter != "" && s.Name != languageFilter {
			continue
		}
		_, resolveErr := ph.repo.Resolve(s.Name, s.Version)
		response = append(response, types.PackageInfo{
			Language:        s.Name,
			LanguageVersion: s.Version,
			Installed:       resolveErr == nil,
		})
	}

	ph.sendJSON(w, response, http.StatusOK)
}

type packageSource struct {
	Name    string
	Version string
}

func (ph *PackageHandler) listSources() ([]packageSource, error) {
	names, err := os.ReadDir(ph.packagesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sources []packageSource
	for _, nameEntry := range names {
		if !nameEntry.IsDir() {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(ph.packagesPath, nameEntry.Name()))
		if err != nil {
			ph.logger.WithError(err).Warnf("failed to read package source dir %s", nameEntry.Name())
			continue
		}
		for _, versionEntry := range versions {
			if !versionEntry.IsDir() {
				continue
			}
			sources = append(sources, packageSource{Name: nameEntry.Name(), Version: versionEntry.Name()})
		}
	}

	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Name != sources[j].Name {
			return sources[i].Name < sources[j].Name
		}
		return sources[i].Version < sources[j].Version
	})

	return sources, nil
}

type packageRequest struct {
	Language string `json:"language"`
	Version  string `json:"version"`
}

func (ph *PackageHandler) decodePackageRequest(w http.ResponseWriter, r *http.Request) (*packageRequest, bool) {
	var req packageRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			ph.sendError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		ph.sendError(w, "Invalid request body", http.StatusBadRequest)
		return nil, false
	}

	if req.Language == "" || req.Version == "" {
		ph.sendError(w, "Language and version are required", http.StatusBadRequest)
		return nil, false
	}

	return &req, true
}

// InstallPackage runs the named package source's build.sh and installs
// its artifacts into the runtimes directory.
func (ph *PackageHandler) InstallPackage(w http.ResponseWriter, r *http.Request) {
	req, ok := ph.decodePackageRequest(w, r)
	if !ok {
		return
	}

	if err := ph.installer.Install(req.Language, req.Version); err != nil {
		ph.logger.WithError(err).Errorf("failed to install %s-%s", req.Language, req.Version)
		ph.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if ph.meta != nil {
		if err := ph.meta.SetInstalled(req.Language, req.Version, true); err != nil {
			ph.logger.WithError(err).Warn("failed to record install state")
		}
		if pd, err := ph.repo.Resolve(req.Language, req.Version); err == nil {
			record := metadata.RuntimeRecord{Language: pd.Yaml.Name, Version: pd.Yaml.Version, Aliases: pd.Yaml.Aliases}
			if err := ph.meta.AddRuntime(record); err != nil {
				ph.logger.WithError(err).Warn("failed to record runtime metadata")
			}
		}
	}

	ph.sendJSON(w, map[string]string{"language": req.Language, "version": req.Version}, http.StatusCreated)
}

// UninstallPackage removes an installed runtime.
func (ph *PackageHandler) UninstallPackage(w http.ResponseWriter, r *http.Request) {
	req, ok := ph.decodePackageRequest(w, r)
	if !ok {
		return
	}

	if err := ph.installer.Uninstall(req.Language, req.Version); err != nil {
		ph.logger.WithError(err).Errorf("failed to uninstall %s-%s", req.Language, req.Version)
		ph.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if ph.meta != nil {
		if err := ph.meta.SetInstalled(req.Language, req.Version, false); err != nil {
			ph.logger.WithError(err).Warn("failed to record uninstall state")
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (ph *PackageHandler) sendError(w http.ResponseWriter, message string, statusCode int) {
	ph.sendJSON(w, types.ErrorResponse{Message: message, Code: statusCode}, statusCode)
}

func (ph *PackageHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		ph.logger.WithError(err).Error("failed to encode JSON response")
	}
}
