// Package installer materializes a runtime from a local package source
// directory into the runtimes directory by running that package's
// build.sh.
package installer

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Installer installs packages from packagesPath into runtimesDir.
type Installer struct {
	packagesPath string
	runtimesDir  string
	logger       *logrus.Entry
}

// New creates an installer over the given package-source and
// runtimes-directory roots.
func New(packagesPath, runtimesDir string, logger *logrus.Logger) *Installer {
	return &Installer{
		packagesPath: packagesPath,
		runtimesDir:  runtimesDir,
		logger:       logger.WithField("component", "installer"),
	}
}

// Install runs <packagesPath>/<name>/<version>/build.sh <install_dir> and,
// on success, copies run.sh/compile.sh/env/package.yaml into the runtimes
// directory. Idempotent: if the install directory already exists, it
// succeeds immediately without re-running build.sh.
func (i *Installer) Install(name, version string) error {
	installDir := filepath.Join(i.runtimesDir, name, version)
	if _, err := os.Stat(installDir); err == nil {
		i.logger.Debugf("%s-%s already installed", name, version)
		return nil
	}

	srcDir, err := filepath.Abs(filepath.Join(i.packagesPath, name, version))
	if err != nil {
		return fmt.Errorf("failed to resolve package source path: %w", err)
	}

	buildScript := filepath.Join(srcDir, "build.sh")
	if _, err := os.Stat(buildScript); err != nil {
		return fmt.Errorf("package %s-%s has no build.sh: %w", name, version, err)
	}
	if err := os.Chmod(buildScript, 0755); err != nil {
		i.logger.WithError(err).Warn("failed to chmod build.sh")
	}

	if err := os.MkdirAll(installDir, 0755); err != nil {
		return fmt.Errorf("failed to create install directory: %w", err)
	}

	cmd := exec.Command(buildScript, installDir)
	cmd.Dir = srcDir
	if output, err := cmd.CombinedOutput(); err != nil {
		_ = os.RemoveAll(installDir)
		return fmt.Errorf("build.sh failed for %s-%s: %w\n%s", name, version, err, output)
	}

	for _, optional := range []string{"run.sh", "compile.sh", "env", "package.yaml"} {
		src := filepath.Join(srcDir, optional)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyExecutable(src, filepath.Join(installDir, optional)); err != nil {
			_ = os.RemoveAll(installDir)
			return fmt.Errorf("failed to copy %s for %s-%s: %w", optional, name, version, err)
		}
	}

	i.logger.Infof("installed %s-%s", name, version)
	return nil
}

// Uninstall removes the installed runtime directory.
func (i *Installer) Uninstall(name, version string) error {
	installDir := filepath.Join(i.runtimesDir, name, version)
	if err := os.RemoveAll(installDir); err != nil {
		return fmt.Errorf("failed to remove %s-%s: %w", name, version, err)
	}
	return nil
}

func copyExecutable(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	mode := os.FileMode(0644)
	if filepath.Ext(src) == ".sh" {
		mode = 0755
	}
	return os.WriteFile(dest, data, mode)
}
