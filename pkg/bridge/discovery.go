package bridge

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
)

const (
	EnvExecutablePath  = "VTR_EXTRACTOR_PATH"
	ExecutableBaseName = "vtr-feature-extractor"
)

// Locator finds the peer executable. The zero value is not usable; use
// DefaultLocator.
type Locator struct {
	Name     string
	GOOS     string
	ExeDir   string
	Getenv   func(string) string
	LookPath func(string) (string, error)
}

// DefaultLocator inspects the running process and environment
func DefaultLocator() Locator {
	exeDir := ""
	if exe, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
	}
	return Locator{
		Name:     ExecutableName(runtime.GOOS),
		GOOS:     runtime.GOOS,
		ExeDir:   exeDir,
		Getenv:   os.Getenv,
		LookPath: exec.LookPath,
	}
}

// ExecutableName returns the peer file name for goos
func ExecutableName(goos string) string {
	if goos == "windows" {
		return ExecutableBaseName + ".exe"
	}
	return ExecutableBaseName
}

// Candidates lists the file locations checked before the search path
func (l Locator) Candidates() []string {
	var paths []string

	if l.Getenv != nil {
		if override := l.Getenv(EnvExecutablePath); override != "" {
			paths = append(paths, override)
		}
	}

	if l.ExeDir != "" {
		if l.GOOS == "darwin" {
			paths = append(paths, filepath.Join(l.ExeDir, "..", "Resources", l.Name))
		}
		paths = append(paths, filepath.Join(l.ExeDir, l.Name))
	}

	paths = append(paths,
		l.Name,
		filepath.Join("standalone_extractor", "dist", l.Name),
		filepath.Join("..", "standalone_extractor", "dist", l.Name),
	)
	if l.ExeDir != "" {
		paths = append(paths, filepath.Join(l.ExeDir, "..", "..", "..", "standalone_extractor", "dist", l.Name))
	}
	return paths
}

// Find returns the first candidate that is a regular file, falling back to
// the system search path.
func (l Locator) Find() (string, error) {
	candidates := l.Candidates()
	for _, p := range candidates {
		if isRegularFile(p) {
			if abs, err := filepath.Abs(p); err == nil {
				return abs, nil
			}
			return p, nil
		}
	}

	if l.LookPath != nil {
		if p, err := l.LookPath(l.Name); err == nil {
			return p, nil
		}
	}

	return "", common.NewAudioError(common.BackendExternal, common.ErrCodeNotFound,
		fmt.Sprintf("%s not found in %d candidate paths or PATH", l.Name, len(candidates)), nil)
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
