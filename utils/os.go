package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/n0rdy/qakka/common"
)

const (
	qakkaDir        = "qakka"
	qakkaDbFile     = "qakka.db"
	payloadsDbFile  = "payloads.db"
	dataDirFileMode = 0o750
)

type DataPaths struct {
	Dir          string
	DBPath       string
	PayloadsPath string
}

// GetOrCreateDataPaths resolves where the SQLite store and the payload store live.
// An explicit dataDir wins; otherwise the OS-specific default location is used.
func GetOrCreateDataPaths(dataDir string) (*DataPaths, error) {
	dir := dataDir
	if dir == "" {
		var err error
		dir, err = defaultDataDir()
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(dir, dataDirFileMode); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	return &DataPaths{
		Dir:          dir,
		DBPath:       filepath.Join(dir, qakkaDbFile),
		PayloadsPath: filepath.Join(dir, payloadsDbFile),
	}, nil
}

func defaultDataDir() (string, error) {
	possibleDirs := getAllPossibleDataDirs()

	// an existing store wins over the preferred location, as the OS settings (e.g., env vars) might have changed
	var existingDirs []string
	for _, dir := range possibleDirs {
		if _, err := os.Stat(filepath.Join(dir, qakkaDbFile)); err == nil {
			existingDirs = append(existingDirs, dir)
		}
	}

	if len(existingDirs) > 1 {
		return "", fmt.Errorf("multiple qakka stores found at: %v. Please remove duplicates manually", existingDirs)
	}
	if len(existingDirs) == 1 {
		return existingDirs[0], nil
	}
	return getPreferredDataDir(), nil
}

func getAllPossibleDataDirs() []string {
	var dirs []string

	switch runtime.GOOS {
	case common.WindowsOS:
		if appData := os.Getenv("APPDATA"); appData != "" {
			dirs = append(dirs, filepath.Join(appData, qakkaDir))
		}
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			dirs = append(dirs, filepath.Join(localAppData, qakkaDir))
		}
	case common.MacOS:
		if homeDir, _ := os.UserHomeDir(); homeDir != "" {
			dirs = append(dirs, filepath.Join(homeDir, "Library", "Application Support", qakkaDir))
		}
	case common.LinuxOS:
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			dirs = append(dirs, filepath.Join(xdgData, qakkaDir))
		}
		if homeDir, _ := os.UserHomeDir(); homeDir != "" {
			dirs = append(dirs, filepath.Join(homeDir, ".local", "share", qakkaDir))
		}
	}

	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		dirs = append(dirs, filepath.Join(homeDir, qakkaDir)) // fallback location
	}
	return dirs
}

func getPreferredDataDir() string {
	dirs := getAllPossibleDataDirs()
	if len(dirs) == 0 {
		return qakkaDir
	}
	return dirs[0]
}
