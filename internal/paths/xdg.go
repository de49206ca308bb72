package paths

import (
	"os"
	"path/filepath"
)

const appName = "scenectl"

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	h, _ := os.UserHomeDir()
	return h
}

func xdgDir(envVar, fallbackSuffix string) string {
	if v := os.Getenv(envVar); v != "" {
		return filepath.Join(v, appName)
	}
	return filepath.Join(homeDir(), fallbackSuffix, appName)
}

// ConfigDir returns the scenectl config directory ($XDG_CONFIG_HOME/scenectl).
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// CacheDir returns the scenectl cache directory ($XDG_CACHE_HOME/scenectl).
func CacheDir() string {
	return xdgDir("XDG_CACHE_HOME", ".cache")
}

// StateDir returns the scenectl state directory ($XDG_STATE_HOME/scenectl).
func StateDir() string {
	return xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

// DataDir returns the scenectl data directory ($XDG_DATA_HOME/scenectl).
// Imported assets live here.
func DataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ConfigFile returns the path to config.toml.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DatabasePath returns the path to the host asset database.
func DatabasePath() string {
	return filepath.Join(StateDir(), "scene.db")
}

// AssetsDir returns the directory imported generation results are written to.
func AssetsDir() string {
	return filepath.Join(DataDir(), "assets")
}

// EnsureDir creates a directory and parents if needed.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
