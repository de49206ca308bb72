package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/lydakis/scenectl/internal/paths"
)

const fileHeader = `# scenectl configuration.
# String values may reference environment variables as ${NAME}.
# SCENECTL_ADDR, SCENECTL_PORT and SCENECTL_RODIN_API_KEY override the file.

`

// Save writes the config to the default config path.
func Save(cfg *Config) error {
	return SaveTo(paths.ConfigFile(), cfg)
}

// SaveTo encodes cfg as TOML and replaces path with it. The file is
// private to the user since it may hold API keys.
func SaveTo(path string, cfg *Config) error {
	if cfg == nil {
		cfg = Default()
	}

	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return writeAtomic(path, buf.Bytes())
}

func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	if err = f.Chmod(0o600); err != nil {
		return fmt.Errorf("setting config permissions: %w", err)
	}
	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("syncing config: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing config: %w", err)
	}
	if err = os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("replacing config file: %w", err)
	}
	return nil
}
