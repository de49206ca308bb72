package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/lydakis/scenectl/internal/paths"
)

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Environment overrides applied after the config file is parsed.
const (
	EnvAddr        = "SCENECTL_ADDR"
	EnvPort        = "SCENECTL_PORT"
	EnvRodinAPIKey = "SCENECTL_RODIN_API_KEY"
)

// Load reads the config file and returns the parsed Config.
// If the config file does not exist, it returns the defaults (no error).
func Load() (*Config, error) {
	return LoadFrom(paths.ConfigFile())
}

// LoadFrom reads and parses a config file at the given path.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	applyDefaults(cfg)
	expandConfigEnvVars(cfg)
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	cfg := &Config{
		PolyHaven: PolyHavenConfig{Enabled: true},
	}
	applyDefaults(cfg)
	return cfg
}

// ExampleConfigPath returns the default config file path (for help messages).
func ExampleConfigPath() string {
	return paths.ConfigFile()
}

func applyDefaults(cfg *Config) {
	if cfg.Listener.Host == "" {
		cfg.Listener.Host = DefaultHost
	}
	if cfg.Listener.Port == 0 {
		cfg.Listener.Port = DefaultPort
	}
	if cfg.Listener.MaxRequestBytes == 0 {
		cfg.Listener.MaxRequestBytes = DefaultMaxMessageBytes
	}
	if cfg.Listener.MaxConnections == 0 {
		cfg.Listener.MaxConnections = DefaultMaxConnections
	}
	if cfg.Client.MaxResponseBytes == 0 {
		cfg.Client.MaxResponseBytes = DefaultMaxMessageBytes
	}
	if cfg.Host.MaxOutputBytes == 0 {
		cfg.Host.MaxOutputBytes = 1 << 20
	}
	if cfg.Rodin.BaseURL == "" {
		cfg.Rodin.BaseURL = "https://hyperhuman.deemos.com/api"
	}
	if cfg.Rodin.Tier == "" {
		cfg.Rodin.Tier = "Sketch"
	}
	if cfg.Rodin.MeshMode == "" {
		cfg.Rodin.MeshMode = "Raw"
	}
	if cfg.Rodin.RequestsPerSecond == 0 {
		cfg.Rodin.RequestsPerSecond = 2
	}
	if cfg.PolyHaven.BaseURL == "" {
		cfg.PolyHaven.BaseURL = "https://api.polyhaven.com"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvAddr)); v != "" {
		host, port, err := splitEnvAddr(v)
		if err != nil {
			return err
		}
		cfg.Listener.Host = host
		if port != 0 {
			cfg.Listener.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q: %w", EnvPort, v, err)
		}
		cfg.Listener.Port = port
	}
	if v := os.Getenv(EnvRodinAPIKey); v != "" {
		cfg.Rodin.APIKey = v
		cfg.Rodin.Enabled = true
	}
	return nil
}

func expandConfigEnvVars(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Rodin.APIKey = expandEnvVars(cfg.Rodin.APIKey)
	cfg.Rodin.BaseURL = expandEnvVars(cfg.Rodin.BaseURL)
	cfg.Hunyuan3D.APIKey = expandEnvVars(cfg.Hunyuan3D.APIKey)
	cfg.Hunyuan3D.BaseURL = expandEnvVars(cfg.Hunyuan3D.BaseURL)
	cfg.PolyHaven.BaseURL = expandEnvVars(cfg.PolyHaven.BaseURL)
	cfg.Host.WorkDir = expandEnvVars(cfg.Host.WorkDir)

	for i := range cfg.Host.Interpreter {
		cfg.Host.Interpreter[i] = expandEnvVars(cfg.Host.Interpreter[i])
	}
	for k, v := range cfg.Host.Env {
		cfg.Host.Env[k] = expandEnvVars(v)
	}
	for k, v := range cfg.Rodin.Headers {
		cfg.Rodin.Headers[k] = expandEnvVars(v)
	}
	for k, v := range cfg.PolyHaven.Headers {
		cfg.PolyHaven.Headers[k] = expandEnvVars(v)
	}
}

// expandEnvVars replaces ${VAR_NAME} with the value of the environment variable.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarRe.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // leave unresolved vars as-is
	})
}

// splitEnvAddr accepts either a bare host or host:port. A zero port
// means none was given.
func splitEnvAddr(v string) (string, int, error) {
	host, rawPort, err := net.SplitHostPort(v)
	if err != nil {
		return strings.Trim(v, "[]"), 0, nil
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("%s: invalid port %q in %q", EnvAddr, rawPort, v)
	}
	return host, port, nil
}
