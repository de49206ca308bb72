package config

import (
	"net"
	"strconv"
	"time"
)

// Defaults for the listener endpoint and limits.
const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 9876
	DefaultMaxMessageBytes = 16 << 20
	DefaultMaxConnections  = 16
)

// Config is the top-level scenectl configuration.
type Config struct {
	Listener  ListenerConfig  `toml:"listener"`
	Client    ClientConfig    `toml:"client"`
	Host      HostConfig      `toml:"host"`
	Rodin     RodinConfig     `toml:"rodin"`
	Hunyuan3D Hunyuan3DConfig `toml:"hunyuan3d"`
	PolyHaven PolyHavenConfig `toml:"polyhaven"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Log       LogConfig       `toml:"log"`
}

// ListenerConfig controls the command listener inside the host process.
type ListenerConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	MaxRequestBytes int    `toml:"max_request_bytes"`
	MaxConnections  int    `toml:"max_connections"`
	ReadTimeout     string `toml:"read_timeout"`
	IdleTimeout     string `toml:"idle_timeout"`

	// AllowRaw enables the legacy raw-text request shape, where the whole
	// payload is handed to execute_code verbatim.
	AllowRaw bool `toml:"allow_raw"`
}

// ClientConfig holds controller-side timeouts and limits.
type ClientConfig struct {
	Timeout          string `toml:"timeout"`
	MaxResponseBytes int    `toml:"max_response_bytes"`
	PollInterval     string `toml:"poll_interval"`
	PollMaxWait      string `toml:"poll_max_wait"`
	SubmitTimeout    string `toml:"submit_timeout"`
	ImportTimeout    string `toml:"import_timeout"`
}

// HostConfig describes how execute_code reaches the host's script engine.
type HostConfig struct {
	Interpreter    []string          `toml:"interpreter"`
	WorkDir        string            `toml:"work_dir"`
	Env            map[string]string `toml:"env"`
	MaxOutputBytes int               `toml:"max_output_bytes"`
}

// RodinConfig configures the Hyper3D Rodin generation backend.
type RodinConfig struct {
	Enabled           bool              `toml:"enabled"`
	APIKey            string            `toml:"api_key"`
	BaseURL           string            `toml:"base_url"`
	Tier              string            `toml:"tier"`
	MeshMode          string            `toml:"mesh_mode"`
	RequestsPerSecond float64           `toml:"requests_per_second"`
	Headers           map[string]string `toml:"headers"`
}

// Hunyuan3DConfig configures the Hunyuan3D generation backend.
type Hunyuan3DConfig struct {
	Enabled bool   `toml:"enabled"`
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
}

// PolyHavenConfig configures the asset-library integration.
type PolyHavenConfig struct {
	Enabled  bool              `toml:"enabled"`
	BaseURL  string            `toml:"base_url"`
	CacheTTL string            `toml:"cache_ttl"`
	Headers  map[string]string `toml:"headers"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig configures the host-side logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Address returns the host:port the listener binds and clients dial.
func (l ListenerConfig) Address() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// IdleTimeoutDuration returns how long a request may stall mid-read.
func (l ListenerConfig) IdleTimeoutDuration() time.Duration {
	return durationOr(l.IdleTimeout, 5*time.Second)
}

// ReadTimeoutDuration returns the per-connection read deadline.
func (l ListenerConfig) ReadTimeoutDuration() time.Duration {
	return durationOr(l.ReadTimeout, 30*time.Second)
}

// TimeoutDuration returns the default per-call timeout.
func (c ClientConfig) TimeoutDuration() time.Duration {
	return durationOr(c.Timeout, 10*time.Second)
}

// PollIntervalDuration returns the delay between job status polls.
func (c ClientConfig) PollIntervalDuration() time.Duration {
	return durationOr(c.PollInterval, 5*time.Second)
}

// PollMaxWaitDuration returns how long a poll loop may run. Zero means no limit.
func (c ClientConfig) PollMaxWaitDuration() time.Duration {
	return durationOr(c.PollMaxWait, 0)
}

// SubmitTimeoutDuration returns the timeout for job submission (uploads can be large).
func (c ClientConfig) SubmitTimeoutDuration() time.Duration {
	return durationOr(c.SubmitTimeout, 5*time.Minute)
}

// ImportTimeoutDuration returns the timeout for importing a finished job.
func (c ClientConfig) ImportTimeoutDuration() time.Duration {
	return durationOr(c.ImportTimeout, 2*time.Minute)
}

// CacheTTLDuration returns how long category listings stay cached.
func (p PolyHavenConfig) CacheTTLDuration() time.Duration {
	return durationOr(p.CacheTTL, time.Hour)
}

func durationOr(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
