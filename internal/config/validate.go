package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks configuration invariants and returns actionable errors.
func Validate(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var errs []error
	errs = append(errs, validateListener(cfg.Listener)...)
	errs = append(errs, validateClient(cfg.Client)...)

	if cfg.Rodin.Enabled && strings.TrimSpace(cfg.Rodin.APIKey) == "" {
		errs = append(errs, errors.New("rodin.api_key: required when rodin.enabled = true"))
	}
	if cfg.Rodin.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("rodin.requests_per_second: must be >= 0, got %v", cfg.Rodin.RequestsPerSecond))
	}
	errs = append(errs, validateURL("rodin.base_url", cfg.Rodin.BaseURL)...)
	errs = append(errs, validateURL("polyhaven.base_url", cfg.PolyHaven.BaseURL)...)
	if cfg.Hunyuan3D.BaseURL != "" {
		errs = append(errs, validateURL("hunyuan3d.base_url", cfg.Hunyuan3D.BaseURL)...)
	}
	errs = append(errs, validateDuration("polyhaven.cache_ttl", cfg.PolyHaven.CacheTTL, false)...)

	for i, arg := range cfg.Host.Interpreter {
		if strings.TrimSpace(arg) == "" {
			errs = append(errs, fmt.Errorf("host.interpreter[%d]: must not be empty", i))
		}
	}
	if cfg.Host.MaxOutputBytes < 0 {
		errs = append(errs, fmt.Errorf("host.max_output_bytes: must be >= 0, got %d", cfg.Host.MaxOutputBytes))
	}

	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", cfg.Log.Level))
	}
	switch cfg.Log.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q (want console or json)", cfg.Log.Format))
	}

	return errors.Join(errs...)
}

func validateListener(l ListenerConfig) []error {
	var errs []error
	if strings.TrimSpace(l.Host) == "" {
		errs = append(errs, errors.New("listener.host: must not be empty"))
	}
	if l.Port <= 0 || l.Port > 65535 {
		errs = append(errs, fmt.Errorf("listener.port: must be in 1-65535, got %d", l.Port))
	}
	if l.MaxRequestBytes <= 0 {
		errs = append(errs, fmt.Errorf("listener.max_request_bytes: must be > 0, got %d", l.MaxRequestBytes))
	}
	if l.MaxConnections <= 0 {
		errs = append(errs, fmt.Errorf("listener.max_connections: must be > 0, got %d", l.MaxConnections))
	}
	errs = append(errs, validateDuration("listener.read_timeout", l.ReadTimeout, false)...)
	errs = append(errs, validateDuration("listener.idle_timeout", l.IdleTimeout, false)...)
	return errs
}

func validateClient(c ClientConfig) []error {
	var errs []error
	if c.MaxResponseBytes <= 0 {
		errs = append(errs, fmt.Errorf("client.max_response_bytes: must be > 0, got %d", c.MaxResponseBytes))
	}
	errs = append(errs, validateDuration("client.timeout", c.Timeout, false)...)
	errs = append(errs, validateDuration("client.poll_interval", c.PollInterval, false)...)
	errs = append(errs, validateDuration("client.poll_max_wait", c.PollMaxWait, true)...)
	errs = append(errs, validateDuration("client.submit_timeout", c.SubmitTimeout, false)...)
	errs = append(errs, validateDuration("client.import_timeout", c.ImportTimeout, false)...)
	return errs
}

func validateDuration(key, raw string, allowZero bool) []error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)}
	}
	if d < 0 || (d == 0 && !allowZero) {
		return []error{fmt.Errorf("%s: must be > 0, got %q", key, raw)}
	}
	return nil
}

func validateURL(key, raw string) []error {
	if raw == "" {
		return nil
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid URL %q: %w", key, raw, err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return []error{fmt.Errorf("%s: unsupported scheme %q", key, u.Scheme)}
	}
	return nil
}
