// Package config loads the key-value configuration file shared by the
// GoChat server and client.
//
// The file is YAML. Keys may be written flat with dots or as nested
// mappings; both forms end up as dotted keys:
//
//	default.server.ip: 127.0.0.1
//	default:
//	  server:
//	    port: 9700
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"net"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "config.yaml"

// Known keys.
const (
	KeyServerIP       = "default.server.ip"
	KeyServerPort     = "default.server.port"
	KeyLogLevel       = "log.level"
	KeyLogFormat      = "log.format"
	KeyMetricsAddr    = "server.metrics.addr"
	KeyJournalPath    = "server.journal.path"
	KeyLinesPerSecond = "server.rate.lines_per_second"
	KeyBurst          = "server.rate.burst"
	KeyTLS            = "server.tls"
	KeyIdleTimeout    = "client.idle.timeout"
)

// Config is a flat set of dotted keys and string values.
type Config struct {
	values map[string]string
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{values: map[string]string{
		KeyServerIP:    "127.0.0.1",
		KeyServerPort:  "9700",
		KeyLogLevel:    "info",
		KeyLogFormat:   "text",
		KeyIdleTimeout: "30s",
	}}
}

// Load reads path on top of the defaults. A missing file is not an error:
// the defaults are returned and a warning is logged.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from command line
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("config file not found, using defaults", "path", path)
			return Defaults(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML data on top of the defaults.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	c := Defaults()
	flatten("", raw, c.values)
	return c, nil
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
			out[key] = ""
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// Get returns the value of key, or "" if unset.
func (c *Config) Get(key string) string {
	return c.values[key]
}

// Lookup returns the value of key and whether it is set.
func (c *Config) Lookup(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Set overrides key.
func (c *Config) Set(key, value string) {
	c.values[key] = value
}

// Keys returns all keys in sorted order.
func (c *Config) Keys() []string {
	return slices.Sorted(maps.Keys(c.values))
}

// Int returns key as an integer. Unset keys yield def.
func (c *Config) Int(key string, def int) (int, error) {
	v, ok := c.values[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

// Float returns key as a float. Unset keys yield def.
func (c *Config) Float(key string, def float64) (float64, error) {
	v, ok := c.values[key]
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

// Bool returns key as a boolean. Unset keys yield def.
func (c *Config) Bool(key string, def bool) (bool, error) {
	v, ok := c.values[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

// Duration returns key as a duration ("30s", "1m"). A bare integer is read
// as seconds. Unset keys yield def.
func (c *Config) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := c.values[key]
	if !ok || v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

// ServerAddr returns default.server.ip and default.server.port joined.
func (c *Config) ServerAddr() string {
	return net.JoinHostPort(c.Get(KeyServerIP), c.Get(KeyServerPort))
}
