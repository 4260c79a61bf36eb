package config

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/justapithecus/fedrun/resolver"
	"github.com/justapithecus/fedrun/types"
)

// Config represents a fedrun.yaml configuration file.
// CLI flags always override config values.
type Config struct {
	Name          string                  `yaml:"name"`
	OutputDir     string                  `yaml:"output_dir"`
	PublicPath    string                  `yaml:"public_path"`
	ChunkFilename string                  `yaml:"chunk_filename"`
	FetchTimeout  Duration                `yaml:"fetch_timeout"`
	MaxChunkBytes int64                   `yaml:"max_chunk_bytes"`
	LogLevel      string                  `yaml:"log_level"`
	Remotes       map[string]RemoteConfig `yaml:"remotes"`
	Journal       JournalConfig           `yaml:"journal"`
	Adapter       AdapterConfig           `yaml:"adapter"`
}

// RemoteConfig is one entry of the remote table. The name comes from the
// map key.
type RemoteConfig struct {
	// Location is "name@location", a bare URL, or a path under output_dir.
	Location      string                         `yaml:"location"`
	ShareScope    string                         `yaml:"share_scope"`
	Fallbacks     []string                       `yaml:"fallbacks"`
	ChunkFilename string                         `yaml:"chunk_filename"`
	Exposes       map[string]types.ExposedModule `yaml:"exposes"`
}

// JournalConfig selects where load events are journaled.
type JournalConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds notification adapter settings.
type AdapterConfig struct {
	Type     string            `yaml:"type"`
	URL      string            `yaml:"url"`
	Channel  string            `yaml:"channel,omitempty"`
	Encoding string            `yaml:"encoding,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Timeout  Duration          `yaml:"timeout,omitempty"`
	Retries  *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// RemoteDescriptors converts the map-keyed remote table into descriptors
// sorted by name.
func (c *Config) RemoteDescriptors() ([]types.RemoteDescriptor, error) {
	names := make([]string, 0, len(c.Remotes))
	for name := range c.Remotes {
		names = append(names, name)
	}
	sort.Strings(names)

	descs := make([]types.RemoteDescriptor, 0, len(names))
	for _, name := range names {
		rc := c.Remotes[name]
		refName, location, err := resolver.ParseReference(rc.Location)
		if err != nil {
			return nil, fmt.Errorf("remote %s: %w", name, err)
		}
		if refName != "" && refName != name {
			return nil, fmt.Errorf("remote %s: location names remote %q", name, refName)
		}
		descs = append(descs, types.RemoteDescriptor{
			Name:              name,
			PrimaryLocation:   location,
			ShareScope:        rc.ShareScope,
			FallbackLocations: rc.Fallbacks,
			ChunkFilename:     rc.ChunkFilename,
			Exposes:           rc.Exposes,
		})
	}
	return descs, nil
}

// Validate checks cross-field constraints that YAML decoding cannot.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxChunkBytes < 0 {
		errs = append(errs, fmt.Errorf("max_chunk_bytes must be >= 0, got %d", c.MaxChunkBytes))
	}
	if c.FetchTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("fetch_timeout must be >= 0, got %v", c.FetchTimeout.Duration))
	}
	if _, err := c.RemoteDescriptors(); err != nil {
		errs = append(errs, err)
	}

	switch c.Journal.Backend {
	case "":
	case "fs", "s3":
		if c.Journal.Path == "" {
			errs = append(errs, fmt.Errorf("journal.path is required for backend %s", c.Journal.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("journal.backend must be fs or s3, got %q", c.Journal.Backend))
	}

	switch c.Adapter.Type {
	case "":
	case "webhook", "redis":
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for type %s", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type))
	}
	switch c.Adapter.Encoding {
	case "", "json", "msgpack":
	default:
		errs = append(errs, fmt.Errorf("adapter.encoding must be json or msgpack, got %q", c.Adapter.Encoding))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries))
	}
	return errors.Join(errs...)
}
