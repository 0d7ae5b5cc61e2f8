// Package manifest loads declarative YAML command definitions and applies
// them to a command registry.
package manifest

import (
	"fmt"
	"time"
)

// Manifest is the top-level YAML document.
type Manifest struct {
	Version  string       `yaml:"version"`
	Metadata Metadata     `yaml:"metadata"`
	Commands []Definition `yaml:"commands"`

	// ReloadInterval, when set, asks the engine to watch the manifest
	// file and re-apply it at this interval.
	ReloadInterval Duration `yaml:"reload_interval"`
}

// Metadata describes the manifest.
type Metadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Definition declares one command.
type Definition struct {
	ID             string            `yaml:"id"`
	Path           string            `yaml:"path"`
	NoWait         bool              `yaml:"no_wait"`
	Args           []Argument        `yaml:"args"`
	Env            map[string]string `yaml:"env"`
	Stdin          string            `yaml:"stdin"`
	StdoutCapacity ByteSize          `yaml:"stdout_capacity"`
	StderrCapacity ByteSize          `yaml:"stderr_capacity"`
}

// Argument sets one argument position.
type Argument struct {
	Position int    `yaml:"position"`
	Value    string `yaml:"value"`
}

// Duration is a time.Duration that can be unmarshaled from YAML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML unmarshals a duration from YAML.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	d.Duration = duration
	return nil
}

// MarshalYAML marshals a duration to YAML.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// ByteSize is a size in bytes that can be unmarshaled from YAML, either as
// a plain integer or as a string with a decimal (K, M, G) or binary
// (Ki, Mi, Gi) suffix.
type ByteSize struct {
	Bytes int64
}

// UnmarshalYAML unmarshals a byte size from YAML.
func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		// Plain integer form.
		var n int64
		if err := unmarshal(&n); err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("byte size must not be negative: %d", n)
		}
		b.Bytes = n
		return nil
	}

	bytes, err := parseByteSize(s)
	if err != nil {
		return err
	}

	b.Bytes = bytes
	return nil
}

// parseByteSize parses strings like "512", "64Ki" or "10MB".
func parseByteSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}

	numStr := s
	suffix := ""
	for i, c := range s {
		if c < '0' || c > '9' {
			numStr = s[:i]
			suffix = s[i:]
			break
		}
	}
	if numStr == "" {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}

	var num int64
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}

	var multiplier int64
	switch suffix {
	case "", "B":
		multiplier = 1
	case "K", "KB":
		multiplier = 1000
	case "Ki", "KiB":
		multiplier = 1024
	case "M", "MB":
		multiplier = 1000 * 1000
	case "Mi", "MiB":
		multiplier = 1024 * 1024
	case "G", "GB":
		multiplier = 1000 * 1000 * 1000
	case "Gi", "GiB":
		multiplier = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("invalid byte size suffix %q", suffix)
	}

	return num * multiplier, nil
}

// MarshalYAML marshals a byte size to YAML using binary suffixes where the
// value divides evenly.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	if b.Bytes == 0 {
		return "0", nil
	}

	units := []struct {
		suffix string
		size   int64
	}{
		{"Gi", 1024 * 1024 * 1024},
		{"Mi", 1024 * 1024},
		{"Ki", 1024},
	}

	for _, u := range units {
		if b.Bytes >= u.size && b.Bytes%u.size == 0 {
			return fmt.Sprintf("%d%s", b.Bytes/u.size, u.suffix), nil
		}
	}

	return fmt.Sprintf("%d", b.Bytes), nil
}

// Example returns an example manifest.
func Example() *Manifest {
	return &Manifest{
		Version: "1",
		Metadata: Metadata{
			Name:        "batch-jobs",
			Description: "Example command definitions",
		},
		Commands: []Definition{
			{
				ID:   "backup",
				Path: "/usr/local/bin/backup.sh",
				Args: []Argument{
					{Position: 1, Value: "--full"},
				},
				Env: map[string]string{
					"TZ": "UTC",
				},
				StdoutCapacity: ByteSize{64 * 1024},
				StderrCapacity: ByteSize{16 * 1024},
			},
			{
				ID:     "notify",
				Path:   "/usr/bin/wall",
				NoWait: true,
				Stdin:  "backup finished",
			},
		},
	}
}
