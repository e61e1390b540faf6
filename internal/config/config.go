// Package config loads the wasmlift.yaml project configuration.
//
// Every setting has a command-line flag counterpart; flags win over the
// project file. The file exists so that a checked-in project does not need
// a wrapper script to hold its classpath and output settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	FormatText   = "wat"
	FormatBinary = "wasm"
)

// ClassFileExt is the extension of compilable input files.
const ClassFileExt = ".class"

// Config represents the top-level wasmlift.yaml configuration.
type Config struct {
	// Classpath lists the directories searched for class files, in order.
	// Defaults to the directory containing the config file.
	Classpath []string `yaml:"classpath,omitempty"`

	// Roots lists the classes compilation starts from, in internal form
	// (e.g. "com/example/Main"). Their exported methods and everything
	// reachable from them end up in the module.
	Roots []string `yaml:"roots,omitempty"`

	// Output is the module file to write (e.g. "app.wasm").
	Output string `yaml:"output,omitempty"`

	// Format selects the output serialization: "wasm" (binary) or "wat"
	// (text). Defaults to whatever the Output extension implies.
	Format string `yaml:"format,omitempty"`

	// GC selects the reference-types object representation instead of the
	// default linear-memory one. Only the text format supports it.
	GC bool `yaml:"gc,omitempty"`

	// Cache is the path of the incremental scan cache database. Empty
	// disables caching.
	Cache string `yaml:"cache,omitempty"`
}

// Load reads and parses a wasmlift.yaml file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse parses wasmlift.yaml content from bytes.
// The path argument is used only for error messages.
func Parse(data []byte, path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.validate(path); err != nil {
		return nil, err
	}
	cfg.setDefaults(filepath.Dir(path))
	return &cfg, nil
}

// Find searches for wasmlift.yaml starting from dir and walking up to
// parent directories, similar to how .gitignore is found. Returns the path
// to the config file and nil error if found, or empty string and nil error
// if not found.
func Find(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory: %w", err)
	}

	for {
		candidate := filepath.Join(dir, "wasmlift.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		// Also check wasmlift.yml (common alternative)
		candidate = filepath.Join(dir, "wasmlift.yml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			return "", nil
		}
		dir = parent
	}
}

// validate checks the configuration for semantic errors.
func (c *Config) validate(path string) error {
	switch c.Format {
	case "", FormatText, FormatBinary:
	default:
		return fmt.Errorf("%s: format must be %q or %q, got %q",
			path, FormatBinary, FormatText, c.Format)
	}
	if c.GC && c.Format == FormatBinary {
		return fmt.Errorf("%s: gc output requires the %q format", path, FormatText)
	}
	for i, root := range c.Roots {
		if root == "" {
			return fmt.Errorf("%s: roots[%d] is empty", path, i)
		}
		if filepath.Ext(root) == ClassFileExt {
			return fmt.Errorf("%s: roots[%d]: use the internal class name, not a file path", path, i)
		}
	}
	return nil
}

// setDefaults fills in defaults relative to the config file location.
func (c *Config) setDefaults(configDir string) {
	if len(c.Classpath) == 0 {
		c.Classpath = []string{configDir}
	} else {
		for i, cp := range c.Classpath {
			if !filepath.IsAbs(cp) {
				c.Classpath[i] = filepath.Join(configDir, cp)
			}
		}
	}
	if c.Cache != "" && !filepath.IsAbs(c.Cache) {
		c.Cache = filepath.Join(configDir, c.Cache)
	}
}

// FormatFor resolves the effective output format: an explicit setting wins,
// otherwise the output file extension decides, defaulting to binary.
func FormatFor(format, output string) string {
	if format != "" {
		return format
	}
	if filepath.Ext(output) == "."+FormatText {
		return FormatText
	}
	return FormatBinary
}
