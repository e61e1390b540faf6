package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_Full(t *testing.T) {
	data := []byte(`
classpath:
  - classes
  - /opt/lib
roots:
  - com/example/Main
output: app.wat
format: wat
gc: true
cache: .wasmlift.db
`)
	cfg, err := Parse(data, "/proj/wasmlift.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Classpath) != 2 {
		t.Fatalf("classpath = %v", cfg.Classpath)
	}
	if want := filepath.Join("/proj", "classes"); cfg.Classpath[0] != want {
		t.Errorf("classpath[0] = %q, want it joined to the config dir", cfg.Classpath[0])
	}
	if cfg.Classpath[1] != "/opt/lib" {
		t.Errorf("classpath[1] = %q, want the absolute path kept", cfg.Classpath[1])
	}
	if len(cfg.Roots) != 1 || cfg.Roots[0] != "com/example/Main" {
		t.Errorf("roots = %v", cfg.Roots)
	}
	if cfg.Output != "app.wat" || cfg.Format != FormatText || !cfg.GC {
		t.Errorf("cfg = %+v", cfg)
	}
	if want := filepath.Join("/proj", ".wasmlift.db"); cfg.Cache != want {
		t.Errorf("cache = %q, want %q", cfg.Cache, want)
	}
}

func TestParse_DefaultClasspath(t *testing.T) {
	cfg, err := Parse([]byte("roots: [com/example/Main]\n"), "/proj/wasmlift.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Classpath) != 1 || cfg.Classpath[0] != "/proj" {
		t.Errorf("classpath = %v, want the config directory", cfg.Classpath)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"bad yaml", "roots: [", "parsing"},
		{"bad format", "format: elf\n", "format must be"},
		{"gc needs text", "format: wasm\ngc: true\n", "gc output requires"},
		{"empty root", "roots: ['']\n", "roots[0] is empty"},
		{"root is a path", "roots: [com/example/Main.class]\n", "not a file path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), "wasmlift.yaml")
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestFind_WalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(root, "wasmlift.yaml")
	if err := os.WriteFile(cfgPath, []byte("output: app.wasm\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	found, err := Find(nested)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != cfgPath {
		t.Errorf("Find = %q, want %q", found, cfgPath)
	}
}

func TestFind_PrefersYamlOverYml(t *testing.T) {
	dir := t.TempDir()
	yaml := filepath.Join(dir, "wasmlift.yaml")
	yml := filepath.Join(dir, "wasmlift.yml")
	for _, p := range []string{yaml, yml} {
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	found, err := Find(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != yaml {
		t.Errorf("Find = %q, want the .yaml spelling preferred", found)
	}
}

func TestFind_NotFound(t *testing.T) {
	found, err := Find(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != "" {
		t.Errorf("Find = %q, want empty", found)
	}
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		format string
		output string
		want   string
	}{
		{"", "app.wasm", FormatBinary},
		{"", "app.wat", FormatText},
		{"", "app", FormatBinary},
		{FormatText, "app.wasm", FormatText},
		{FormatBinary, "app.wat", FormatBinary},
	}
	for _, tt := range tests {
		if got := FormatFor(tt.format, tt.output); got != tt.want {
			t.Errorf("FormatFor(%q, %q) = %q, want %q", tt.format, tt.output, got, tt.want)
		}
	}
}
