package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowctl.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TemplatesDir != "templates" || cfg.Store.Driver != DriverSQLite || cfg.Store.DSN != "flowctl.db" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Log.Format != "human" || cfg.Log.Debug || cfg.Metrics.Enabled {
		t.Errorf("unexpected log/metrics defaults %+v", cfg)
	}
	if cfg.File != "" {
		t.Errorf("expected no config file, got %q", cfg.File)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
templates_dir: /srv/templates
store:
  driver: mysql
  dsn: "flow:secret@tcp(db:3306)/flow"
log:
  format: json
  debug: true
metrics:
  enabled: true
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TemplatesDir != "/srv/templates" || cfg.Store.Driver != DriverMySQL {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Store.DSN != "flow:secret@tcp(db:3306)/flow" {
		t.Errorf("unexpected dsn %q", cfg.Store.DSN)
	}
	if cfg.Log.Format != "json" || !cfg.Log.Debug || !cfg.Metrics.Enabled {
		t.Errorf("unexpected log/metrics %+v", cfg)
	}
	if cfg.File != path {
		t.Errorf("expected File %q, got %q", path, cfg.File)
	}
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: sqlite\n  dsn: file.db\nlog:\n  format: json\n")
	t.Setenv("FLOWCTL_STORE_DSN", "env.db")
	t.Setenv("FLOWCTL_LOG_DEBUG", "true")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	if err := flags.Parse([]string{"--log-format", "human", "--templates", "./tpl"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.DSN != "env.db" {
		t.Errorf("env should override file, got %q", cfg.Store.DSN)
	}
	if !cfg.Log.Debug {
		t.Error("env should set log.debug")
	}
	if cfg.Log.Format != "human" || cfg.TemplatesDir != "./tpl" {
		t.Errorf("flags should override file, got format=%q templates=%q", cfg.Log.Format, cfg.TemplatesDir)
	}
	if cfg.Store.Driver != DriverSQLite {
		t.Errorf("unset flags must not override, got driver %q", cfg.Store.Driver)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown driver", "store:\n  driver: postgres\n", "unsupported store driver"},
		{"missing dsn", "store:\n  driver: mysql\n  dsn: \"\"\n", "store.dsn is required"},
		{"bad log format", "log:\n  format: xml\n", "unsupported log format"},
		{"malformed yaml", "store: [\n", "read config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_Memory(t *testing.T) {
	var cfg Config
	cfg.Store.Driver = DriverMemory
	cfg.Log.Format = "json"
	if err := cfg.Validate(); err != nil {
		t.Errorf("memory driver needs no dsn: %v", err)
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
