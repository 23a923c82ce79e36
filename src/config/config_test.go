package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	if cfg.Servers == nil {
		t.Fatal("expected non-nil servers map")
	}
	if len(cfg.Servers) != 0 {
		t.Errorf("expected no overrides by default, got %d", len(cfg.Servers))
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `servers:
  go:
    command: /opt/tools/gopls
    args: ["serve", "-rpc.trace"]
    initialization_options:
      staticcheck: true
  python:
    command: pyright-langserver
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	goCfg, ok := cfg.Servers["go"]
	if !ok {
		t.Fatal("expected go override")
	}
	if goCfg.Command != "/opt/tools/gopls" {
		t.Errorf("unexpected command: %s", goCfg.Command)
	}
	if len(goCfg.Args) != 2 || goCfg.Args[1] != "-rpc.trace" {
		t.Errorf("unexpected args: %v", goCfg.Args)
	}
	if goCfg.InitializationOptions["staticcheck"] != true {
		t.Errorf("unexpected init options: %v", goCfg.InitializationOptions)
	}

	pyCfg, ok := cfg.Servers["python"]
	if !ok || pyCfg.Command != "pyright-langserver" {
		t.Errorf("unexpected python override: %+v", pyCfg)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("servers: [unbalanced"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if cfg == nil || cfg.Servers == nil {
		t.Fatal("expected usable default config")
	}
}
