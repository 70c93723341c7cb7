package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/earshot/internal/config"
)

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "earshot.yaml")
	writeFile(t, path, sampleYAML)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.LLM.Model != "gpt-4o-mini" {
		t.Errorf("llm model = %q", cfg.Providers.LLM.Model)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "open") {
		t.Errorf("err = %v, want open error", err)
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	writeFile(t, envPath, "EARSHOT_DOTENV_KEY=from-file\nEARSHOT_DOTENV_SET=from-file\n")
	t.Setenv("EARSHOT_DOTENV_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("EARSHOT_DOTENV_KEY") })

	if err := config.LoadEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("EARSHOT_DOTENV_KEY"); got != "from-file" {
		t.Errorf("EARSHOT_DOTENV_KEY = %q, want from-file", got)
	}
	if got := os.Getenv("EARSHOT_DOTENV_SET"); got != "from-env" {
		t.Errorf("EARSHOT_DOTENV_SET = %q, existing value must win", got)
	}

	cfg := mustLoad(t, strings.Replace(sampleYAML, "pv-test", "$EARSHOT_DOTENV_KEY", 1))
	if cfg.Providers.Wake.APIKey != "from-file" {
		t.Errorf("wake api_key = %q", cfg.Providers.Wake.APIKey)
	}
}

func TestProviderEntry_Options(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{
		"path":  "/tmp/in.wav",
		"count": 3,
		"ratio": 2.5,
	}}
	if s, ok := e.StringOption("path"); !ok || s != "/tmp/in.wav" {
		t.Errorf("StringOption(path) = %q, %v", s, ok)
	}
	if _, ok := e.StringOption("count"); ok {
		t.Error("StringOption accepted an int")
	}
	if n, ok := e.IntOption("count"); !ok || n != 3 {
		t.Errorf("IntOption(count) = %d, %v", n, ok)
	}
	if _, ok := e.IntOption("ratio"); ok {
		t.Error("IntOption accepted a fractional value")
	}
	if _, ok := e.IntOption("missing"); ok {
		t.Error("IntOption found a missing key")
	}
}
