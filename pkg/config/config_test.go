package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	Name    string        `split_words:"true" required:"true"`
	Workers int           `split_words:"true" default:"4"`
	Timeout time.Duration `split_words:"true" default:"5s"`
}

func TestNewReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("CFGTEST_NAME=research\nCFGTEST_WORKERS=9\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() {
		SetEnvFile("")
		_ = os.Unsetenv("CFGTEST_NAME")
		_ = os.Unsetenv("CFGTEST_WORKERS")
	})

	SetEnvFile(path)
	cfg, err := New[sampleConfig]("CFGTEST")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cfg.Name != "research" || cfg.Workers != 9 || cfg.Timeout != 5*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestNewMissingEnvFile(t *testing.T) {
	t.Cleanup(func() { SetEnvFile("") })

	SetEnvFile(filepath.Join(t.TempDir(), "absent.env"))
	if _, err := New[sampleConfig]("CFGTEST_MISSING"); err == nil {
		t.Fatal("New() with missing env file error = nil")
	}
}

func TestNewRequiredField(t *testing.T) {
	t.Cleanup(func() { SetEnvFile("") })

	SetEnvFile("")
	if _, err := New[sampleConfig]("CFGTEST_REQUIRED"); err == nil {
		t.Fatal("New() without required field error = nil")
	}
}
