package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string   `yaml:"name" toml:"name"`
	Tags  []string `yaml:"tags" toml:"tags"`
	Limit int      `yaml:"limit" toml:"limit"`
}

func (s *sample) Validate() error {
	if s.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	return nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_YAMLWithEnv(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "inbox")
	p := writeFile(t, "c.yaml", "name: ${SAMPLE_NAME}\ntags: [a, b]\nlimit: 3\n")

	var s sample
	if err := Load(p, &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "inbox" || len(s.Tags) != 2 || s.Limit != 3 {
		t.Errorf("got %+v", s)
	}
}

func TestLoad_TOML(t *testing.T) {
	p := writeFile(t, "rarch.toml", "name = \"downloads\"\ntags = [\"x\"]\nlimit = 7\n")

	var s sample
	if err := Load(p, &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "downloads" || s.Limit != 7 {
		t.Errorf("got %+v", s)
	}
}

func TestLoad_ValidationError(t *testing.T) {
	p := writeFile(t, "c.yml", "limit: -1\n")

	var s sample
	err := Load(p, &s)
	if err == nil || !strings.Contains(err.Error(), "config validation failed") {
		t.Fatalf("err = %v, want validation failure", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	var s sample
	if err := Load(filepath.Join(t.TempDir(), "none.yaml"), &s); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadWithDefaults_Fallback(t *testing.T) {
	def := writeFile(t, "default.yaml", "name: fallback\n")

	var s sample
	if err := LoadWithDefaults(filepath.Join(t.TempDir(), "absent.yaml"), def, &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "fallback" {
		t.Errorf("name = %q", s.Name)
	}
}
