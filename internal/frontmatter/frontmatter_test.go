package frontmatter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/ordo/internal/models"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	d := Parse([]byte("---\ntitle: Hello\nauthor: Ada\ntags:\n  - go\n  - notes\n---\n# Other\nBody #extra text.\n"))
	if d.Title != "Hello" {
		t.Errorf("title = %q, want %q", d.Title, "Hello")
	}
	if len(d.Tags) != 3 || d.Tags[0] != "go" || d.Tags[1] != "notes" || d.Tags[2] != "extra" {
		t.Errorf("tags = %v, want [go notes extra]", d.Tags)
	}
	if v, ok := d.Field("author"); !ok || v != "Ada" {
		t.Errorf("author = %q, %v", v, ok)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	d := Parse([]byte("# Just a heading\nSome text.\n"))
	if d.Fields != nil {
		t.Errorf("expected nil frontmatter, got %v", d.Fields)
	}
	if d.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", d.Title, "Just a heading")
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	d := Parse([]byte("---\n: invalid: yaml: {{{\n---\nBody\n"))
	if d.Fields != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
}

func TestParse_UnclosedDelimiter(t *testing.T) {
	d := Parse([]byte("---\ntitle: x\nno end"))
	if d.Fields != nil || d.Title != "" {
		t.Errorf("document = %+v, want empty", d)
	}
}

func TestDocument_Field(t *testing.T) {
	d := &Document{Fields: map[string]any{
		"year":  2021,
		"date":  time.Date(2020, 5, 17, 0, 0, 0, 0, time.UTC),
		"empty": "",
		"list":  []any{"a"},
	}}
	tests := []struct {
		key  string
		want string
		ok   bool
	}{
		{"year", "2021", true},
		{"date", "2020-05-17", true},
		{"empty", "", false},
		{"list", "", false},
		{"missing", "", false},
		{"tag", "", false},
	}
	for _, tt := range tests {
		got, ok := d.Field(tt.key)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Field(%q) = %q, %v; want %q, %v", tt.key, got, ok, tt.want, tt.ok)
		}
	}
}

func TestExtractor(t *testing.T) {
	p := filepath.Join(t.TempDir(), "note.md")
	if err := os.WriteFile(p, []byte("---\nauthor: Ada\nproject: ordo\n---\n# Plan\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := models.NewCandidate(p, 0, time.Now())

	got, err := NewExtractor().Extract(context.Background(), c, map[string]string{
		"who":     "frontmatter:author",
		"heading": "frontmatter:title",
		"team":    "platform",
		"absent":  "frontmatter:reviewer",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"who": "Ada", "heading": "Plan", "team": "platform"}
	if len(got) != len(want) {
		t.Fatalf("fields = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestExtractor_StaticOnlyDoesNotRead(t *testing.T) {
	c := models.NewCandidate(filepath.Join(t.TempDir(), "missing.md"), 0, time.Now())
	got, err := NewExtractor().Extract(context.Background(), c, map[string]string{"team": "platform"})
	if err != nil {
		t.Fatalf("static extract touched the file: %v", err)
	}
	if got["team"] != "platform" {
		t.Errorf("team = %q", got["team"])
	}
}

func TestExtractor_MissingFile(t *testing.T) {
	c := models.NewCandidate(filepath.Join(t.TempDir(), "missing.md"), 0, time.Now())
	if _, err := NewExtractor().Extract(context.Background(), c, map[string]string{"who": "frontmatter:author"}); err == nil {
		t.Fatal("expected error for unreadable file")
	}
}
