// Package frontmatter reads YAML frontmatter from Markdown and text files
// and supplies its values to destination templates.
package frontmatter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/ordo/internal/models"
)

// Prefix marks an extract value that names a frontmatter key. Values
// without it are used as literal field values.
const Prefix = "frontmatter:"

// DefaultReadLimit bounds how much of a file is read looking for frontmatter.
const DefaultReadLimit = 64 << 10

var tagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// Document holds the parts of a note that templates can refer to.
type Document struct {
	Fields map[string]any
	Title  string
	Tags   []string
}

// Parse extracts frontmatter, title and tags from raw bytes. Content without
// frontmatter, or with frontmatter that is not valid YAML, yields no fields.
func Parse(data []byte) *Document {
	fm, body := split(data)
	return &Document{
		Fields: fm,
		Title:  deriveTitle(fm, body),
		Tags:   extractTags(body, fm),
	}
}

// Field returns key rendered as a string. "title" falls back to the first
// H1 heading and "tag" is the first tag.
func (d *Document) Field(key string) (string, bool) {
	switch key {
	case "title":
		return d.Title, d.Title != ""
	case "tag":
		if len(d.Tags) == 0 {
			return "", false
		}
		return d.Tags[0], true
	}
	v, ok := d.Fields[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case time.Time:
		return t.Format(time.DateOnly), true
	case []any, map[string]any:
		return "", false
	default:
		return fmt.Sprint(t), true
	}
}

// split separates YAML frontmatter (between leading --- delimiters)
// from the body. If no frontmatter is found the entire content is body.
func split(data []byte) (map[string]any, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, string(data)
	}
	return fm, body
}

// extractTags collects tags from the frontmatter "tags" list, then inline #tags.
func extractTags(body string, fm map[string]any) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if list, ok := fm["tags"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	}
	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]any, body string) string {
	if s, ok := fm["title"].(string); ok && s != "" {
		return s
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

// Extractor fills template fields from a candidate's frontmatter.
// Keys whose value is missing are left out, which leaves the placeholder
// unresolved and the candidate unmatched.
type Extractor struct {
	readLimit int64
}

// NewExtractor returns an Extractor reading at most DefaultReadLimit bytes per file.
func NewExtractor() *Extractor {
	return &Extractor{readLimit: DefaultReadLimit}
}

// Extract implements resolver.Extractor.
func (x *Extractor) Extract(ctx context.Context, c *models.Candidate, spec map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(spec))
	var doc *Document
	for field, src := range spec {
		key, ok := strings.CutPrefix(src, Prefix)
		if !ok {
			out[field] = src
			continue
		}
		if doc == nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			var err error
			if doc, err = x.load(c.Path); err != nil {
				return nil, err
			}
		}
		if v, ok := doc.Field(strings.TrimSpace(key)); ok {
			out[field] = v
		}
	}
	return out, nil
}

func (x *Extractor) load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("frontmatter: open: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, x.readLimit))
	if err != nil {
		return nil, fmt.Errorf("frontmatter: read: %w", err)
	}
	return Parse(data), nil
}
