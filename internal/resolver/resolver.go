// Package resolver renders rule destination templates into safe paths under the organizer root.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/starford/ordo/internal/models"
	"github.com/starford/ordo/internal/rules"
)

var (
	// ErrUnresolved is returned when a template names a placeholder with no value.
	ErrUnresolved = errors.New("unresolved placeholder")
	// ErrEscapesRoot is returned for destinations outside the organizer root.
	ErrEscapesRoot = errors.New("destination escapes root")
)

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)

// filePlaceholders turn a template from a directory into a full file path.
var filePlaceholders = []string{"${name}", "${filename}", "${ext}"}

// Extractor supplies opaque named fields for placeholder substitution.
// spec is the rule's extract map, passed through uninterpreted.
type Extractor interface {
	Extract(ctx context.Context, c *models.Candidate, spec map[string]string) (map[string]string, error)
}

// StaticExtractor returns the rule's extract map unchanged.
type StaticExtractor struct{}

// Extract implements Extractor.
func (StaticExtractor) Extract(_ context.Context, _ *models.Candidate, spec map[string]string) (map[string]string, error) {
	return spec, nil
}

// Resolver renders destinations relative to an absolute root.
type Resolver struct {
	root      string
	realRoot  string // root with symlinks evaluated
	extractor Extractor
}

// New returns a Resolver rooted at root. A nil extractor means StaticExtractor.
func New(root string, extractor Extractor) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolver: resolve root: %w", err)
	}
	if extractor == nil {
		extractor = StaticExtractor{}
	}
	abs = filepath.Clean(abs)
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		resolved = abs
	}
	return &Resolver{root: abs, realRoot: resolved, extractor: extractor}, nil
}

// Root returns the absolute root directory.
func (r *Resolver) Root() string { return r.root }

// Resolve renders rule.Target for c and returns an absolute destination path.
func (r *Resolver) Resolve(ctx context.Context, rule *rules.Rule, c *models.Candidate) (string, error) {
	fields, err := r.fields(ctx, rule, c)
	if err != nil {
		return "", err
	}

	var missing []string
	rendered := placeholderRe.ReplaceAllStringFunc(rule.Target, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := fields[key]
		if !ok {
			missing = append(missing, m)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s in %q", ErrUnresolved, strings.Join(missing, ", "), rule.Target)
	}

	if !hasFilePlaceholder(rule.Target) {
		rendered = strings.TrimRight(rendered, "/") + "/" + sanitize(c.Name())
	}
	return r.Contain(norm.NFC.String(rendered))
}

func (r *Resolver) fields(ctx context.Context, rule *rules.Rule, c *models.Candidate) (map[string]string, error) {
	mt := c.ModTime.Local()
	fields := map[string]string{
		"year":     mt.Format("2006"),
		"month":    mt.Format("01"),
		"day":      mt.Format("02"),
		"ext":      c.Ext(),
		"name":     c.Stem(),
		"filename": c.Name(),
	}
	if cl := c.Classification(); cl != nil {
		fields["kind"] = string(cl.Kind)
	}
	if len(rule.Extract) > 0 {
		extra, err := r.extractor.Extract(ctx, c, rule.Extract)
		if err != nil {
			return nil, fmt.Errorf("resolver: extract fields: %w", err)
		}
		for k, v := range extra {
			if _, builtin := fields[k]; !builtin {
				fields[k] = v
			}
		}
	}
	for k, v := range fields {
		s := sanitize(v)
		if s == "" {
			delete(fields, k)
			continue
		}
		fields[k] = s
	}
	return fields, nil
}

// sanitize turns a metadata value into a single safe path segment.
// Empty, "." and ".." values are dropped so the placeholder stays unresolved.
func sanitize(v string) string {
	v = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, v)
	v = strings.TrimSpace(v)
	if v == "." || v == ".." {
		return ""
	}
	return v
}

func hasFilePlaceholder(target string) bool {
	for _, p := range filePlaceholders {
		if strings.Contains(target, p) {
			return true
		}
	}
	return false
}

// Contain validates a root-relative path and joins it to the root. Absolute
// paths, ".." segments and anything resolving outside the root are rejected,
// including a path whose existing parent is a symlink leading out of the root.
func (r *Resolver) Contain(rel string) (string, error) {
	slashed := filepath.ToSlash(rel)
	if rel == "" || filepath.IsAbs(rel) || strings.HasPrefix(slashed, "/") || filepath.VolumeName(rel) != "" {
		return "", fmt.Errorf("%w: %q", ErrEscapesRoot, rel)
	}
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrEscapesRoot, rel)
		}
	}
	abs := filepath.Join(r.root, filepath.FromSlash(slashed))
	prefix := r.root
	if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}
	if abs == r.root || !strings.HasPrefix(abs, prefix) {
		return "", fmt.Errorf("%w: %q", ErrEscapesRoot, rel)
	}
	if err := r.containReal(filepath.Dir(abs)); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrEscapesRoot, rel, err)
	}
	return abs, nil
}

// containReal evaluates symlinks on the nearest existing ancestor of dir and
// checks the result is still under the real root.
func (r *Resolver) containReal(dir string) error {
	for {
		_, err := os.Lstat(dir)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if dir == r.root {
			return nil
		}
		dir = filepath.Dir(dir)
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	up, err := filepath.Rel(r.realRoot, resolved)
	if err != nil || up == ".." || strings.HasPrefix(up, ".."+string(os.PathSeparator)) {
		return fmt.Errorf("%s resolves to %s", dir, resolved)
	}
	return nil
}
