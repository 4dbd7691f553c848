// Package rules compiles rule configuration and selects the rule that applies to a candidate.
package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ordo/internal/apperr"
	"github.com/starford/ordo/internal/models"
)

// Conflict policies.
const (
	PolicyRename    = "rename"
	PolicyOverwrite = "overwrite"
	PolicySkip      = "skip"
)

// Config is one rule as written in the configuration file.
type Config struct {
	Name       string            `yaml:"name" toml:"name" json:"name"`
	Extensions []string          `yaml:"extensions" toml:"extensions" json:"extensions,omitempty"`
	Mime       string            `yaml:"mime" toml:"mime" json:"mime,omitempty"`
	Regex      string            `yaml:"regex" toml:"regex" json:"regex,omitempty"`
	Age        string            `yaml:"age" toml:"age" json:"age,omitempty"`
	Type       string            `yaml:"type" toml:"type" json:"type,omitempty"`
	MinSize    int64             `yaml:"min_size" toml:"min_size" json:"min_size,omitempty"`
	Target     string            `yaml:"target" toml:"target" json:"target"`
	Conflict   string            `yaml:"conflict" toml:"conflict" json:"conflict,omitempty"`
	Extract    map[string]string `yaml:"extract" toml:"extract" json:"extract,omitempty"`
}

// Validate checks the rule fields that can be checked without compiling.
func (c *Config) Validate() error {
	if c.Conflict == "" {
		c.Conflict = PolicyRename
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Target, validation.Required),
		validation.Field(&c.Conflict, validation.In(PolicyRename, PolicyOverwrite, PolicySkip)),
		validation.Field(&c.MinSize, validation.Min(int64(0))),
		validation.Field(&c.Regex, validation.By(func(any) error {
			if c.Regex == "" {
				return nil
			}
			_, err := regexp.Compile(c.Regex)
			return err
		})),
		validation.Field(&c.Age, validation.By(func(any) error {
			if c.Age == "" {
				return nil
			}
			_, err := ParseAge(c.Age)
			return err
		})),
		validation.Field(&c.Type, validation.By(func(any) error {
			if c.Type == "" {
				return nil
			}
			if _, ok := models.ParseKind(c.Type); !ok {
				return fmt.Errorf("must be one of %v", models.Kinds)
			}
			return nil
		})),
	)
}

// ParseAge parses an age threshold. It accepts the day-based units
// Nh, Nd, Nw, Nm (30 days) and Ny (365 days), and any Go duration.
func ParseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty age")
	}
	unit := strings.ToLower(s[len(s)-1:])
	num := s[:len(s)-1]
	var per time.Duration
	switch unit {
	case "h":
		per = time.Hour
	case "d":
		per = 24 * time.Hour
	case "w":
		per = 7 * 24 * time.Hour
	case "m":
		per = 30 * 24 * time.Hour
	case "y":
		per = 365 * 24 * time.Hour
	}
	if per > 0 {
		if n, err := strconv.ParseInt(num, 10, 64); err == nil && n >= 0 {
			return time.Duration(n) * per, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid age %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative age %q", s)
	}
	return d, nil
}

// Compile validates every rule and builds an ordered rule set.
// Any failure is a ConfigError and aborts before any mutation.
func Compile(cfgs []Config) (*Set, error) {
	set := &Set{}
	seen := make(map[string]struct{}, len(cfgs))
	for i := range cfgs {
		c := &cfgs[i]
		if err := c.Validate(); err != nil {
			return nil, apperr.New(apperr.KindConfig, "compile rule", c.Name,
				fmt.Errorf("rule %d (%q): %w", i, c.Name, err))
		}
		if _, dup := seen[c.Name]; dup {
			return nil, apperr.Newf(apperr.KindConfig, "compile rule", c.Name, "duplicate rule name %q", c.Name)
		}
		seen[c.Name] = struct{}{}

		r, err := compileRule(*c)
		if err != nil {
			return nil, apperr.New(apperr.KindConfig, "compile rule", c.Name, err)
		}
		set.rules = append(set.rules, r)
	}
	return set, nil
}

func compileRule(c Config) (Rule, error) {
	r := Rule{
		Name:     c.Name,
		Target:   c.Target,
		Conflict: c.Conflict,
		Extract:  c.Extract,
	}
	if len(c.Extensions) > 0 {
		exts := make(map[string]struct{}, len(c.Extensions))
		for _, e := range c.Extensions {
			exts[normalizeExt(e)] = struct{}{}
		}
		r.Predicates = append(r.Predicates, Predicate{Kind: PredicateExtension, extensions: exts})
	}
	if c.Mime != "" {
		r.Predicates = append(r.Predicates, Predicate{Kind: PredicateMime, glob: strings.ToLower(c.Mime)})
	}
	if c.Type != "" {
		k, _ := models.ParseKind(c.Type)
		r.Predicates = append(r.Predicates, Predicate{Kind: PredicateType, kind: k})
	}
	if c.Regex != "" {
		re, err := regexp.Compile(c.Regex)
		if err != nil {
			return Rule{}, err
		}
		r.Predicates = append(r.Predicates, Predicate{Kind: PredicateRegex, regex: re})
	}
	if c.Age != "" {
		d, err := ParseAge(c.Age)
		if err != nil {
			return Rule{}, err
		}
		r.Predicates = append(r.Predicates, Predicate{Kind: PredicateAge, age: d})
	}
	if c.MinSize > 0 {
		r.Predicates = append(r.Predicates, Predicate{Kind: PredicateMinSize, minSize: c.MinSize})
	}
	return r, nil
}

func normalizeExt(e string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
}
