package bundle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SpecFileName is the primary specification convention for a skill
// directory. Matching is case-insensitive.
const SpecFileName = "SKILL.md"

var (
	// ErrSpecificationMissing is returned when a step depends on the
	// skill's specification and the skill has none.
	ErrSpecificationMissing = errors.New("skill specification missing")
)

// SkillSpec is the structured part of a skill's specification: identity,
// declared parameter groups, entry point and output adapter. Parsed once per
// assembly, never cached across skill versions.
type SkillSpec struct {
	Name             string           `yaml:"name"`
	ID               string           `yaml:"id"`
	Domain           string           `yaml:"domain"`
	Tags             []string         `yaml:"tags"`
	Author           string           `yaml:"author"`
	Version          string           `yaml:"version"`
	Description      string           `yaml:"description"`
	ShortDescription string           `yaml:"short_description"`
	Rating           float64          `yaml:"rating"`
	Entrypoint       *Entrypoint      `yaml:"entrypoint"`
	Output           map[string]string `yaml:"output"`
	Parameters       []ParameterGroup `yaml:"parameters"`

	// Body is the markdown text following the frontmatter.
	Body string `yaml:"-"`
}

// Entrypoint names the callable a skill declares for execution.
type Entrypoint struct {
	File     string   `yaml:"file"`
	Function string   `yaml:"function"`
	Timeout  Duration `yaml:"timeout"`
}

// ParameterGroup is one ordered group of named input fields.
type ParameterGroup struct {
	Group  string  `yaml:"group"`
	Fields []Field `yaml:"fields"`
}

// Field declares one named input: type, constraints and optional choices.
type Field struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"` // string, number, integer, boolean, array, object
	Required bool     `yaml:"required"`
	Default  any      `yaml:"default"`
	Choices  []any    `yaml:"choices"`
	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
	Pattern  string   `yaml:"pattern"`
}

// SkillID returns the declared id, or domain/name when none is declared.
func (s *SkillSpec) SkillID() string {
	if s.ID != "" {
		return s.ID
	}
	name := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s.Name), " ", "-"))
	if s.Domain == "" {
		return name
	}
	return strings.ToLower(s.Domain) + "/" + name
}

// HasGroups reports whether the skill declares interactive parameter groups.
func (s *SkillSpec) HasGroups() bool {
	return len(s.Parameters) > 0
}

// AllFields returns every declared field across groups, in group order.
func (s *SkillSpec) AllFields() []Field {
	var out []Field
	for _, g := range s.Parameters {
		out = append(out, g.Fields...)
	}
	return out
}

// ParseSpec parses a SKILL.md document: YAML frontmatter between "---"
// fences followed by a markdown body.
func ParseSpec(content string) (*SkillSpec, error) {
	front, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}

	var spec SkillSpec
	if err := yaml.Unmarshal([]byte(front), &spec); err != nil {
		return nil, fmt.Errorf("parse specification frontmatter: %w", err)
	}
	spec.Body = strings.TrimSpace(body)

	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("specification declares no name")
	}
	for _, g := range spec.Parameters {
		if len(g.Fields) == 0 {
			return nil, fmt.Errorf("parameter group %q declares no fields", g.Group)
		}
		for _, f := range g.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("parameter group %q has an unnamed field", g.Group)
			}
		}
	}
	if spec.Entrypoint != nil && spec.Entrypoint.File == "" {
		return nil, fmt.Errorf("entrypoint declares no file")
	}
	return &spec, nil
}

// splitFrontmatter separates the YAML frontmatter from the markdown body.
func splitFrontmatter(content string) (front, body string, err error) {
	trimmed := strings.TrimLeft(content, "\uFEFF \t\r\n")
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", fmt.Errorf("specification has no frontmatter")
	}
	rest := trimmed[3:]
	// The closing fence must start a line.
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return "", "", fmt.Errorf("specification frontmatter is unterminated")
	}
	front = rest[:idx]
	body = rest[idx+4:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	return front, body, nil
}

// IsSpecFile reports whether a file name matches the specification
// convention, case-insensitively.
func IsSpecFile(name string) bool {
	return strings.EqualFold(name, SpecFileName)
}

// Duration wraps time.Duration for YAML unmarshaling ("10s", "1m").
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}
