package category

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind tags the variant of a Rule
type Kind string

const (
	KindExtension Kind = "extension"
	KindRegex     Kind = "regex"
	KindName      Kind = "name"
)

// kindOrder breaks priority ties: pattern rules are consulted before
// extension tables.
var kindOrder = map[Kind]int{KindRegex: 0, KindName: 0, KindExtension: 1}

// Rule is one categorization rule.
//
//   - extension: matches when the lower-cased extension is in Extensions
//   - regex: case-insensitive search of Pattern in the full path
//   - name: case-insensitive substring match of Pattern in the base name
type Rule struct {
	Name       string   `yaml:"name,omitempty"`
	Kind       Kind     `yaml:"kind"`
	Category   string   `yaml:"category"`
	Priority   int      `yaml:"priority,omitempty"`
	Extensions []string `yaml:"extensions,omitempty"`
	Pattern    string   `yaml:"pattern,omitempty"`
	Disabled   bool     `yaml:"disabled,omitempty"`

	re   *regexp.Regexp
	exts map[string]bool
}

func (r *Rule) compile() error {
	if err := ValidateCategoryName(r.Category); err != nil {
		return err
	}

	switch r.Kind {
	case KindExtension:
		if len(r.Extensions) == 0 {
			return fmt.Errorf("extension rule for %s has no extensions", r.Category)
		}
		r.exts = make(map[string]bool, len(r.Extensions))
		for i, ext := range r.Extensions {
			norm, err := NormalizeExtension(ext)
			if err != nil {
				return err
			}
			r.Extensions[i] = norm
			r.exts[norm] = true
		}
	case KindRegex:
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return fmt.Errorf("invalid regex for rule %q: %w", r.Name, err)
		}
		r.re = re
	case KindName:
		if r.Pattern == "" {
			return fmt.Errorf("name rule %q has an empty pattern", r.Name)
		}
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	return nil
}

// Matches reports whether the rule applies to path
func (r *Rule) Matches(path string) bool {
	if r.Disabled {
		return false
	}
	switch r.Kind {
	case KindExtension:
		return r.exts[strings.ToLower(filepath.Ext(path))]
	case KindRegex:
		return r.re != nil && r.re.MatchString(path)
	case KindName:
		return strings.Contains(strings.ToLower(filepath.Base(path)), strings.ToLower(r.Pattern))
	}
	return false
}

// RuleSet is an ordered, immutable set of rules. It implements Resolver.
type RuleSet struct {
	rules []*Rule
}

// NewRuleSet validates rules and orders them by priority
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	rs := &RuleSet{rules: make([]*Rule, 0, len(rules))}
	for i := range rules {
		r := rules[i]
		r.Extensions = append([]string(nil), r.Extensions...)
		if err := r.compile(); err != nil {
			return nil, err
		}
		rs.rules = append(rs.rules, &r)
	}

	sort.SliceStable(rs.rules, func(i, j int) bool {
		a, b := rs.rules[i], rs.rules[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return kindOrder[a.Kind] < kindOrder[b.Kind]
	})
	return rs, nil
}

// Resolve returns the category of the first matching rule
func (rs *RuleSet) Resolve(path string) (string, bool) {
	for _, r := range rs.rules {
		if r.Matches(path) {
			return r.Category, true
		}
	}
	return "", false
}

// Rules returns a copy of the ordered rules
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	for i, r := range rs.rules {
		out[i] = *r
	}
	return out
}

// Categories lists the distinct category names in sorted order
func (rs *RuleSet) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rs.rules {
		if !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	sort.Strings(out)
	return out
}

// NormalizeExtension lower-cases ext and ensures a leading dot
func NormalizeExtension(ext string) (string, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if len(ext) < 2 || strings.ContainsAny(ext[1:], `./\`) {
		return "", fmt.Errorf("invalid extension %q", ext)
	}
	return ext, nil
}

// ValidateCategoryName ensures a category can be used as one directory name
func ValidateCategoryName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("category name is required")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid category name %q", name)
	}
	return nil
}

// defaultCategories is the stock extension table
var defaultCategories = []struct {
	name string
	exts []string
}{
	{"MUSICA", []string{".mp3", ".flac", ".wav", ".m4a", ".aac", ".ogg", ".wma"}},
	{"VIDEOS", []string{".mp4", ".mkv", ".avi", ".mov", ".wmv", ".flv", ".webm", ".m4v"}},
	{"IMAGENES", []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".webp", ".svg"}},
	{"DOCUMENTOS", []string{".pdf", ".doc", ".docx", ".txt", ".rtf", ".odt", ".xls", ".xlsx", ".ppt", ".pptx"}},
	{"PROGRAMAS", []string{".exe", ".msi", ".deb", ".rpm", ".dmg", ".pkg", ".zip", ".rar", ".7z"}},
	{"CODIGO", []string{".py", ".js", ".html", ".css", ".cpp", ".c", ".java", ".php", ".rb", ".go"}},
}

// DefaultRules returns the stock extension rules
func DefaultRules() []Rule {
	rules := make([]Rule, 0, len(defaultCategories))
	for _, c := range defaultCategories {
		rules = append(rules, Rule{
			Name:       strings.ToLower(c.name),
			Kind:       KindExtension,
			Category:   c.name,
			Extensions: append([]string(nil), c.exts...),
		})
	}
	return rules
}

// Default returns a RuleSet with the stock extension table
func Default() *RuleSet {
	rs, err := NewRuleSet(DefaultRules())
	if err != nil {
		panic(err)
	}
	return rs
}

// RulesFile is the YAML layout of a rules file
type RulesFile struct {
	// ReplaceDefaults drops the stock extension table entirely.
	ReplaceDefaults bool                `yaml:"replace_defaults"`
	Categories      map[string][]string `yaml:"categories"`
	Rules           []Rule              `yaml:"rules"`
}

// LoadRules reads a rules file and merges it with the stock table.
// Categories listed in the file replace the stock extension list of the
// same name.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var file RulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	return file.RuleSet()
}

// RuleSet builds the merged rule set described by f
func (f RulesFile) RuleSet() (*RuleSet, error) {
	var rules []Rule
	if !f.ReplaceDefaults {
		for _, r := range DefaultRules() {
			if _, overridden := f.Categories[r.Category]; !overridden {
				rules = append(rules, r)
			}
		}
	}

	names := make([]string, 0, len(f.Categories))
	for name := range f.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rules = append(rules, Rule{
			Name:       strings.ToLower(name),
			Kind:       KindExtension,
			Category:   name,
			Extensions: f.Categories[name],
		})
	}

	rules = append(rules, f.Rules...)
	return NewRuleSet(rules)
}

// Marshal renders f as YAML
func (f RulesFile) Marshal() ([]byte, error) {
	return yaml.Marshal(f)
}
