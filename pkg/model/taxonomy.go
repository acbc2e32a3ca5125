package model

import (
	_ "embed"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.yaml
var defaultTaxonomyRaw []byte

// Taxonomy is the fixed, ordered set of categories plus the synonym table used to
// map raw classifier labels into it.
type Taxonomy struct {
	Categories []CategoryDef       `yaml:"categories"`
	Synonyms   map[string]Category `yaml:"synonyms"`

	index map[string]Category
}

// DefaultTaxonomy returns the built-in taxonomy
func DefaultTaxonomy() *Taxonomy {
	t, err := ParseTaxonomy(defaultTaxonomyRaw)
	if err != nil {
		panic("broken default taxonomy: " + err.Error())
	}
	return t
}

// LoadTaxonomy reads a taxonomy YAML file. An empty path returns the default taxonomy.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	if path == "" {
		return DefaultTaxonomy(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read taxonomy file", goerr.V("path", path))
	}

	t, err := ParseTaxonomy(raw)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse taxonomy file", goerr.V("path", path))
	}
	return t, nil
}

// ParseTaxonomy decodes and validates taxonomy YAML
func ParseTaxonomy(raw []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal taxonomy")
	}
	if err := t.build(); err != nil {
		return nil, err
	}
	return &t, nil
}

// NewTaxonomy builds a taxonomy from plain category names and a synonym table
func NewTaxonomy(names []Category, synonyms map[string]Category) (*Taxonomy, error) {
	t := &Taxonomy{Synonyms: synonyms}
	for _, name := range names {
		t.Categories = append(t.Categories, CategoryDef{Name: name})
	}
	if err := t.build(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Taxonomy) build() error {
	if len(t.Categories) == 0 {
		return ErrEmptyTaxonomy
	}

	t.index = make(map[string]Category)
	for _, def := range t.Categories {
		key := normalizeToken(string(def.Name))
		if key == "" {
			return goerr.New("category name is empty")
		}
		if strings.ContainsAny(key, `/\. `) {
			return goerr.New("category name must not contain path characters", goerr.V("category", def.Name))
		}
		if _, dup := t.index[key]; dup {
			return goerr.New("duplicated category", goerr.V("category", def.Name))
		}
		t.index[key] = def.Name
	}

	// Display names and keywords never shadow a category key
	for _, def := range t.Categories {
		for _, term := range def.Terms()[1:] {
			key := normalizeToken(term)
			if _, exists := t.index[key]; !exists && key != "" {
				t.index[key] = def.Name
			}
		}
	}

	for raw, target := range t.Synonyms {
		if !t.Has(target) {
			return goerr.New("synonym points to unknown category",
				goerr.V("synonym", raw), goerr.V("category", target))
		}
		key := normalizeToken(raw)
		if _, exists := t.index[key]; !exists && key != "" {
			t.index[key] = target
		}
	}

	return nil
}

// Names returns category keys in configured order
func (t *Taxonomy) Names() []Category {
	names := make([]Category, 0, len(t.Categories))
	for _, def := range t.Categories {
		names = append(names, def.Name)
	}
	return names
}

// Has reports whether c is a configured category key
func (t *Taxonomy) Has(c Category) bool {
	for _, def := range t.Categories {
		if def.Name == c {
			return true
		}
	}
	return false
}

// Resolve maps a raw token (category key, display name, keyword or synonym) to a category
func (t *Taxonomy) Resolve(token string) (Category, bool) {
	c, ok := t.index[normalizeToken(token)]
	return c, ok
}

// Def returns the definition of a category
func (t *Taxonomy) Def(c Category) (CategoryDef, bool) {
	for _, def := range t.Categories {
		if def.Name == c {
			return def, true
		}
	}
	return CategoryDef{}, false
}

func normalizeToken(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	return strings.Trim(s, ".,!?;:\"'`")
}

// Match returns the first category, in configured order, one of whose terms occurs in
// text. Matching is case-insensitive.
func (t *Taxonomy) Match(text string) (Category, bool) {
	lower := strings.ToLower(text)
	for _, def := range t.Categories {
		for _, term := range def.Terms() {
			if term != "" && strings.Contains(lower, strings.ToLower(term)) {
				return def.Name, true
			}
		}
	}
	return "", false
}
