package model

import (
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrUnknownCategory = goerr.New("unknown category")
	ErrEmptyTaxonomy   = goerr.New("taxonomy has no category")
)

// Category is one label of the configured emotion enumeration
type Category string

func (c Category) String() string {
	return string(c)
}

// CategoryDef describes a category and the words that refer to it in chat text
type CategoryDef struct {
	Name     Category `yaml:"name"`
	Display  string   `yaml:"display"`
	Keywords []string `yaml:"keywords"`
}

// Terms returns every word that names the category, key first
func (d CategoryDef) Terms() []string {
	terms := []string{string(d.Name)}
	if d.Display != "" {
		terms = append(terms, d.Display)
	}
	return append(terms, d.Keywords...)
}
