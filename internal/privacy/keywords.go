package privacy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeywordBundle is a named vocabulary of context keywords loaded from YAML:
//
//	name: legal-ca
//	keywords:
//	  - titular
//	  - expedient
type KeywordBundle struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// DefaultKeywords returns the built-in Catalan and English vocabulary
func DefaultKeywords() []string {
	return []string{
		"nom",
		"cognom",
		"titular",
		"adreça",
		"domicili",
		"compte",
		"número de compte",
		"nº compte",
		"expedient",
		"dni",
		"nif",
		"nie",
		"name",
		"surname",
		"holder",
		"address",
		"account no.",
		"file no.",
		"id no.",
	}
}

// LoadKeywordBundle reads a keyword bundle file
func LoadKeywordBundle(path string) (*KeywordBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword bundle: %w", err)
	}

	var bundle KeywordBundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parse keyword bundle %s: %w", path, err)
	}
	bundle.Keywords = normalizeKeywords(bundle.Keywords)
	if len(bundle.Keywords) == 0 {
		return nil, fmt.Errorf("keyword bundle %s has no keywords", path)
	}
	return &bundle, nil
}

// ResolveKeywords merges configured keywords with an optional bundle file,
// falling back to the defaults when both are empty.
func ResolveKeywords(configured []string, bundlePath string) ([]string, error) {
	keywords := append([]string(nil), configured...)
	if bundlePath != "" {
		bundle, err := LoadKeywordBundle(bundlePath)
		if err != nil {
			return nil, err
		}
		keywords = append(keywords, bundle.Keywords...)
	}
	keywords = normalizeKeywords(keywords)
	if len(keywords) == 0 {
		return DefaultKeywords(), nil
	}
	return keywords, nil
}

// normalizeKeywords trims, lower-cases and deduplicates while keeping order
func normalizeKeywords(words []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(words))

	for _, w := range words {
		lw := strings.ToLower(strings.TrimSpace(w))
		if lw == "" {
			continue
		}
		if _, exists := seen[lw]; exists {
			continue
		}
		seen[lw] = struct{}{}
		out = append(out, lw)
	}
	return out
}
