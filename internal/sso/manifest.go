package sso

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Product describes a sibling product available for hand-off.
type Product struct {
	Slug        string `yaml:"slug"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	URL         string `yaml:"url"`
}

// Manifest lists the products the portal can hand off to.
type Manifest struct {
	Products []Product `yaml:"products"`
}

// LoadManifest reads a products manifest from a YAML file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading products manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing products manifest: %w", err)
	}

	seen := make(map[string]struct{})
	for i, p := range m.Products {
		if p.Slug == "" {
			return nil, fmt.Errorf("product entry %d is missing a slug", i+1)
		}

		if _, dup := seen[p.Slug]; dup {
			return nil, fmt.Errorf("duplicate product slug %q", p.Slug)
		}

		seen[p.Slug] = struct{}{}
	}

	return &m, nil
}

// Find returns the product with the given slug, or nil.
func (m *Manifest) Find(slug string) *Product {
	for i := range m.Products {
		if m.Products[i].Slug == slug {
			return &m.Products[i]
		}
	}

	return nil
}
