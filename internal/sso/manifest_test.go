package sso

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "products.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadManifest_Valid(t *testing.T) {
	path := writeManifest(t, `
products:
  - slug: advocates
    name: Advocates
    description: Advocacy management
    url: https://advocates.portal.example
  - slug: billing
    name: Billing
`)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Products, 2)
	assert.Equal(t, "Advocates", m.Products[0].Name)
	assert.Equal(t, "https://advocates.portal.example", m.Products[0].URL)
}

func TestLoadManifest_MissingSlug(t *testing.T) {
	path := writeManifest(t, `
products:
  - name: Nameless
`)

	_, err := LoadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing a slug")
}

func TestLoadManifest_DuplicateSlug(t *testing.T) {
	path := writeManifest(t, `
products:
  - slug: advocates
  - slug: advocates
`)

	_, err := LoadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate product slug")
}

func TestLoadManifest_FileMissing(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestManifest_Find(t *testing.T) {
	m := &Manifest{Products: []Product{
		{Slug: "advocates", Name: "Advocates"},
		{Slug: "billing", Name: "Billing"},
	}}

	p := m.Find("billing")
	require.NotNil(t, p)
	assert.Equal(t, "Billing", p.Name)

	assert.Nil(t, m.Find("unknown"))
}
