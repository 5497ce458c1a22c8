package templates

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrTemplateExists   = errors.New("template already exists")
)

const (
	builtinDir = "builtin"
	customDir  = "custom"
	fileExt    = ".yaml"
)

// Store persists template documents. Builtin templates have an empty Site;
// custom templates live under their site.
type Store interface {
	// Load returns every stored template. Documents that fail to decode or
	// validate are skipped and reported through the second return value.
	Load(ctx context.Context) ([]*Template, []error, error)
	Put(ctx context.Context, t *Template) error
	Delete(ctx context.Context, site, id string) error
}

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Builtins decodes the templates shipped with the binary.
func Builtins() ([]*Template, error) {
	entries, err := fs.ReadDir(builtinFS, builtinDir)
	if err != nil {
		return nil, fmt.Errorf("read builtin templates: %w", err)
	}
	var out []*Template
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		raw, err := builtinFS.ReadFile(path.Join(builtinDir, e.Name()))
		if err != nil {
			return nil, err
		}
		t, err := Decode(raw, "")
		if err != nil {
			return nil, fmt.Errorf("builtin %s: %w", e.Name(), err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Decode parses and validates a YAML template document owned by site.
func Decode(raw []byte, site string) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.Site = site
	return &t, nil
}

func Encode(t *Template) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return nil, fmt.Errorf("encode template %s: %w", t.ID, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// objectPath is the slash-separated location of a template relative to the
// store root.
func objectPath(site, id string) string {
	if site == "" {
		return path.Join(builtinDir, id+fileExt)
	}
	return path.Join(customDir, site, id+fileExt)
}

// parseObjectPath reverses objectPath. ok is false for paths outside the
// layout.
func parseObjectPath(p string) (site, id string, ok bool) {
	if !strings.HasSuffix(p, fileExt) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimSuffix(p, fileExt), "/")
	switch {
	case len(parts) == 2 && parts[0] == builtinDir:
		return "", parts[1], true
	case len(parts) == 3 && parts[0] == customDir && parts[1] != "":
		return parts[1], parts[2], true
	}
	return "", "", false
}

func validSite(site string) error {
	if strings.ContainsAny(site, "/\\:") || site == "." || site == ".." {
		return fmt.Errorf("invalid site id %q", site)
	}
	return nil
}
