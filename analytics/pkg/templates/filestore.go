package templates

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps templates as YAML files below Root:
// builtin/<id>.yaml and custom/<site>/<id>.yaml.
type FileStore struct {
	Root string
}

func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("templates directory is required")
	}
	for _, dir := range []string{builtinDir, customDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &FileStore{Root: root}, nil
}

func (s *FileStore) Load(ctx context.Context) ([]*Template, []error, error) {
	var (
		out     []*Template
		skipped []error
	)
	err := filepath.WalkDir(s.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.Root, p)
		if err != nil {
			return err
		}
		site, id, ok := parseObjectPath(filepath.ToSlash(rel))
		if !ok {
			return nil
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		t, err := Decode(raw, site)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("%s: %w", rel, err))
			return nil
		}
		if t.ID != id {
			skipped = append(skipped, fmt.Errorf("%s: template_id %q does not match file name", rel, t.ID))
			return nil
		}
		out = append(out, t)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load templates from %s: %w", s.Root, err)
	}
	return out, skipped, nil
}

func (s *FileStore) Put(_ context.Context, t *Template) error {
	if err := validSite(t.Site); err != nil {
		return err
	}
	raw, err := Encode(t)
	if err != nil {
		return err
	}
	p := filepath.Join(s.Root, filepath.FromSlash(objectPath(t.Site, t.ID)))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create template directory: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write template %s: %w", t.ID, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write template %s: %w", t.ID, err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, site, id string) error {
	if err := validSite(site); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.Root, filepath.FromSlash(objectPath(site, id))))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", Key(site, id), ErrTemplateNotFound)
	}
	return err
}
