// Package media lists the brochure and photo files the bot can send.
package media

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound means the directory is missing or has no matching files.
var ErrNotFound = errors.New("media: no files found")

var (
	brochureExt = []string{".pdf"}
	photoExt    = []string{".jpg", ".jpeg", ".png"}
)

// Catalog resolves files from the configured directories.
type Catalog struct {
	BrochureDir string
	PhotosDir   string
}

// Brochures returns the PDF files sorted by name.
func (c Catalog) Brochures() ([]string, error) {
	return list(c.BrochureDir, brochureExt)
}

// Photos returns the image files sorted by name.
func (c Catalog) Photos() ([]string, error) {
	return list(c.PhotosDir, photoExt)
}

func list(dir string, exts []string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, ErrNotFound
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("media: read %s: %w", dir, err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || !hasExt(e.Name(), exts) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	sort.Strings(out)
	return out, nil
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
