// Package images resolves optional cover images for events from a directory
// of files named after the event title.
package images

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExtensions are tried in order when no extensions are configured.
var DefaultExtensions = []string{"jpg", "jpeg", "png", "webp", "gif"}

// Resolver looks up "<title>.<ext>" in a directory.
type Resolver struct {
	dir        string
	extensions []string
}

// NewResolver creates a Resolver over dir. An empty extension list uses
// DefaultExtensions.
func NewResolver(dir string, extensions []string) *Resolver {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		exts = append(exts, strings.TrimPrefix(ext, "."))
	}
	return &Resolver{dir: dir, extensions: exts}
}

// Find returns the first existing image for title, trying the extensions in
// order. It returns nil, nil when there is none.
func (r *Resolver) Find(title string) ([]byte, error) {
	if !safeName(title) {
		return nil, nil
	}
	for _, ext := range r.extensions {
		path := filepath.Join(r.dir, title+"."+ext)
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat image %s: %w", path, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image %s: %w", path, err)
		}
		return data, nil
	}
	return nil, nil
}

// safeName rejects titles that would escape the image directory.
func safeName(title string) bool {
	if title == "" || title == "." || title == ".." {
		return false
	}
	return !strings.ContainsAny(title, `/\`) && !strings.ContainsRune(title, 0)
}
