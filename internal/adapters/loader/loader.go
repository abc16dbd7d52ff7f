// Package loader provides document loading adapters.
package loader

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileLoader reads evidence files from disk. It implements ports.DocumentLoader.
type FileLoader struct {
	extensions map[string]bool
	maxBytes   int64
}

// NewFileLoader creates a loader accepting the given extensions.
// Files larger than maxBytes are refused before they are read.
func NewFileLoader(extensions []string, maxBytes int64) *FileLoader {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return &FileLoader{extensions: exts, maxBytes: maxBytes}
}

// Load reads a document from the given path.
func (l *FileLoader) Load(ctx context.Context, path string) (string, []byte, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", nil, err
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("%s is a directory", path)
	}
	if l.maxBytes > 0 && info.Size() > l.maxBytes {
		return "", nil, fmt.Errorf("%s: %d bytes exceeds the %d byte limit", path, info.Size(), l.maxBytes)
	}

	var r io.Reader = file
	if l.maxBytes > 0 {
		// The file may grow between Stat and Read.
		r = io.LimitReader(file, l.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", nil, err
	}
	if l.maxBytes > 0 && int64(len(data)) > l.maxBytes {
		return "", nil, fmt.Errorf("%s: exceeds the %d byte limit", path, l.maxBytes)
	}
	return filepath.Base(path), data, nil
}

// SupportedExtensions returns file extensions this loader handles.
func (l *FileLoader) SupportedExtensions() []string {
	exts := make([]string, 0, len(l.extensions))
	for ext := range l.extensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Supports reports whether path has a handled extension.
func (l *FileLoader) Supports(path string) bool {
	return l.extensions[strings.ToLower(filepath.Ext(path))]
}

// Walk lists supported files under root in lexical order.
// Hidden files and directories are skipped.
func (l *FileLoader) Walk(ctx context.Context, root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && l.Supports(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}
