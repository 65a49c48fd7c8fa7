package source

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalReader reads files from the local filesystem. The location is either
// a glob pattern such as data/song_data/*/*/*/*.json or a directory, which
// is walked for *.json files.
type LocalReader struct {
	location string
}

// NewLocalReader creates a reader for a glob pattern or directory.
func NewLocalReader(location string) *LocalReader {
	return &LocalReader{location: location}
}

// List implements Reader.
func (r *LocalReader) List(ctx context.Context) ([]string, error) {
	info, err := os.Stat(r.location)
	if err == nil && info.IsDir() {
		return r.walk(ctx)
	}

	matches, err := filepath.Glob(r.location)
	if err != nil {
		return nil, err
	}
	files := matches[:0]
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && !fi.IsDir() {
			files = append(files, m)
		}
	}
	return files, nil
}

func (r *LocalReader) walk(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(r.location, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// Open implements Reader.
func (r *LocalReader) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return os.Open(name)
}

func (r *LocalReader) String() string {
	return r.location
}
