// Package source reads raw song records and log events from local files or
// S3 objects. Each file holds one or more JSON objects, either concatenated
// or one per line.
package source

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strings"

	"github.com/fidde/songplay_lake/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Reader enumerates and opens the raw files of one dataset.
type Reader interface {
	// List returns the names of all matching files.
	List(ctx context.Context) ([]string, error)
	// Open opens a file returned by List.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// String describes the dataset location for logs.
	String() string
}

// Open returns a Reader for location: an s3:// URI, a glob pattern or a
// directory.
func Open(location string, s3Client S3Client) (Reader, error) {
	if strings.HasPrefix(location, "s3://") || strings.HasPrefix(location, "s3a://") {
		if s3Client == nil {
			return nil, fmt.Errorf("%w: %s: no S3 client configured", models.ErrInputRead, location)
		}
		return NewS3Reader(location, s3Client)
	}
	return NewLocalReader(location), nil
}

// Dataset pairs the song and log readers of one pipeline run.
type Dataset struct {
	SongReader Reader
	LogReader  Reader
	// Workers bounds the number of files decoded concurrently.
	Workers int
}

// Songs reads every song record.
func (d *Dataset) Songs(ctx context.Context) ([]models.SongRecord, error) {
	return readAll(ctx, d.SongReader, d.Workers, DecodeSongs)
}

// Logs reads every log event.
func (d *Dataset) Logs(ctx context.Context) ([]models.LogEvent, error) {
	return readAll(ctx, d.LogReader, d.Workers, DecodeLogs)
}

// readAll decodes all files of r concurrently and concatenates the records
// in sorted file order.
func readAll[T any](ctx context.Context, r Reader, workers int, decode func(origin string, rd io.Reader) ([]T, error)) ([]T, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: no reader configured", models.ErrInputRead)
	}

	names, err := r.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", models.ErrInputRead, r, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no files match %s", models.ErrInputRead, r)
	}
	sort.Strings(names)

	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([][]T, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, name := range names {
		g.Go(func() error {
			rc, err := r.Open(ctx, name)
			if err != nil {
				return fmt.Errorf("%w: opening %s: %v", models.ErrInputRead, name, err)
			}
			defer rc.Close()

			recs, err := decode(name, rc)
			if err != nil {
				return err
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, recs := range results {
		total += len(recs)
	}
	out := make([]T, 0, total)
	for _, recs := range results {
		out = append(out, recs...)
	}
	return out, nil
}
