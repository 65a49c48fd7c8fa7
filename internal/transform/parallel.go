// Package transform turns raw song records and log events into the star-schema
// tables. Every builder is a pure, order-independent transform that fans work
// out over hash partitions of its natural key.
package transform

import (
	"context"
	"hash/fnv"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Options controls how the builders parallelise work.
type Options struct {
	// Workers is the number of partitions processed concurrently.
	// Zero means runtime.NumCPU().
	Workers int
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

// hashPartition splits items into n buckets by the hash of their key, so all
// records sharing a key land in the same bucket.
func hashPartition[T any](items []T, n int, key func(*T) string) [][]T {
	parts := make([][]T, n)
	for i := range items {
		h := fnv.New32a()
		h.Write([]byte(key(&items[i])))
		p := int(h.Sum32() % uint32(n))
		parts[p] = append(parts[p], items[i])
	}
	return parts
}

// chunk splits items into at most n contiguous slices of near-equal size.
func chunk[T any](items []T, n int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if n > len(items) {
		n = len(items)
	}
	size := (len(items) + n - 1) / n
	parts := make([][]T, 0, n)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		parts = append(parts, items[start:end])
	}
	return parts
}

// forEachPartition runs fn for every partition on its own goroutine and
// returns the first error.
func forEachPartition[T any](ctx context.Context, parts [][]T, fn func(ctx context.Context, index int, part []T) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, i, part)
		})
	}
	return g.Wait()
}

// dedupBy keeps one representative per key. Among duplicates the record for
// which less reports true against every other survives. The result is sorted
// by key.
func dedupBy[T any](ctx context.Context, items []T, opts Options, key func(*T) string, less func(a, b *T) bool) ([]T, error) {
	parts := hashPartition(items, opts.workers(), key)
	reduced := make([]map[string]T, len(parts))

	err := forEachPartition(ctx, parts, func(ctx context.Context, i int, part []T) error {
		best := make(map[string]T, len(part))
		for j := range part {
			k := key(&part[j])
			cur, ok := best[k]
			if !ok || less(&part[j], &cur) {
				best[k] = part[j]
			}
		}
		reduced[i] = best
		return nil
	})
	if err != nil {
		return nil, err
	}

	type keyed struct {
		key string
		val T
	}
	var all []keyed
	for _, m := range reduced {
		for k, v := range m {
			all = append(all, keyed{k, v})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].key < all[j].key })

	out := make([]T, len(all))
	for i := range all {
		out[i] = all[i].val
	}
	return out, nil
}
