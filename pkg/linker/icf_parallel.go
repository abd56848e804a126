package linker

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// parallelRange runs fn(i) for every i in [0, n), fanning out across a
// worker pool sized to the machine's hardware parallelism. Each worker
// owns a disjoint, contiguous slice of the index space, so callers that
// write to index-i of a pre-sized slice inside fn never race with one
// another (spec.md §5's "no section's mutable ICF fields are written
// concurrently from two workers" discipline). This is a fork-join
// barrier: parallelRange does not return until every worker is done.
//
// An error returned by any worker aborts the remaining work in that
// worker (later indices in its range are skipped) and is returned once
// every worker has settled; other workers keep running to completion,
// matching errgroup.Group's normal semantics.
func parallelRange(n int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}

	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	chunk := (n + workers - 1) / workers

	g := new(errgroup.Group)
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		start, end := start, end
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := fn(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// parallelForFiles is parallelRange specialized to per-file fan-out,
// the shape §5 calls out for eligibility classification and leaf
// insertion (one goroutine's worth of files at a time, never splitting
// a single file's sections across workers).
func parallelForFiles(files []*ObjectFile, fn func(file *ObjectFile) error) error {
	return parallelRange(len(files), func(i int) error {
		return fn(files[i])
	})
}
