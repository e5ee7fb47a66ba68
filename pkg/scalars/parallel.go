package scalars

import "fmt"

// forChunks splits [0, n) into at most workers contiguous chunks and runs fn
// on each in its own goroutine. Chunks write disjoint output ranges, so the
// result does not depend on scheduling.
func forChunks(n, workers int, fn func(lo, hi int) error) error {
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		return fn(0, n)
	}

	type chunkResult struct {
		lo, hi int
		err    error
	}
	resultChan := make(chan chunkResult)

	size := (n + workers - 1) / workers
	started := 0
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		started++
		go func(lo, hi int) {
			resultChan <- chunkResult{lo: lo, hi: hi, err: fn(lo, hi)}
		}(lo, hi)
	}

	var firstErr error
	for i := 0; i < started; i++ {
		res := <-resultChan
		if res.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("voxels [%d,%d): %w", res.lo, res.hi, res.err)
		}
	}
	return firstErr
}
