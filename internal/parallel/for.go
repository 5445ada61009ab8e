// Package parallel runs index-parallel work on a bounded worker pool.
package parallel

import (
	"runtime"
	"sync"
)

// For runs fn(i) for every i in [0, n) on at most workers goroutines.
// workers <= 0 means runtime.NumCPU(). Each index is handled by exactly
// one worker, so fn may write to index-owned memory without locking.
func For(n, workers int, fn func(i int)) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	tasks := make(chan int, workers*2)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		tasks <- i
	}
	close(tasks)
	wg.Wait()
}
