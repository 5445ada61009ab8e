package parallel

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestForVisitsEveryIndexOnce(t *testing.T) {
	for _, workers := range []int{0, 1, 3, 64} {
		seen := make([]int32, 100)
		For(len(seen), workers, func(i int) { atomic.AddInt32(&seen[i], 1) })
		for i, c := range seen {
			if c != 1 {
				t.Fatalf("workers=%d: index %d visited %d times", workers, i, c)
			}
		}
	}
}

func TestForBoundsConcurrency(t *testing.T) {
	tests := []struct {
		workers, want int
	}{
		{1, 1},
		{2, 2},
		{4, 4},
	}
	for _, tt := range tests {
		var active, peak atomic.Int32
		For(32, tt.workers, func(int) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		})
		if got := int(peak.Load()); got > tt.want {
			t.Errorf("workers=%d: %d tasks ran at once", tt.workers, got)
		}
	}
}

func TestForEmpty(t *testing.T) {
	For(0, 4, func(int) { t.Fatal("fn called for empty range") })
}
