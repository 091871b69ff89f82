package utils

import (
	"sync"
	"testing"
)

func TestSnowflakeID_Unique(t *testing.T) {
	gen := NewSnowflakeID(1)

	const n = 10000
	seen := make(map[int64]bool, n)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n/8; j++ {
				id := gen.Generate()
				mu.Lock()
				if seen[id] {
					t.Errorf("Duplicate ID %d", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestSnowflakeID_Monotonic(t *testing.T) {
	gen := NewSnowflakeID(1)
	prev := gen.Generate()
	for i := 0; i < 1000; i++ {
		id := gen.Generate()
		if id <= prev {
			t.Fatalf("IDs must be strictly increasing, %d after %d", id, prev)
		}
		prev = id
	}
}
