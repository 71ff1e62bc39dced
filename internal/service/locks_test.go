package service

import (
	"sync"
	"testing"
)

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	km := newKeyedMutex()
	counters := make([]int, 3)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		for key := 1; key <= 2; key++ {
			wg.Add(1)
			go func(key int) {
				defer wg.Done()
				unlock := km.Lock(int64(key))
				counters[key]++
				unlock()
			}(key)
		}
	}
	wg.Wait()

	for key := 1; key <= 2; key++ {
		if counters[key] != 100 {
			t.Errorf("counter[%d] = %d, want 100", key, counters[key])
		}
	}
	if size := km.size(); size != 0 {
		t.Errorf("size() = %d, want 0 after all unlocks", size)
	}
}
