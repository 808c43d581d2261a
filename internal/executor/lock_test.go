package executor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLockExclusion(t *testing.T) {
	locks := NewKeyedLock()

	release, ok := locks.TryAcquire("tenant-1", "rule-1")
	require.True(t, ok)

	_, ok = locks.TryAcquire("tenant-1", "rule-1")
	assert.False(t, ok, "second acquire of the same key must fail")

	release()

	release2, ok := locks.TryAcquire("tenant-1", "rule-1")
	assert.True(t, ok, "acquire must succeed after release")
	release2()
}

func TestKeyedLockIndependentKeys(t *testing.T) {
	locks := NewKeyedLock()

	r1, ok := locks.TryAcquire("tenant-1", "rule-1")
	require.True(t, ok)
	defer r1()

	r2, ok := locks.TryAcquire("tenant-1", "rule-2")
	assert.True(t, ok, "different rule must not contend")
	defer r2()

	r3, ok := locks.TryAcquire("tenant-2", "rule-1")
	assert.True(t, ok, "same rule id under a different tenant must not contend")
	defer r3()
}

func TestKeyedLockReleaseIdempotent(t *testing.T) {
	locks := NewKeyedLock()

	release, ok := locks.TryAcquire("tenant-1", "rule-1")
	require.True(t, ok)

	release()
	release() // double release must be a no-op

	_, ok = locks.TryAcquire("tenant-1", "rule-1")
	assert.True(t, ok)
}

func TestKeyedLockConcurrent(t *testing.T) {
	locks := NewKeyedLock()

	const goroutines = 50
	var acquired int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, ok := locks.TryAcquire("tenant-1", "rule-1"); ok {
				mu.Lock()
				acquired++
				mu.Unlock()
				release()
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, acquired, 1, "at least one goroutine must win the lock")
}
