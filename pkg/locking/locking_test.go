package locking

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemLockSerializesPerKey(t *testing.T) {
	group := NewMemLock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := group.DoWithLock("same-key", func() (interface{}, error) {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				mu.Lock()
				inside--
				mu.Unlock()
				return nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen, "only one holder per key at a time")
}

func TestFileLockRunsFunction(t *testing.T) {
	group, err := NewFileLock(t.TempDir())
	require.NoError(t, err)

	v, err := group.DoWithLock("some key / with separators", func() (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	// Reacquiring after release must not deadlock.
	_, err = group.DoWithLock("some key / with separators", func() (interface{}, error) {
		return nil, nil
	})
	require.NoError(t, err)
}

func TestNoOpGroupRunsFunction(t *testing.T) {
	group := NewNoOpGroup()
	v, err := group.DoWithLock("key", func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
