package cache_test

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ardanlabs/mixnode/foundation/mixnet/cache"
	"github.com/stretchr/testify/require"
)

type key int

func (k key) String() string {
	return strconv.Itoa(int(k))
}

// =============================================================================

func Test_SingleFlight(t *testing.T) {
	c, err := cache.New[key, int](16)
	require.NoError(t, err)

	var calls atomic.Int32
	release := make(chan struct{})

	fetch := func() (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	const goroutines = 32

	var wg sync.WaitGroup
	results := make([]int, goroutines)
	errs := make([]error, goroutines)

	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()

			results[i], errs[i] = c.GetOrFetch(key(1), fetch)
		}()
	}

	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load(), "concurrent misses should cause one fetch")
	for i, v := range results {
		require.NoError(t, errs[i])
		require.Equal(t, 42, v)
	}

	v, ok := c.Get(key(1))
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func Test_FetchError(t *testing.T) {
	c, err := cache.New[key, int](16)
	require.NoError(t, err)

	errFetch := errors.New("backend down")

	_, err = c.GetOrFetch(key(1), func() (int, error) { return 0, errFetch })
	require.ErrorIs(t, err, errFetch)

	_, ok := c.Get(key(1))
	require.False(t, ok, "errors should not be cached")

	v, err := c.GetOrFetch(key(1), func() (int, error) { return 7, nil })
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

func Test_InvalidateDuringFetch(t *testing.T) {
	c, err := cache.New[key, int](16)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int)

	go func() {
		v, _ := c.GetOrFetch(key(1), func() (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		done <- v
	}()

	<-started
	c.Invalidate(key(1))

	// A fetch after the invalidation must not join the stale flight.
	v, err := c.GetOrFetch(key(1), func() (int, error) { return 2, nil })
	require.NoError(t, err)
	require.Equal(t, 2, v)

	close(release)
	require.Equal(t, 1, <-done, "the stale caller still gets its own result")

	v, ok := c.Get(key(1))
	require.True(t, ok)
	require.Equal(t, 2, v, "the stale fetch must not overwrite the cache")
}

func Test_Update(t *testing.T) {
	c, err := cache.New[key, int](16)
	require.NoError(t, err)

	add := func(n int) func(int, bool) (int, bool) {
		return func(current int, cached bool) (int, bool) {
			if !cached {
				return 0, false
			}
			return current + n, true
		}
	}

	c.Update(key(1), add(5))
	_, ok := c.Get(key(1))
	require.False(t, ok, "update should be able to skip missing keys")

	c.Add(key(1), 10)
	c.Update(key(1), add(5))

	v, ok := c.Get(key(1))
	require.True(t, ok)
	require.Equal(t, 15, v)
}

func Test_InvalidateFunc(t *testing.T) {
	c, err := cache.New[key, int](16)
	require.NoError(t, err)

	for i := range 10 {
		c.Add(key(i), i)
	}

	c.InvalidateFunc(func(k key) bool { return k%2 == 0 })
	require.Equal(t, 5, c.Len())

	_, ok := c.Get(key(3))
	require.True(t, ok)

	_, ok = c.Get(key(4))
	require.False(t, ok)

	c.Purge()
	require.Equal(t, 0, c.Len())
}
