package crawler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrontierFIFO(t *testing.T) {
	f := newFrontier()
	f.push(FrontierEntry{URL: "a"})
	f.push(FrontierEntry{URL: "b"})

	e1, ok := f.pop()
	require.True(t, ok)
	require.Equal(t, "a", e1.URL)
	e2, ok := f.pop()
	require.True(t, ok)
	require.Equal(t, "b", e2.URL)
}

func TestFrontierCloseReleasesPoppers(t *testing.T) {
	f := newFrontier()
	done := make(chan bool, 1)
	go func() {
		_, ok := f.pop()
		done <- ok
	}()
	f.close()
	require.False(t, <-done)
}

func TestFrontierDrainsBeforeClose(t *testing.T) {
	f := newFrontier()
	f.push(FrontierEntry{URL: "a"})
	f.close()

	e, ok := f.pop()
	require.True(t, ok)
	require.Equal(t, "a", e.URL)

	_, ok = f.pop()
	require.False(t, ok)
}

func TestFrontierConcurrentPoppers(t *testing.T) {
	f := newFrontier()
	const n = 100
	for i := 0; i < n; i++ {
		f.push(FrontierEntry{URL: "u"})
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, ok := f.pop()
				if !ok {
					return
				}
				mu.Lock()
				total++
				if total == n {
					f.close()
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, n, total)
}

func TestVisitTracker(t *testing.T) {
	tracker := newConcurrentVisitTracker()
	require.True(t, tracker.MarkIfNew("https://example.com/a"))
	require.False(t, tracker.MarkIfNew("https://example.com/a"))
	require.True(t, tracker.MarkIfNew("https://example.com/b"))
	require.False(t, tracker.MarkIfNew(""))
}
