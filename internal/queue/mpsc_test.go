package queue

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMPSC_bounded(t *testing.T) {
	q := NewMPSC[int](3)
	assert.Equal(t, 4, q.Cap())
	for i := 0; i < 4; i++ {
		require.True(t, q.Offer(i))
	}
	assert.False(t, q.Offer(4))
	assert.Equal(t, 4, q.Len())

	v, ok := q.Poll()
	require.True(t, ok)
	assert.Equal(t, 0, v)
	require.True(t, q.Offer(4))

	for want := 1; want <= 4; want++ {
		v, ok := q.Poll()
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok = q.Poll()
	assert.False(t, ok)
	assert.Zero(t, q.Len())
}

func TestMPSC_concurrentProducers(t *testing.T) {
	const (
		producers = 8
		perWorker = 5000
	)
	q := NewMPSC[[2]int](64)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				for !q.Offer([2]int{p, i}) {
					runtime.Gosched()
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	var received int
	for received < producers*perWorker {
		v, ok := q.Poll()
		if !ok {
			select {
			case <-done:
				if q.Len() == 0 {
					t.Fatalf("producers finished with %d of %d received", received, producers*perWorker)
				}
			default:
			}
			continue
		}
		// per producer ordering is preserved
		require.Equal(t, last[v[0]]+1, v[1])
		last[v[0]] = v[1]
		received++
	}
	<-done
	_, ok := q.Poll()
	assert.False(t, ok)
}
