package eventloop

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-tpcengine/uring"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

// newTestLoop creates a TypeSim loop, shut down and awaited on cleanup.
func newTestLoop(t *testing.T, opts ...LoopOption) *Loop {
	t.Helper()
	opts = append([]LoopOption{WithType(TypeSim), WithIdleTimeout(time.Millisecond)}, opts...)
	loop, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		loop.Shutdown()
		if !loop.AwaitTermination(5 * time.Second) {
			t.Errorf("loop %s did not terminate", loop.Name())
		}
	})
	return loop
}

// newManualLoop creates a TypeSim loop whose completions are posted by the
// test, through the returned ring.
func newManualLoop(t *testing.T, opts ...LoopOption) (*Loop, *uring.Sim) {
	t.Helper()
	ring := uring.NewSim(16, nil)
	return newTestLoop(t, append([]LoopOption{WithRing(ring)}, opts...)...), ring
}

// run offers fn to the loop and waits for it to return.
func run(t *testing.T, loop *Loop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, loop.Offer(func() {
		defer close(done)
		fn()
	}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for task")
	}
}

// syncBuffer guards a bytes.Buffer written by the loop goroutine.
type syncBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.String()
}

// newJSONLogger logs JSON lines, without timestamps, to the returned buffer.
func newJSONLogger() (*logiface.Logger[logiface.Event], *syncBuffer) {
	var buf syncBuffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&buf), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
	return logger, &buf
}
