//go:build linux

package eventloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLoop_WithCPU(t *testing.T) {
	var allowed unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &allowed))
	cpu := -1
	for i := 0; i < 1024; i++ {
		if allowed.IsSet(i) {
			cpu = i
			break
		}
	}
	require.GreaterOrEqual(t, cpu, 0)

	logger, logs := newJSONLogger()
	loop := newTestLoop(t, WithCPU(cpu), WithLogger(logger))
	require.NoError(t, loop.Start())

	var (
		pinned unix.CPUSet
		err    error
	)
	run(t, loop, func() { err = unix.SchedGetaffinity(0, &pinned) })
	require.NoError(t, err)
	assert.Equal(t, 1, pinned.Count())
	assert.True(t, pinned.IsSet(cpu))
	assert.NotContains(t, logs.String(), "failed to pin thread")
}
