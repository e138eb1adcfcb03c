//go:build linux

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/joeycumines/go-tpcengine/eventloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_sim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.dat")
	cfg := config{
		path:     path,
		loopType: eventloop.TypeSim,
		size:     512,
		ops:      64,
		depth:    4,
		cpu:      -1,
		keep:     true,
	}
	require.NoError(t, run(context.Background(), nil, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, cfg.ops*cfg.size)
	for block := 0; block < cfg.ops; block++ {
		assert.Equal(t, pattern(block, cfg.size), data[block*cfg.size:(block+1)*cfg.size], "block %d", block)
	}
}

func TestRun_removesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.dat")
	require.NoError(t, run(context.Background(), nil, config{
		path:     path,
		loopType: eventloop.TypeSim,
		size:     128,
		ops:      8,
		depth:    2,
		cpu:      -1,
	}))
	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPattern(t *testing.T) {
	assert.Equal(t, []byte{31, 32, 33}, pattern(1, 3))
	assert.NotEqual(t, pattern(1, 16), pattern(2, 16))
}
