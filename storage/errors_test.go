package storage

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestOpError_Error(t *testing.T) {
	err := &OpError{
		Op:      OpWrite,
		Path:    "/data/log",
		Errno:   unix.ENOSPC,
		Request: "Request{op=WRITE state=submitted id=3}",
	}
	assert.Equal(t,
		`storage: failed to write to file "/data/log" (WRITE): `+unix.ENOSPC.Error()+
			` (ENOSPC, errno 28): Request{op=WRITE state=submitted id=3}; see https://man7.org/linux/man-pages/man2/pwrite.2.html`,
		err.Error(),
	)
	assert.True(t, errors.Is(err, unix.ENOSPC))
}

func TestOpError_nop(t *testing.T) {
	err := &OpError{Op: OpNop, Errno: unix.ENOENT}
	assert.Equal(t, `storage: failed to perform a nop on file (NOP): `+unix.ENOENT.Error()+` (ENOENT, errno 2)`, err.Error())
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestOpcode_String(t *testing.T) {
	for op, want := range map[Opcode]string{
		OpNop:       "NOP",
		OpRead:      "READ",
		OpWrite:     "WRITE",
		OpFsync:     "FSYNC",
		OpFdatasync: "FDATASYNC",
		OpOpen:      "OPEN",
		OpClose:     "CLOSE",
		OpFallocate: "FALLOCATE",
		Opcode(42):  "Opcode(42)",
	} {
		assert.Equal(t, want, op.String())
	}
	assert.Empty(t, OpNop.ManPage())
	assert.Equal(t, "https://man7.org/linux/man-pages/man2/fallocate.2.html", OpFallocate.ManPage())
}
