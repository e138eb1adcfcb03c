//go:build linux

package uring

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SyscallExecutor performs each command synchronously with the equivalent
// blocking system call. Paired with Sim it gives a functional ring on
// kernels where io_uring is unavailable or disabled.
//
// Addresses in the commands must reference memory kept alive by the
// submitter until the completion is processed, exactly as with the kernel.
type SyscallExecutor struct{}

// Execute implements Executor.
func (SyscallExecutor) Execute(sqe SQE) int32 {
	switch sqe.Opcode {
	case OpNop:
		return 0
	case OpRead:
		n, err := unix.Pread(int(sqe.FD), sqeBytes(sqe), int64(sqe.Off))
		return result(n, err)
	case OpWrite:
		n, err := unix.Pwrite(int(sqe.FD), sqeBytes(sqe), int64(sqe.Off))
		return result(n, err)
	case OpFsync:
		if sqe.OpFlags&FsyncDatasync != 0 {
			return result(0, unix.Fdatasync(int(sqe.FD)))
		}
		return result(0, unix.Fsync(int(sqe.FD)))
	case OpOpenat:
		path := unix.BytePtrToString((*byte)(unsafe.Pointer(uintptr(sqe.Addr))))
		return result(unix.Openat(int(sqe.FD), path, int(sqe.OpFlags), sqe.Len))
	case OpClose:
		return result(0, unix.Close(int(sqe.FD)))
	case OpFallocate:
		return result(0, unix.Fallocate(int(sqe.FD), sqe.Len, int64(sqe.Off), int64(sqe.Addr)))
	default:
		return -int32(unix.EINVAL)
	}
}

func sqeBytes(sqe SQE) []byte {
	if sqe.Len == 0 || sqe.Addr == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(sqe.Addr))), sqe.Len)
}

func result(n int, err error) int32 {
	if err == nil {
		return int32(n)
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return -int32(errno)
	}
	return -int32(unix.EIO)
}
