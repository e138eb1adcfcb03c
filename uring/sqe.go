package uring

import (
	"encoding/binary"
	"fmt"
)

// Kernel opcodes, see enum io_uring_op in include/uapi/linux/io_uring.h.
const (
	OpNop       uint8 = 0
	OpFsync     uint8 = 3
	OpFallocate uint8 = 17
	OpOpenat    uint8 = 18
	OpClose     uint8 = 19
	OpRead      uint8 = 22
	OpWrite     uint8 = 23
)

const (
	// FsyncDatasync is IORING_FSYNC_DATASYNC, carried in the op flags word of
	// an OpFsync command to request fdatasync semantics.
	FsyncDatasync uint32 = 1 << 0

	// AtFDCWD is the dirfd that resolves relative paths against the current
	// working directory.
	AtFDCWD int32 = -100
)

// Binary layout of struct io_uring_sqe and struct io_uring_cqe. These offsets
// are the only place the ABI is described; everything else goes through
// SQE.Encode, DecodeSQE, CQE.Encode and DecodeCQE.
const (
	SizeofSQE = 64
	SizeofCQE = 16

	offSQEOpcode   = 0
	offSQEFlags    = 1
	offSQEIOPrio   = 2
	offSQEFD       = 4
	offSQEOff      = 8
	offSQEAddr     = 16
	offSQELen      = 24
	offSQEOpFlags  = 28
	offSQEUserData = 32
	endSQEFields   = 40

	offCQEUserData = 0
	offCQERes      = 8
	offCQEFlags    = 12
)

// SQE is the decoded form of one submission queue entry.
//
// OpFlags shares its storage with rw_flags, fsync_flags, open_flags and the
// other per-operation flag words of the kernel union.
type SQE struct {
	Off      uint64
	Addr     uint64
	UserData uint64
	FD       int32
	Len      uint32
	OpFlags  uint32
	IOPrio   uint16
	Opcode   uint8
	Flags    uint8
}

// Encode writes the entry into b, which must be at least SizeofSQE bytes.
// Bytes past the described fields are zeroed, so a recycled slot never
// carries state from a previous command.
func (x *SQE) Encode(b []byte) {
	_ = b[SizeofSQE-1]
	b[offSQEOpcode] = x.Opcode
	b[offSQEFlags] = x.Flags
	binary.NativeEndian.PutUint16(b[offSQEIOPrio:], x.IOPrio)
	binary.NativeEndian.PutUint32(b[offSQEFD:], uint32(x.FD))
	binary.NativeEndian.PutUint64(b[offSQEOff:], x.Off)
	binary.NativeEndian.PutUint64(b[offSQEAddr:], x.Addr)
	binary.NativeEndian.PutUint32(b[offSQELen:], x.Len)
	binary.NativeEndian.PutUint32(b[offSQEOpFlags:], x.OpFlags)
	binary.NativeEndian.PutUint64(b[offSQEUserData:], x.UserData)
	clear(b[endSQEFields:SizeofSQE])
}

// DecodeSQE reads an entry previously written by SQE.Encode (or by any
// producer following the kernel layout).
func DecodeSQE(b []byte) SQE {
	_ = b[SizeofSQE-1]
	return SQE{
		Opcode:   b[offSQEOpcode],
		Flags:    b[offSQEFlags],
		IOPrio:   binary.NativeEndian.Uint16(b[offSQEIOPrio:]),
		FD:       int32(binary.NativeEndian.Uint32(b[offSQEFD:])),
		Off:      binary.NativeEndian.Uint64(b[offSQEOff:]),
		Addr:     binary.NativeEndian.Uint64(b[offSQEAddr:]),
		Len:      binary.NativeEndian.Uint32(b[offSQELen:]),
		OpFlags:  binary.NativeEndian.Uint32(b[offSQEOpFlags:]),
		UserData: binary.NativeEndian.Uint64(b[offSQEUserData:]),
	}
}

// String implements fmt.Stringer.
func (x SQE) String() string {
	return fmt.Sprintf(
		"SQE{op=%s fd=%d off=%d addr=%#x len=%d opflags=%#x userdata=%d}",
		OpString(x.Opcode), x.FD, x.Off, x.Addr, x.Len, x.OpFlags, x.UserData,
	)
}

// CQE is the decoded form of one completion queue entry.
type CQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// Encode writes the entry into b, which must be at least SizeofCQE bytes.
func (x *CQE) Encode(b []byte) {
	_ = b[SizeofCQE-1]
	binary.NativeEndian.PutUint64(b[offCQEUserData:], x.UserData)
	binary.NativeEndian.PutUint32(b[offCQERes:], uint32(x.Res))
	binary.NativeEndian.PutUint32(b[offCQEFlags:], x.Flags)
}

// DecodeCQE reads a completion entry.
func DecodeCQE(b []byte) CQE {
	_ = b[SizeofCQE-1]
	return CQE{
		UserData: binary.NativeEndian.Uint64(b[offCQEUserData:]),
		Res:      int32(binary.NativeEndian.Uint32(b[offCQERes:])),
		Flags:    binary.NativeEndian.Uint32(b[offCQEFlags:]),
	}
}

// OpString returns the kernel name of an opcode.
func OpString(op uint8) string {
	switch op {
	case OpNop:
		return "IORING_OP_NOP"
	case OpFsync:
		return "IORING_OP_FSYNC"
	case OpFallocate:
		return "IORING_OP_FALLOCATE"
	case OpOpenat:
		return "IORING_OP_OPENAT"
	case OpClose:
		return "IORING_OP_CLOSE"
	case OpRead:
		return "IORING_OP_READ"
	case OpWrite:
		return "IORING_OP_WRITE"
	default:
		return fmt.Sprintf("IORING_OP_UNKNOWN(%d)", op)
	}
}
