package uring

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kernelSQE mirrors struct io_uring_sqe field for field.
type kernelSQE struct {
	Opcode      uint8
	Flags       uint8
	IOPrio      uint16
	FD          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	OpFlags     uint32
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFDIn  int32
	Addr3       uint64
	Pad         uint64
}

type kernelCQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

func TestSizeOf(t *testing.T) {
	for _, tc := range [...]struct {
		name     string
		expected uintptr
		actual   uintptr
	}{
		{"SizeofSQE", SizeofSQE, unsafe.Sizeof(kernelSQE{})},
		{"SizeofCQE", SizeofCQE, unsafe.Sizeof(kernelCQE{})},
		{"offSQEFD", offSQEFD, unsafe.Offsetof(kernelSQE{}.FD)},
		{"offSQEOff", offSQEOff, unsafe.Offsetof(kernelSQE{}.Off)},
		{"offSQEAddr", offSQEAddr, unsafe.Offsetof(kernelSQE{}.Addr)},
		{"offSQELen", offSQELen, unsafe.Offsetof(kernelSQE{}.Len)},
		{"offSQEOpFlags", offSQEOpFlags, unsafe.Offsetof(kernelSQE{}.OpFlags)},
		{"offSQEUserData", offSQEUserData, unsafe.Offsetof(kernelSQE{}.UserData)},
		{"offCQERes", offCQERes, unsafe.Offsetof(kernelCQE{}.Res)},
		{"offCQEFlags", offCQEFlags, unsafe.Offsetof(kernelCQE{}.Flags)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if tc.actual != tc.expected {
				t.Errorf("expected %d got %d", tc.expected, tc.actual)
			}
		})
	}
}

func TestSQE_Encode_knownBytes(t *testing.T) {
	if binary.NativeEndian.Uint16([]byte{1, 0}) != 1 {
		t.Skip("known byte sequence is little endian")
	}
	sqe := SQE{
		Opcode:   OpWrite,
		Flags:    0x01,
		IOPrio:   0x0203,
		FD:       7,
		Off:      0x1122334455667788,
		Addr:     0x0102030405060708,
		Len:      100,
		OpFlags:  FsyncDatasync,
		UserData: 42,
	}
	b := make([]byte, SizeofSQE)
	for i := range b {
		b[i] = 0xff
	}
	sqe.Encode(b)

	expected := []byte{
		23, 0x01, 0x03, 0x02, 7, 0, 0, 0,
		0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		100, 0, 0, 0, 1, 0, 0, 0,
		42, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
	}
	assert.Equal(t, expected, b)
}

func TestSQE_Encode_matchesKernelLayout(t *testing.T) {
	var k kernelSQE
	b := unsafe.Slice((*byte)(unsafe.Pointer(&k)), SizeofSQE)
	sqe := SQE{
		Opcode:   OpFallocate,
		IOPrio:   3,
		FD:       -100,
		Off:      4096,
		Addr:     1 << 20,
		Len:      1,
		OpFlags:  0xdeadbeef,
		UserData: 1<<63 | 5,
	}
	sqe.Encode(b)

	assert.Equal(t, OpFallocate, k.Opcode)
	assert.Equal(t, uint16(3), k.IOPrio)
	assert.Equal(t, int32(-100), k.FD)
	assert.Equal(t, uint64(4096), k.Off)
	assert.Equal(t, uint64(1<<20), k.Addr)
	assert.Equal(t, uint32(1), k.Len)
	assert.Equal(t, uint32(0xdeadbeef), k.OpFlags)
	assert.Equal(t, uint64(1<<63|5), k.UserData)
	assert.Zero(t, k.BufIndex)
	assert.Zero(t, k.Addr3)

	assert.Equal(t, sqe, DecodeSQE(b))
}

func TestCQE_roundTripThroughKernelLayout(t *testing.T) {
	k := kernelCQE{UserData: 99, Res: -5, Flags: 2}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&k)), SizeofCQE)
	require.Equal(t, CQE{UserData: 99, Res: -5, Flags: 2}, DecodeCQE(b))

	cqe := CQE{UserData: 7, Res: 100}
	cqe.Encode(b)
	assert.Equal(t, kernelCQE{UserData: 7, Res: 100}, k)
}

func TestSQE_Encode_shortBuffer(t *testing.T) {
	var sqe SQE
	assert.Panics(t, func() { sqe.Encode(make([]byte, SizeofSQE-1)) })
	assert.Panics(t, func() { DecodeCQE(make([]byte, SizeofCQE-1)) })
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "IORING_OP_OPENAT", OpString(OpOpenat))
	assert.Equal(t, "IORING_OP_UNKNOWN(200)", OpString(200))
}
