package storage

import (
	"fmt"

	"github.com/joeycumines/go-tpcengine/pool"
)

// Opcode identifies the kind of a storage operation.
type Opcode uint8

const (
	OpNop Opcode = iota
	OpRead
	OpWrite
	OpFsync
	OpFdatasync
	OpOpen
	OpClose
	OpFallocate
)

// String implements fmt.Stringer.
func (x Opcode) String() string {
	switch x {
	case OpNop:
		return "NOP"
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpFsync:
		return "FSYNC"
	case OpFdatasync:
		return "FDATASYNC"
	case OpOpen:
		return "OPEN"
	case OpClose:
		return "CLOSE"
	case OpFallocate:
		return "FALLOCATE"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(x))
	}
}

// ManPage returns the manual page documenting the system call behind the
// operation, or an empty string if there is none.
func (x Opcode) ManPage() string {
	var page string
	switch x {
	case OpRead:
		page = "man2/pread.2"
	case OpWrite:
		page = "man2/pwrite.2"
	case OpFsync, OpFdatasync:
		page = "man2/fsync.2"
	case OpOpen:
		page = "man2/open.2"
	case OpClose:
		page = "man2/close.2"
	case OpFallocate:
		page = "man2/fallocate.2"
	default:
		return ""
	}
	return "https://man7.org/linux/man-pages/" + page + ".html"
}

// Operation is one of Nop, Read, Write, Fsync, Fdatasync, Open, Close or
// Fallocate. The set is closed.
type Operation interface {
	Opcode() Opcode
	operation()
}

type (
	// Nop does nothing. A non-nil File has its nop counter incremented.
	Nop struct {
		File *File
	}

	// Read reads Length bytes at Offset into Buf, starting at the buffer's
	// position, which advances by the number of bytes read. A zero Length
	// reads up to the buffer's remaining bytes.
	Read struct {
		File    *File
		Buf     *pool.Buffer
		Offset  int64
		Length  int
		RWFlags uint32
	}

	// Write writes Length bytes from Buf at Offset, starting at the buffer's
	// position, which advances by the number of bytes written. A zero Length
	// writes the buffer's remaining bytes.
	Write struct {
		File    *File
		Buf     *pool.Buffer
		Offset  int64
		Length  int
		RWFlags uint32
	}

	// Fsync flushes data and metadata.
	Fsync struct {
		File *File
	}

	// Fdatasync flushes data, and only the metadata needed to retrieve it.
	Fdatasync struct {
		File *File
	}

	// Open opens File.Path(), assigning the file's descriptor on success.
	// Flags are open(2) flags; Perm applies when creating.
	Open struct {
		File  *File
		Flags int
		Perm  uint32
	}

	// Close closes the file's descriptor.
	Close struct {
		File *File
	}

	// Fallocate manipulates the allocated space of the byte range
	// [Offset, Offset+Length), per fallocate(2) Mode.
	Fallocate struct {
		File   *File
		Mode   uint32
		Offset int64
		Length int64
	}
)

func (Nop) Opcode() Opcode       { return OpNop }
func (Read) Opcode() Opcode      { return OpRead }
func (Write) Opcode() Opcode     { return OpWrite }
func (Fsync) Opcode() Opcode     { return OpFsync }
func (Fdatasync) Opcode() Opcode { return OpFdatasync }
func (Open) Opcode() Opcode      { return OpOpen }
func (Close) Opcode() Opcode     { return OpClose }
func (Fallocate) Opcode() Opcode { return OpFallocate }

func (Nop) operation()       {}
func (Read) operation()      {}
func (Write) operation()     {}
func (Fsync) operation()     {}
func (Fdatasync) operation() {}
func (Open) operation()      {}
func (Close) operation()     {}
func (Fallocate) operation() {}

// opFile returns the target file of op, which may be nil.
func opFile(op Operation) *File {
	switch op := op.(type) {
	case *Nop:
		return op.File
	case *Read:
		return op.File
	case *Write:
		return op.File
	case *Fsync:
		return op.File
	case *Fdatasync:
		return op.File
	case *Open:
		return op.File
	case *Close:
		return op.File
	case *Fallocate:
		return op.File
	default:
		return nil
	}
}
