package storage

import (
	"fmt"
	"sync/atomic"
)

// File is the target of storage operations. Its descriptor is assigned by
// a completed Open and cleared by a completed Close, both on the loop
// goroutine; other goroutines observe it after waiting on the operation's
// Promise.
type File struct {
	path    string
	metrics FileMetrics
	fd      int32
}

// NewFile returns an unopened File for path.
func NewFile(path string) *File {
	return &File{path: path, fd: -1}
}

// NewOpenFile wraps a descriptor opened elsewhere (e.g. with
// directio.OpenFile), so that it may be used without an Open operation.
func NewOpenFile(path string, fd int32) *File {
	return &File{path: path, fd: fd}
}

// FD returns the descriptor, or -1 if the file is not open.
func (f *File) FD() int32 { return f.fd }

// Path returns the path the file was created with, or an empty string for
// a nil File.
func (f *File) Path() string {
	if f == nil {
		return ``
	}
	return f.path
}

// Metrics returns the per-file counters.
func (f *File) Metrics() *FileMetrics { return &f.metrics }

// String implements fmt.Stringer.
func (f *File) String() string {
	if f == nil {
		return "File{<nil>}"
	}
	return fmt.Sprintf("File{path=%q fd=%d}", f.path, f.fd)
}

// FileMetrics counts completed operations against one File. Counters are
// written by the owning loop and may be read from any goroutine.
type FileMetrics struct {
	nops         atomic.Int64
	reads        atomic.Int64
	writes       atomic.Int64
	fsyncs       atomic.Int64
	fdatasyncs   atomic.Int64
	fallocates   atomic.Int64
	bytesRead    atomic.Int64
	bytesWritten atomic.Int64
}

// FileMetricsSnapshot is a point in time copy of FileMetrics.
type FileMetricsSnapshot struct {
	Nops         int64
	Reads        int64
	Writes       int64
	Fsyncs       int64
	Fdatasyncs   int64
	Fallocates   int64
	BytesRead    int64
	BytesWritten int64
}

func (m *FileMetrics) IncNops()       { m.nops.Add(1) }
func (m *FileMetrics) IncReads()      { m.reads.Add(1) }
func (m *FileMetrics) IncWrites()     { m.writes.Add(1) }
func (m *FileMetrics) IncFsyncs()     { m.fsyncs.Add(1) }
func (m *FileMetrics) IncFdatasyncs() { m.fdatasyncs.Add(1) }
func (m *FileMetrics) IncFallocates() { m.fallocates.Add(1) }

func (m *FileMetrics) IncBytesRead(n int64)    { m.bytesRead.Add(n) }
func (m *FileMetrics) IncBytesWritten(n int64) { m.bytesWritten.Add(n) }

// Snapshot loads every counter.
func (m *FileMetrics) Snapshot() FileMetricsSnapshot {
	return FileMetricsSnapshot{
		Nops:         m.nops.Load(),
		Reads:        m.reads.Load(),
		Writes:       m.writes.Load(),
		Fsyncs:       m.fsyncs.Load(),
		Fdatasyncs:   m.fdatasyncs.Load(),
		Fallocates:   m.fallocates.Load(),
		BytesRead:    m.bytesRead.Load(),
		BytesWritten: m.bytesWritten.Load(),
	}
}
