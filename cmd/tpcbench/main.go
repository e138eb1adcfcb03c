// Command tpcbench drives a single event loop against one file, writing,
// syncing, then reading back and verifying fixed size blocks.
//
// Usage:
//
//	tpcbench -file /tmp/tpcbench.dat              # io_uring, 1024 x 4KiB blocks
//	tpcbench -type sim -ops 100000 -depth 64      # portable ring, syscall executor
//	tpcbench -direct -cpu 2                       # O_DIRECT, loop pinned to cpu 2
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/joeycumines/go-tpcengine/eventloop"
	"github.com/joeycumines/go-tpcengine/pool"
	"github.com/joeycumines/go-tpcengine/storage"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/ncw/directio"
	"golang.org/x/sys/unix"
)

type config struct {
	path     string
	loopType eventloop.Type
	size     int
	ops      int
	depth    int
	cpu      int
	direct   bool
	keep     bool
}

func main() {
	var (
		cfg      config
		typeName string
		verbose  bool
	)
	flag.StringVar(&cfg.path, "file", "tpcbench.dat", "File to write and read back")
	flag.StringVar(&typeName, "type", "io_uring", "Ring backend: io_uring or sim")
	flag.IntVar(&cfg.size, "size", 4096, "Block size in bytes")
	flag.IntVar(&cfg.ops, "ops", 1024, "Number of blocks")
	flag.IntVar(&cfg.depth, "depth", 32, "Maximum operations in flight")
	flag.IntVar(&cfg.cpu, "cpu", -1, "Pin the loop thread to this cpu (-1 disables)")
	flag.BoolVar(&cfg.direct, "direct", false, "Open the file with O_DIRECT")
	flag.BoolVar(&cfg.keep, "keep", false, "Keep the file after the run")
	flag.BoolVar(&verbose, "v", false, "Log at debug level")
	flag.Parse()

	level := logiface.LevelInformational
	if verbose {
		level = logiface.LevelDebug
	}
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(level),
	).Logger()

	switch typeName {
	case "io_uring":
		cfg.loopType = eventloop.TypeIOUring
	case "sim":
		cfg.loopType = eventloop.TypeSim
	default:
		fmt.Fprintf(os.Stderr, "tpcbench: unknown ring type %q\n", typeName)
		os.Exit(2)
	}
	if cfg.size <= 0 || cfg.ops <= 0 || cfg.depth <= 0 {
		fmt.Fprintln(os.Stderr, "tpcbench: -size, -ops and -depth must be positive")
		os.Exit(2)
	}
	if cfg.direct && directio.AlignSize > 0 {
		cfg.size = (cfg.size + directio.AlignSize - 1) / directio.AlignSize * directio.AlignSize
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Err().
			Err(err).
			Log("tpcbench: failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *logiface.Logger[logiface.Event], cfg config) (err error) {
	opts := []eventloop.LoopOption{
		eventloop.WithType(cfg.loopType),
		eventloop.WithName("tpcbench"),
		eventloop.WithLogger(logger),
		eventloop.WithMetrics(true),
		eventloop.WithStorageCapacity(2 * cfg.depth),
		eventloop.WithMaxInFlight(cfg.depth),
	}
	if cfg.cpu >= 0 {
		opts = append(opts, eventloop.WithCPU(cfg.cpu))
	}
	loop, err := eventloop.New(opts...)
	if err != nil {
		return err
	}
	if err := loop.Start(); err != nil {
		return err
	}
	defer func() {
		loop.Shutdown()
		if !loop.AwaitTermination(10 * time.Second) {
			err = errors.Join(err, errors.New("tpcbench: loop did not terminate"))
		}
		err = errors.Join(err, loop.Err())
	}()

	b := &bench{ctx: ctx, loop: loop, cfg: cfg}
	closeFile, err := b.open()
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, closeFile())
		if !cfg.keep {
			err = errors.Join(err, os.Remove(cfg.path))
		}
	}()

	if _, err := b.do(storage.Fallocate{File: b.file, Length: int64(cfg.ops) * int64(cfg.size)}); err != nil && !errors.Is(err, unix.EOPNOTSUPP) {
		return err
	}

	start := time.Now()
	if err := b.parallel(b.writeBlock); err != nil {
		return err
	}
	if _, err := b.do(storage.Fsync{File: b.file}); err != nil {
		return err
	}
	written := time.Since(start)

	start = time.Now()
	if err := b.parallel(b.readBlock); err != nil {
		return err
	}
	read := time.Since(start)

	b.report(written, read)
	return nil
}

type bench struct {
	ctx  context.Context
	loop *eventloop.Loop
	file *storage.File
	cfg  config
}

// open opens the benchmark file, through the loop unless O_DIRECT is
// requested, returning a func to close it.
func (b *bench) open() (func() error, error) {
	if b.cfg.direct {
		f, err := directio.OpenFile(b.cfg.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, err
		}
		b.file = storage.NewOpenFile(b.cfg.path, int32(f.Fd()))
		return f.Close, nil
	}
	b.file = storage.NewFile(b.cfg.path)
	if _, err := b.do(storage.Open{File: b.file, Flags: unix.O_CREAT | unix.O_RDWR | unix.O_TRUNC | unix.O_CLOEXEC, Perm: 0o600}); err != nil {
		return nil, err
	}
	return func() error {
		_, err := b.do(storage.Close{File: b.file})
		return err
	}, nil
}

func (b *bench) do(op storage.Operation) (int32, error) {
	p := storage.NewPromise()
	for {
		err := b.loop.Submit(op, p)
		if !errors.Is(err, eventloop.ErrLoopOverloaded) {
			if err != nil {
				return 0, err
			}
			break
		}
		time.Sleep(10 * time.Microsecond)
	}
	v, err := p.Wait(b.ctx)
	if errors.Is(err, storage.ErrRejected) {
		// staging queue full, retry
		return b.do(op)
	}
	return v, err
}

// parallel runs fn for every block, across depth workers, each owning one
// buffer.
func (b *bench) parallel(fn func(buf *pool.Buffer, block int) error) error {
	bufs := pool.NewBuffers(b.cfg.depth, b.cfg.size)
	workers := make([]*pool.Buffer, b.cfg.depth)
	for i := range workers {
		buf, err := bufs.Allocate()
		if err != nil {
			return err
		}
		workers[i] = buf
	}
	defer func() {
		for _, buf := range workers {
			buf.Release()
		}
	}()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for w, buf := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for block := w; block < b.cfg.ops; block += len(workers) {
				if err := fn(buf, block); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("block %d: %w", block, err))
					mu.Unlock()
					return
				}
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (b *bench) writeBlock(buf *pool.Buffer, block int) error {
	buf.Reset()
	if _, err := buf.Write(pattern(block, b.cfg.size)); err != nil {
		return err
	}
	buf.Flip()
	n, err := b.do(storage.Write{File: b.file, Buf: buf, Offset: int64(block) * int64(b.cfg.size)})
	if err != nil {
		return err
	}
	if int(n) != b.cfg.size {
		return fmt.Errorf("short write: %d of %d bytes", n, b.cfg.size)
	}
	return nil
}

func (b *bench) readBlock(buf *pool.Buffer, block int) error {
	buf.Reset()
	buf.SetLen(b.cfg.size)
	n, err := b.do(storage.Read{File: b.file, Buf: buf, Offset: int64(block) * int64(b.cfg.size)})
	if err != nil {
		return err
	}
	if int(n) != b.cfg.size {
		return fmt.Errorf("short read: %d of %d bytes", n, b.cfg.size)
	}
	if !bytes.Equal(buf.Bytes()[:n], pattern(block, b.cfg.size)) {
		return errors.New("read back different data")
	}
	return nil
}

func (b *bench) report(written, read time.Duration) {
	total := float64(b.cfg.ops) * float64(b.cfg.size)
	m := b.loop.Metrics()
	f := b.file.Metrics().Snapshot()
	fmt.Printf("loop:    %s (%s)\n", b.loop.Name(), b.loop.Type())
	fmt.Printf("blocks:  %d x %d bytes, depth %d\n", b.cfg.ops, b.cfg.size, b.cfg.depth)
	fmt.Printf("write:   %v (%.1f MiB/s)\n", written, total/written.Seconds()/(1<<20))
	fmt.Printf("read:    %v (%.1f MiB/s)\n", read, total/read.Seconds()/(1<<20))
	fmt.Printf("latency: p50=%v p90=%v p99=%v max=%v\n", m.Latency.P50, m.Latency.P90, m.Latency.P99, m.Latency.Max)
	fmt.Printf("ops:     completed=%d failed=%d tps=%.0f\n", m.Completed, m.Failed, m.TPS)
	fmt.Printf("file:    reads=%d writes=%d fsyncs=%d fallocates=%d\n", f.Reads, f.Writes, f.Fsyncs, f.Fallocates)
}

// pattern returns the deterministic contents of a block.
func pattern(block, size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(block*31 + i)
	}
	return b
}
