// Package eventloop provides a thread-per-core event loop driving storage
// I/O through an io_uring style ring.
//
// # Architecture
//
// Each [Loop] owns one ring ([uring.Ring]) and one [storage.Scheduler],
// and runs on a single goroutine locked to an OS thread, optionally pinned
// to a CPU with [WithCPU]. Every iteration:
//  1. runs up to the task budget of tasks from [Loop.Offer]
//  2. ticks the scheduler, moving staged requests into the ring
//  3. submits the ring
//  4. dispatches ready completions to their requests
//
// An idle loop yields while storage requests are outstanding, and otherwise
// parks until offered a task or the idle timeout elapses.
//
// # Lifecycle
//
// Loops move strictly forward through [StateNew], [StateRunning],
// [StateShutdown] and [StateTerminated]. [Loop.Shutdown] is idempotent, and
// a running loop drains queued tasks and outstanding requests before it
// terminates, closing its ring.
//
// # Thread Safety
//
//   - [Loop.Offer], [Loop.Submit], [Loop.Shutdown] and the accessors are safe to call from any goroutine
//   - the scheduler, requests and buffers are loop-local, used only by offered tasks
//   - outcomes cross goroutines through [storage.Promise]
//
// # Usage
//
//	loop, err := eventloop.New(
//	    eventloop.WithStorageCapacity(512),
//	    eventloop.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := loop.Start(); err != nil {
//	    return err
//	}
//	defer loop.AwaitTermination(time.Minute)
//	defer loop.Shutdown()
//
//	p := storage.NewPromise()
//	if err := loop.Submit(storage.Fsync{File: file}, p); err != nil {
//	    return err
//	}
//	_, err = p.Wait(ctx)
package eventloop
