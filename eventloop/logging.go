package eventloop

import (
	"github.com/joeycumines/logiface"
)

// loopFields adds the fields identifying the loop to every event it logs.
func (l *Loop) loopFields(b *logiface.Builder[logiface.Event]) {
	b.Str("loop", l.name).
		Uint64("loop_id", l.id).
		Stringer("type", l.loopType)
}

func (l *Loop) logStarted() {
	l.logger.Info().
		Call(l.loopFields).
		Int("cpu", l.cpu).
		Log("eventloop: started")
}

func (l *Loop) logTerminated(err error) {
	l.logger.Info().
		Call(l.loopFields).
		Err(err).
		Log("eventloop: terminated")
}

func (l *Loop) logTaskPanic(err PanicError) {
	l.logger.Err().
		Call(l.loopFields).
		Err(err).
		Log("eventloop: task panicked")
}

func (l *Loop) logAffinityFailure(err error) {
	l.logger.Warning().
		Call(l.loopFields).
		Int("cpu", l.cpu).
		Err(err).
		Log("eventloop: failed to pin thread, running unpinned")
}

func (l *Loop) logRingFailure(err error) {
	l.logger.Crit().
		Call(l.loopFields).
		Int("pending", l.scheduler.Pending()).
		Err(err).
		Log("eventloop: ring submit failed, shutting down")
}
