package storage

import (
	"sync"

	"github.com/joeycumines/logiface"
)

type testEvent struct {
	logiface.UnimplementedEvent
	fields map[string]any
	level  logiface.Level
}

func (e *testEvent) Level() logiface.Level { return e.level }

func (e *testEvent) AddField(key string, val any) {
	if e.fields == nil {
		e.fields = make(map[string]any)
	}
	e.fields[key] = val
}

func (e *testEvent) AddMessage(msg string) bool {
	e.AddField(`msg`, msg)
	return true
}

type testEventFactory struct{}

func (testEventFactory) NewEvent(level logiface.Level) *testEvent {
	return &testEvent{level: level}
}

// capturedLogs records every event written by the logger it builds.
type capturedLogs struct {
	events []*testEvent
	mu     sync.Mutex
}

func (x *capturedLogs) Write(event *testEvent) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.events = append(x.events, event)
	return nil
}

func (x *capturedLogs) Logger() *logiface.Logger[logiface.Event] {
	return logiface.New[*testEvent](
		logiface.WithEventFactory[*testEvent](testEventFactory{}),
		logiface.WithWriter[*testEvent](x),
		logiface.WithLevel[*testEvent](logiface.LevelTrace),
	).Logger()
}

func (x *capturedLogs) Levels() []logiface.Level {
	x.mu.Lock()
	defer x.mu.Unlock()
	levels := make([]logiface.Level, len(x.events))
	for i, e := range x.events {
		levels[i] = e.level
	}
	return levels
}

func (x *capturedLogs) Messages() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	msgs := make([]string, len(x.events))
	for i, e := range x.events {
		msgs[i], _ = e.fields[`msg`].(string)
	}
	return msgs
}
