package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
)

// ActivitySource delivers user activity events. Subscribe registers fn and
// returns a function removing it again.
type ActivitySource interface {
	Subscribe(fn func()) (unsubscribe func())
}

// ManualSource is an ActivitySource fed by calls to Emit.
type ManualSource struct {
	mu     sync.Mutex
	subs   map[int]func()
	nextID int
}

// NewManualSource creates a source with no subscribers.
func NewManualSource() *ManualSource {
	return &ManualSource{subs: make(map[int]func())}
}

func (s *ManualSource) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Emit delivers one activity event to every subscriber.
func (s *ManualSource) Emit() {
	s.mu.Lock()
	subs := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// Subscribers returns the number of registered subscribers.
func (s *ManualSource) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// ReaderSource emits one activity event per line read from r, which makes
// terminal input count as activity.
type ReaderSource struct {
	*ManualSource
	r io.Reader
}

// NewReaderSource creates a source reading lines from r.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{ManualSource: NewManualSource(), r: r}
}

// Run reads until EOF or ctx is cancelled. Lines are passed to onLine, if
// set, after the activity event has been emitted.
func (s *ReaderSource) Run(ctx context.Context, onLine func(line string)) error {
	scanner := bufio.NewScanner(s.r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.Emit()
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read activity input: %w", err)
	}
	return nil
}
