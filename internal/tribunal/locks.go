package tribunal

import (
	"context"
	"sync"
)

// TurnLocks serialises turns per event ID. Turns for different events run
// concurrently. The zero value is ready to use.
type TurnLocks struct {
	mu    sync.Mutex
	slots map[string]*turnSlot
}

type turnSlot struct {
	ch   chan struct{}
	refs int
}

// Lock blocks until the caller holds eventID's turn slot or ctx is done.
// On success the returned function must be called exactly once to release
// the slot.
func (l *TurnLocks) Lock(ctx context.Context, eventID string) (unlock func(), err error) {
	l.mu.Lock()
	if l.slots == nil {
		l.slots = make(map[string]*turnSlot)
	}
	s, ok := l.slots[eventID]
	if !ok {
		s = &turnSlot{ch: make(chan struct{}, 1)}
		l.slots[eventID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.release(eventID, s)
			})
		}, nil
	case <-ctx.Done():
		l.release(eventID, s)
		return nil, ctx.Err()
	}
}

func (l *TurnLocks) release(eventID string, s *turnSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, eventID)
	}
}

// Len reports how many events currently have a holder or waiter.
func (l *TurnLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
