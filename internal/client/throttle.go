package client

import (
	"sync"
	"time"
)

// throttleWindow is the minimum gap between two sends of the same
// intent type. Inside a window only the newest intent survives.
const throttleWindow = 50 * time.Millisecond

type pendingIntent struct {
	intentType string
	frame      []byte
}

// Throttle coalesces outbound intents per type: at most one send per
// window per type, newest wins, and held intents of different types go
// out in the order they first queued.
type Throttle struct {
	send func([]byte)

	mu       sync.Mutex
	lastSent map[string]time.Time
	pending  map[string][]byte
	order    []string
	timer    *time.Timer
	closed   bool

	now func() time.Time
}

func NewThrottle(send func([]byte)) *Throttle {
	return &Throttle{
		send:     send,
		lastSent: map[string]time.Time{},
		pending:  map[string][]byte{},
		now:      time.Now,
	}
}

// Offer queues one intent. Outside the type's window it goes out
// immediately; inside, it replaces any intent of the same type still
// waiting for the window to end.
func (t *Throttle) Offer(intentType string, frame []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	now := t.now()

	if _, held := t.pending[intentType]; held {
		t.pending[intentType] = frame
		return
	}
	// Send straight through only when nothing is queued ahead;
	// otherwise a fresh type would overtake a held one.
	if len(t.order) == 0 && now.Sub(t.lastSent[intentType]) >= throttleWindow {
		t.lastSent[intentType] = now
		t.send(frame)
		return
	}
	t.pending[intentType] = frame
	t.order = append(t.order, intentType)
	t.scheduleLocked(now)
}

// scheduleLocked arms the timer for the earliest held intent.
func (t *Throttle) scheduleLocked(now time.Time) {
	if t.timer != nil || len(t.order) == 0 {
		return
	}
	due := t.lastSent[t.order[0]].Add(throttleWindow)
	t.timer = time.AfterFunc(due.Sub(now), t.fire)
}

func (t *Throttle) fire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer = nil
	if t.closed {
		return
	}
	now := t.now()
	// Flush in arrival order, stopping at the first type whose window
	// has not ended so nothing overtakes it.
	for len(t.order) > 0 {
		it := t.order[0]
		if now.Sub(t.lastSent[it]) < throttleWindow {
			break
		}
		frame := t.pending[it]
		delete(t.pending, it)
		t.order = t.order[1:]
		t.lastSent[it] = now
		t.send(frame)
	}
	t.scheduleLocked(now)
}

// Close drops held intents and stops the timer.
func (t *Throttle) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = map[string][]byte{}
	t.order = nil
}
