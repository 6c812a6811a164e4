package client

import (
	"sync"
	"testing"
	"time"
)

type sendRecorder struct {
	mu     sync.Mutex
	frames []string
}

func (r *sendRecorder) send(b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, string(b))
}

func (r *sendRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

func TestThrottle_CoalescesToNewestPerType(t *testing.T) {
	rec := &sendRecorder{}
	th := NewThrottle(rec.send)
	defer th.Close()

	th.Offer("move", []byte("m1"))
	th.Offer("move", []byte("m2"))
	th.Offer("move", []byte("m3"))

	time.Sleep(3 * throttleWindow)
	got := rec.snapshot()
	want := []string{"m1", "m3"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("frames %v, want %v", got, want)
	}
}

func TestThrottle_FirstSendIsImmediate(t *testing.T) {
	rec := &sendRecorder{}
	th := NewThrottle(rec.send)
	defer th.Close()

	th.Offer("dig", []byte("d1"))
	if got := rec.snapshot(); len(got) != 1 || got[0] != "d1" {
		t.Fatalf("frames %v", got)
	}
}

func TestThrottle_CrossTypeOrderPreserved(t *testing.T) {
	rec := &sendRecorder{}
	th := NewThrottle(rec.send)
	defer th.Close()

	th.Offer("move", []byte("m1")) // immediate
	th.Offer("move", []byte("m2")) // held: move window open
	th.Offer("dig", []byte("d1"))  // must not overtake m2

	time.Sleep(3 * throttleWindow)
	got := rec.snapshot()
	want := []string{"m1", "m2", "d1"}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("frames %v, want %v", got, want)
	}
}

func TestThrottle_IndependentTypesFlowFreely(t *testing.T) {
	rec := &sendRecorder{}
	th := NewThrottle(rec.send)
	defer th.Close()

	th.Offer("move", []byte("m1"))
	th.Offer("dig", []byte("d1"))
	if got := rec.snapshot(); len(got) != 2 {
		t.Fatalf("independent types throttled each other: %v", got)
	}
}

func TestThrottle_SteadyStreamKeepsWindowRate(t *testing.T) {
	rec := &sendRecorder{}
	th := NewThrottle(rec.send)
	defer th.Close()

	deadline := time.Now().Add(4 * throttleWindow)
	for i := 0; time.Now().Before(deadline); i++ {
		th.Offer("move", []byte{byte('a' + i%26)})
		time.Sleep(time.Millisecond)
	}
	time.Sleep(2 * throttleWindow)

	// ~6 windows elapsed; anything near that is one send per window.
	if n := len(rec.snapshot()); n < 3 || n > 9 {
		t.Fatalf("sent %d frames over ~6 windows", n)
	}
}

func TestThrottle_CloseDropsPending(t *testing.T) {
	rec := &sendRecorder{}
	th := NewThrottle(rec.send)

	th.Offer("move", []byte("m1"))
	th.Offer("move", []byte("m2"))
	th.Close()

	time.Sleep(2 * throttleWindow)
	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("held frame escaped after Close: %v", got)
	}
}
