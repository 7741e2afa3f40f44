package typing

import (
	"sync"
	"testing"
	"time"
)

type emitRecorder struct {
	mu    sync.Mutex
	edges []bool
}

func (r *emitRecorder) emit(v bool) {
	r.mu.Lock()
	r.edges = append(r.edges, v)
	r.mu.Unlock()
}

func (r *emitRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.edges))
	copy(out, r.edges)
	return out
}

func TestLocalTypingCoalescesEdges(t *testing.T) {
	rec := &emitRecorder{}
	c := New(40*time.Millisecond, time.Second, rec.emit, nil)
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.LocalTyping()
		time.Sleep(10 * time.Millisecond)
	}
	// Набор продолжается — false ещё не должен уйти.
	if got := rec.snapshot(); len(got) != 1 || got[0] != true {
		t.Fatalf("ожидали единственный фронт true, получили %v", got)
	}

	time.Sleep(80 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 2 || got[1] != false {
		t.Fatalf("ожидали завершающий false после простоя, получили %v", got)
	}
}

func TestLocalStoppedEmitsImmediately(t *testing.T) {
	rec := &emitRecorder{}
	c := New(time.Minute, time.Second, rec.emit, nil)
	defer c.Close()

	c.LocalTyping()
	c.LocalStopped()
	c.LocalStopped()

	if got := rec.snapshot(); len(got) != 2 || got[0] != true || got[1] != false {
		t.Fatalf("ожидали [true false], получили %v", got)
	}
}

func TestRemoteTypingAutoExpires(t *testing.T) {
	c := New(time.Second, 50*time.Millisecond, nil, nil)
	defer c.Close()

	c.RemoteTyping("u1", true)
	if users := c.TypingUsers(); len(users) != 1 || users[0] != "u1" {
		t.Fatalf("ожидали индикатор u1, получили %v", users)
	}

	// Событие "перестал печатать" не приходит — индикатор гаснет сам.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if len(c.TypingUsers()) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("индикатор не погас в пределах окна авто-скрытия")
}

func TestRemoteTypingResetsExpiry(t *testing.T) {
	c := New(time.Second, 60*time.Millisecond, nil, nil)
	defer c.Close()

	c.RemoteTyping("u1", true)
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		c.RemoteTyping("u1", true)
	}
	// Каждое событие продлевает окно — индикатор всё ещё виден.
	if len(c.TypingUsers()) != 1 {
		t.Fatalf("повторное typing=true должно продлевать индикатор")
	}
}

func TestRemoteTypingFalseHidesImmediately(t *testing.T) {
	var mu sync.Mutex
	var last []string
	c := New(time.Second, time.Minute, nil, func(users []string) {
		mu.Lock()
		last = users
		mu.Unlock()
	})
	defer c.Close()

	c.RemoteTyping("u1", true)
	c.RemoteTyping("u2", true)
	c.RemoteTyping("u1", false)

	mu.Lock()
	defer mu.Unlock()
	if len(last) != 1 || last[0] != "u2" {
		t.Fatalf("ожидали только u2, получили %v", last)
	}
}

func TestCloseStopsTimers(t *testing.T) {
	rec := &emitRecorder{}
	c := New(30*time.Millisecond, 30*time.Millisecond, rec.emit, nil)

	c.LocalTyping()
	c.RemoteTyping("u1", true)
	c.Close()

	time.Sleep(80 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("после Close не должно быть новых событий: %v", got)
	}
	if len(c.TypingUsers()) != 0 {
		t.Fatalf("после Close индикаторов не остаётся")
	}
}
