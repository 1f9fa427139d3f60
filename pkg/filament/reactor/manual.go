package reactor

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Manual is a deterministic Reactor for tests and single-threaded
// embedding: readiness is fired explicitly by the driver and time advances
// only through the fake clock. It never spawns goroutines of its own when
// built over a fake clock, keeping the cooperative single-thread model
// intact.
type Manual struct {
	clock   clockwork.Clock
	reads   map[Socket]func()
	writes  map[Socket]func()
	accepts map[Listener]func()
}

// registration is the Handle implementation: enough to find and remove the
// entry it created.
type registration struct {
	r    *Manual
	kind uint8 // 0 read, 1 write, 2 accept
	sock Socket
	lis  Listener
}

// NewManual returns a Manual reactor over a fake clock starting at the
// fake clock epoch. Use Advance to run timers.
func NewManual() *Manual {
	return NewManualWithClock(clockwork.NewFakeClock())
}

// NewManualWithClock returns a Manual reactor over the given clock.
func NewManualWithClock(clock clockwork.Clock) *Manual {
	return &Manual{
		clock:   clock,
		reads:   make(map[Socket]func()),
		writes:  make(map[Socket]func()),
		accepts: make(map[Listener]func()),
	}
}

// RegisterRead implements Reactor.
func (m *Manual) RegisterRead(s Socket, fn func()) (Handle, error) {
	m.reads[s] = fn
	return &registration{r: m, kind: 0, sock: s}, nil
}

// RegisterWrite implements Reactor.
func (m *Manual) RegisterWrite(s Socket, fn func()) (Handle, error) {
	m.writes[s] = fn
	return &registration{r: m, kind: 1, sock: s}, nil
}

// RegisterAccept implements Reactor.
func (m *Manual) RegisterAccept(l Listener, fn func()) (Handle, error) {
	m.accepts[l] = fn
	return &registration{r: m, kind: 2, lis: l}, nil
}

// Unregister implements Reactor.
func (m *Manual) Unregister(h Handle) {
	reg, ok := h.(*registration)
	if !ok || reg.r != m {
		return
	}
	switch reg.kind {
	case 0:
		delete(m.reads, reg.sock)
	case 1:
		delete(m.writes, reg.sock)
	case 2:
		delete(m.accepts, reg.lis)
	}
}

// ScheduleTimer implements Reactor over the clock's AfterFunc.
func (m *Manual) ScheduleTimer(d time.Duration, fn func()) TimerHandle {
	return m.clock.AfterFunc(d, fn)
}

// CancelTimer implements Reactor.
func (m *Manual) CancelTimer(h TimerHandle) {
	if t, ok := h.(clockwork.Timer); ok {
		t.Stop()
	}
}

// Now implements Reactor.
func (m *Manual) Now() time.Time {
	return m.clock.Now()
}

// FireRead invokes the read callback registered for s, if any.
func (m *Manual) FireRead(s Socket) bool {
	fn, ok := m.reads[s]
	if ok {
		fn()
	}
	return ok
}

// FireWrite invokes the write callback registered for s, if any.
func (m *Manual) FireWrite(s Socket) bool {
	fn, ok := m.writes[s]
	if ok {
		fn()
	}
	return ok
}

// FireAccept invokes the accept callback registered for l, if any.
func (m *Manual) FireAccept(l Listener) bool {
	fn, ok := m.accepts[l]
	if ok {
		fn()
	}
	return ok
}

// ReadArmed reports whether a read callback is registered for s.
func (m *Manual) ReadArmed(s Socket) bool {
	_, ok := m.reads[s]
	return ok
}

// WriteArmed reports whether a write callback is registered for s.
// Drivers assert the invariant that write interest is armed exactly while
// the owning write stream is non-empty.
func (m *Manual) WriteArmed(s Socket) bool {
	_, ok := m.writes[s]
	return ok
}

// Advance moves the fake clock forward, firing due timers. It panics when
// the underlying clock is a real one.
func (m *Manual) Advance(d time.Duration) {
	fc, ok := m.clock.(*clockwork.FakeClock)
	if !ok {
		panic("reactor: Advance requires a fake clock")
	}
	fc.Advance(d)
}
