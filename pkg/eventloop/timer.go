package eventloop

import "time"

// Timer is a one-shot timer whose callback runs on its loop.
type Timer struct {
	loop  *Loop
	timer *time.Timer
}

// AfterFunc arms a timer that posts fn to the loop after d. An armed timer
// counts as outstanding work. It returns nil if the loop has exited.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	if !l.addWork() {
		return nil
	}
	t := &Timer{loop: l}
	t.timer = time.AfterFunc(d, func() {
		l.complete(fn)
	})
	return t
}

// Stop cancels the timer. It reports whether the callback was prevented from
// being posted. A callback that has already been posted still runs; callers
// that need to ignore it must track that themselves.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	if t.timer.Stop() {
		t.loop.complete(nil)
		return true
	}
	return false
}
