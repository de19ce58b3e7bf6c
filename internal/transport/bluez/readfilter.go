package bluez

import (
	"bytes"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// EchoWindow is how long after a ReadValue reply a matching Value change is
// still taken for the read's echo rather than a notification.
const EchoWindow = time.Second

// ReadFilter tells read echoes from notifications. BlueZ updates the Value
// property after every ReadValue, and that change arrives as the same
// PropertiesChanged signal a notification does.
type ReadFilter struct {
	mu    sync.Mutex
	reads map[dbus.ObjectPath]*pendingRead
}

type pendingRead struct {
	inflight int
	echo     []byte
	until    time.Time
}

func NewReadFilter() *ReadFilter {
	return &ReadFilter{reads: make(map[dbus.ObjectPath]*pendingRead)}
}

// Begin marks a ReadValue on path as in flight.
func (f *ReadFilter) Begin(path dbus.ObjectPath) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reads[path]
	if !ok {
		r = &pendingRead{}
		f.reads[path] = r
	}
	r.inflight++
}

// End closes a read started with Begin. A successful read leaves its result
// as the expected echo until now+EchoWindow.
func (f *ReadFilter) End(path dbus.ObjectPath, data []byte, ok bool, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, found := f.reads[path]
	if !found {
		return
	}
	if r.inflight > 0 {
		r.inflight--
	}
	if ok {
		r.echo = append([]byte(nil), data...)
		r.until = now.Add(EchoWindow)
	}
	if r.inflight == 0 && r.echo == nil {
		delete(f.reads, path)
	}
}

// Suppress reports whether a Value change on path belongs to a read: one is
// in flight, or the value matches the last read result inside the window.
// A matched echo is consumed.
func (f *ReadFilter) Suppress(path dbus.ObjectPath, value []byte, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reads[path]
	if !ok {
		return false
	}
	if r.inflight > 0 {
		return true
	}
	match := r.echo != nil && now.Before(r.until) && bytes.Equal(r.echo, value)
	delete(f.reads, path)
	return match
}
