package gatt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// Characteristic is one GATT characteristic. Specialized decoders embed
// *BLECharacteristic and override Value / SetValue.
type Characteristic interface {
	UUID() UUID
	Handle() Handle
	Flags() Flags
	Name() string
	Identifier() string
	String() string

	ReadProcedure() ReadProcedure
	SetReadProcedure(p ReadProcedure) error
	WriteProcedure() WriteProcedure
	SetWriteProcedure(p WriteProcedure) error

	Read() ([]byte, error)
	Write(data []byte) error
	Raw() ([]byte, error)
	SetRaw(data []byte) error
	Value() (any, error)
	SetValue(v any) error

	Notifying() bool
	SetNotifying(on bool) error
	NotifyTimeout() time.Duration
	SetNotifyTimeout(d time.Duration)
	LastRaw() []byte
	NotifyCount() uint64
	DrainNotifications() int

	base() *BLECharacteristic
}

// ----------------------------
// Generic characteristic
// ----------------------------

// BLECharacteristic is the generic characteristic: it tracks the read and
// write procedures, the notification subscription and the pending
// notification queue.
type BLECharacteristic struct {
	info       CharacteristicInfo
	name       string
	identifier string
	session    Session
	opTimeout  time.Duration
	logger     *logrus.Logger

	// mu guards procedures and subscription state.
	mu         sync.Mutex
	readProc   ReadProcedure
	writeProc  WriteProcedure
	subscribed bool
	mode       ReadProcedure // ReadNotify or ReadIndicate while subscribed

	notifyTimeout atomic.Int64

	// valueMu guards the queue, the last value and the counter. It is shared
	// by the transport callback and the read path.
	valueMu  sync.Mutex
	queue    mpmc.RingBuffer[[]byte]
	queueMax uint32
	lastRaw  []byte
	counter  uint64
	signal   chan struct{}
}

// NewCharacteristic builds a generic characteristic bound to session. Entry
// may be nil for UUIDs the registry does not know.
func NewCharacteristic(info CharacteristicInfo, entry *Entry, session Session, opts *Options) *BLECharacteristic {
	if opts == nil {
		opts = DefaultOptions()
	}
	name, ident := info.UUID.Short(), "char_"+info.UUID.Short()
	if entry != nil {
		name, ident = entry.Name, entry.Identifier
	}
	c := &BLECharacteristic{
		info:       info,
		name:       name,
		identifier: ident,
		session:    session,
		opTimeout:  opts.OperationTimeout,
		logger:     opts.Logger,
		readProc:   defaultReadProcedure(info.Flags),
		writeProc:  defaultWriteProcedure(info.Flags),
		signal:     make(chan struct{}, 1),
	}
	// The ring keeps one slot free, so it is sized one past the limit.
	c.queueMax = max(opts.NotifyQueueSize, 1)
	c.queue = mpmc.New[[]byte](c.queueMax + 1)
	c.notifyTimeout.Store(int64(opts.NotifyTimeout))
	return c
}

func (c *BLECharacteristic) UUID() UUID         { return c.info.UUID }
func (c *BLECharacteristic) Handle() Handle     { return c.info.Handle }
func (c *BLECharacteristic) Flags() Flags       { return c.info.Flags }
func (c *BLECharacteristic) Name() string       { return c.name }
func (c *BLECharacteristic) Identifier() string { return c.identifier }

func (c *BLECharacteristic) base() *BLECharacteristic { return c }

func (c *BLECharacteristic) String() string {
	if strings.HasSuffix(c.name, "Characteristic") {
		return c.name
	}
	return c.name + " Characteristic"
}

// Readable reports the read flag.
func (c *BLECharacteristic) Readable() bool { return c.info.Flags.Has(FlagRead) }

// Notifiable reports the notify flag.
func (c *BLECharacteristic) Notifiable() bool { return c.info.Flags.Has(FlagNotify) }

// Indicatable reports the indicate flag.
func (c *BLECharacteristic) Indicatable() bool { return c.info.Flags.Has(FlagIndicate) }

// Writable reports the write-without-response flag.
func (c *BLECharacteristic) Writable() bool { return c.info.Flags.Has(FlagWriteNoResponse) }

// WriteRequestable reports the write-with-response flag.
func (c *BLECharacteristic) WriteRequestable() bool { return c.info.Flags.Has(FlagWrite) }

// Logger returns the logger the characteristic was built with.
func (c *BLECharacteristic) Logger() *logrus.Logger { return c.logger }

func (c *BLECharacteristic) log() *logrus.Entry {
	return c.logger.WithFields(logrus.Fields{
		"uuid":   c.info.UUID.Short(),
		"handle": fmt.Sprintf("0x%04x", uint16(c.info.Handle)),
	})
}

func (c *BLECharacteristic) opContext() (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), c.opTimeout)
}

// ----------------------------
// Procedures
// ----------------------------

func (c *BLECharacteristic) ReadProcedure() ReadProcedure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readProc
}

func (c *BLECharacteristic) WriteProcedure() WriteProcedure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeProc
}

// SetReadProcedure switches how Raw obtains values. Notify and indicate arm
// the matching subscription first; nothing changes if that fails or if the
// flags do not allow p.
func (c *BLECharacteristic) SetReadProcedure(p ReadProcedure) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch p {
	case ReadDisallowed:
	case ReadRequest, ReadCommand:
		if !c.info.Flags.Has(FlagRead) {
			return fmt.Errorf("%w: read %s needs the read flag (flags %s)", ErrAccessDenied, p, c.info.Flags)
		}
	case ReadNotify:
		if !c.info.Flags.Has(FlagNotify) {
			return fmt.Errorf("%w: notify needs the notify flag (flags %s)", ErrAccessDenied, c.info.Flags)
		}
		if err := c.subscribeLocked(ReadNotify); err != nil {
			return err
		}
	case ReadIndicate:
		if !c.info.Flags.Has(FlagIndicate) {
			return fmt.Errorf("%w: indicate needs the indicate flag (flags %s)", ErrAccessDenied, c.info.Flags)
		}
		if err := c.subscribeLocked(ReadIndicate); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown read procedure %d", ErrAccessDenied, int(p))
	}

	c.readProc = p
	c.log().WithField("procedure", p).Debug("Read procedure set")
	return nil
}

// SetWriteProcedure switches how SetRaw writes. Request needs the write flag,
// command needs the write-without-response flag.
func (c *BLECharacteristic) SetWriteProcedure(p WriteProcedure) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch p {
	case WriteDisallowed:
	case WriteRequest:
		if !c.info.Flags.Has(FlagWrite) {
			return fmt.Errorf("%w: write request needs the write flag (flags %s)", ErrAccessDenied, c.info.Flags)
		}
	case WriteCommand:
		if !c.info.Flags.Has(FlagWriteNoResponse) {
			return fmt.Errorf("%w: write command needs the write-without-response flag (flags %s)", ErrAccessDenied, c.info.Flags)
		}
	default:
		return fmt.Errorf("%w: unknown write procedure %d", ErrAccessDenied, int(p))
	}

	c.writeProc = p
	c.log().WithField("procedure", p).Debug("Write procedure set")
	return nil
}

// ----------------------------
// Read / write
// ----------------------------

// Read issues a transport read. Only valid under the request and command
// read procedures.
func (c *BLECharacteristic) Read() ([]byte, error) {
	proc := c.ReadProcedure()
	if proc != ReadRequest && proc != ReadCommand {
		return nil, fmt.Errorf("%w: read under %s procedure", ErrAccessDenied, proc)
	}

	ctx, cancel := c.opContext()
	defer cancel()

	data, err := c.session.Read(ctx, c.info.Handle)
	if err != nil {
		return nil, transportError("read", err)
	}
	c.log().WithField("bytes", len(data)).Debug("Read")
	return data, nil
}

// Write sends data using the current write procedure. A request blocks for
// the peripheral's acknowledgement; a command does not.
func (c *BLECharacteristic) Write(data []byte) error {
	proc := c.WriteProcedure()
	if proc == WriteDisallowed {
		return fmt.Errorf("%w: write under %s procedure", ErrAccessDenied, proc)
	}

	ctx, cancel := c.opContext()
	defer cancel()

	if err := c.session.Write(ctx, c.info.Handle, data, proc == WriteRequest); err != nil {
		return transportError("write", err)
	}
	c.log().WithFields(logrus.Fields{
		"procedure": proc,
		"bytes":     len(data),
	}).Debug("Wrote")
	return nil
}

// Raw returns the next value: a transport read under request/command, or the
// next queued notification under notify/indicate.
func (c *BLECharacteristic) Raw() ([]byte, error) {
	switch proc := c.ReadProcedure(); proc {
	case ReadRequest, ReadCommand:
		return c.Read()
	case ReadNotify, ReadIndicate:
		return c.nextNotification()
	default:
		return nil, fmt.Errorf("%w: read under %s procedure", ErrAccessDenied, proc)
	}
}

// SetRaw writes data with the current write procedure.
func (c *BLECharacteristic) SetRaw(data []byte) error {
	return c.Write(data)
}

// isStringTyped reports whether the value is a NUL-terminated string.
func (c *BLECharacteristic) isStringTyped() bool {
	return strings.Contains(c.name, "String") || strings.Contains(c.name, "Name")
}

// Value returns the generic decoding: a string for string-typed
// characteristics, the raw bytes otherwise.
func (c *BLECharacteristic) Value() (any, error) {
	raw, err := c.Raw()
	if err != nil {
		return nil, err
	}
	if c.isStringTyped() {
		return string(bytes.TrimRight(raw, "\x00")), nil
	}
	return raw, nil
}

// SetValue accepts []byte or string. String-typed characteristics get a
// trailing NUL.
func (c *BLECharacteristic) SetValue(v any) error {
	var data []byte
	switch val := v.(type) {
	case []byte:
		data = append([]byte(nil), val...)
	case string:
		data = []byte(val)
	default:
		return fmt.Errorf("%s: unsupported value type %T", c, v)
	}
	if c.isStringTyped() {
		data = append(data, 0)
	}
	return c.SetRaw(data)
}

// ----------------------------
// Notifications
// ----------------------------

func (c *BLECharacteristic) Notifying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

// SetNotifying arms or disarms value pushes. Enabling prefers indications
// when the characteristic supports them and moves the read procedure to
// match. Disabling leaves the read procedure alone. Both directions are
// no-ops when already in the requested state.
func (c *BLECharacteristic) SetNotifying(on bool) error {
	if !c.info.Flags.Has(FlagNotify) && !c.info.Flags.Has(FlagIndicate) {
		return fmt.Errorf("%w: %s is neither notifiable nor indicatable", ErrNotSupported, c)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !on {
		return c.unsubscribeLocked()
	}
	if c.subscribed {
		return nil
	}

	mode := ReadNotify
	if c.info.Flags.Has(FlagIndicate) {
		mode = ReadIndicate
	}
	if err := c.subscribeLocked(mode); err != nil {
		return err
	}
	c.readProc = mode
	return nil
}

func (c *BLECharacteristic) subscribeLocked(mode ReadProcedure) error {
	if c.subscribed {
		if c.mode == mode {
			return nil
		}
		if err := c.unsubscribeLocked(); err != nil {
			return err
		}
	}

	cccd := CCCDNotify
	if mode == ReadIndicate {
		cccd = CCCDIndicate
	}

	ctx, cancel := c.opContext()
	defer cancel()

	if err := c.session.Subscribe(ctx, c.info.Handle, cccd, c.deliver); err != nil {
		return transportError("subscribe", err)
	}
	c.subscribed = true
	c.mode = mode
	c.log().WithField("procedure", mode).Debug("Notifications enabled")
	return nil
}

func (c *BLECharacteristic) unsubscribeLocked() error {
	if !c.subscribed {
		return nil
	}

	ctx, cancel := c.opContext()
	defer cancel()

	if err := c.session.Unsubscribe(ctx, c.info.Handle); err != nil {
		return transportError("unsubscribe", err)
	}
	c.subscribed = false
	c.log().Debug("Notifications disabled")
	return nil
}

// release forgets the subscription without talking to the peripheral. Used
// once the link is gone.
func (c *BLECharacteristic) release() {
	c.mu.Lock()
	c.subscribed = false
	c.mu.Unlock()
}

// deliver is the transport callback. It queues a private copy of data.
func (c *BLECharacteristic) deliver(_ Handle, data []byte) {
	payload := append([]byte(nil), data...)

	c.valueMu.Lock()
	dropped := 0
	for c.queue.Size() >= c.queueMax {
		if _, err := c.queue.Dequeue(); err != nil {
			break
		}
		dropped++
	}
	err := c.queue.Enqueue(payload)
	if errors.Is(err, mpmc.ErrQueueFull) {
		if _, derr := c.queue.Dequeue(); derr == nil {
			dropped++
		}
		err = c.queue.Enqueue(payload)
	}
	c.lastRaw = payload
	c.counter++
	c.valueMu.Unlock()

	if err != nil {
		c.log().WithError(err).Warn("Dropping notification")
	}
	if dropped > 0 {
		c.log().WithField("dropped", dropped).Warn("Notification queue full, oldest values dropped")
	}

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// Deliver injects a payload as if the transport had pushed it.
func (c *BLECharacteristic) Deliver(data []byte) {
	c.deliver(c.info.Handle, data)
}

// DrainNotifications discards every pending notification and returns how
// many were dropped. The last value is kept.
func (c *BLECharacteristic) DrainNotifications() int {
	c.valueMu.Lock()
	defer c.valueMu.Unlock()
	n := 0
	for !c.queue.IsEmpty() {
		if _, err := c.queue.Dequeue(); err != nil {
			break
		}
		n++
	}
	select {
	case <-c.signal:
	default:
	}
	return n
}

// dequeue pops the oldest notification. The returned counter is read under
// the same lock so a waiter can tell whether anything arrived since.
func (c *BLECharacteristic) dequeue() ([]byte, uint64, bool) {
	c.valueMu.Lock()
	defer c.valueMu.Unlock()
	if c.queue.IsEmpty() {
		return nil, c.counter, false
	}
	data, err := c.queue.Dequeue()
	if err != nil {
		return nil, c.counter, false
	}
	return data, c.counter, true
}

func (c *BLECharacteristic) currentCount() uint64 {
	c.valueMu.Lock()
	defer c.valueMu.Unlock()
	return c.counter
}

func (c *BLECharacteristic) nextNotification() ([]byte, error) {
	data, seen, ok := c.dequeue()
	if ok {
		return data, nil
	}

	timeout := c.NotifyTimeout()
	c.waitNotification(seen, timeout)

	if data, _, ok = c.dequeue(); ok {
		return data, nil
	}
	return nil, fmt.Errorf("%w: no value from %s within %s", ErrNotifyTimeout, c, timeout)
}

// waitNotification blocks until the counter moves past seen or timeout
// elapses.
func (c *BLECharacteristic) waitNotification(seen uint64, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-c.signal:
			if c.currentCount() != seen {
				return
			}
		case <-timer.C:
			return
		}
	}
}

func (c *BLECharacteristic) NotifyTimeout() time.Duration {
	return time.Duration(c.notifyTimeout.Load())
}

func (c *BLECharacteristic) SetNotifyTimeout(d time.Duration) {
	c.notifyTimeout.Store(int64(d))
}

// LastRaw returns the most recently delivered payload, or nil.
func (c *BLECharacteristic) LastRaw() []byte {
	c.valueMu.Lock()
	defer c.valueMu.Unlock()
	return c.lastRaw
}

// NotifyCount returns how many payloads have been delivered.
func (c *BLECharacteristic) NotifyCount() uint64 {
	return c.currentCount()
}
