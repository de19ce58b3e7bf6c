package testutils

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"

	"github.com/srg/gattc/internal/gatt"
)

// WriteRecord is one write observed by a FakePeripheral.
type WriteRecord struct {
	UUID         gatt.UUID
	Handle       gatt.Handle
	Data         []byte
	WithResponse bool
}

// WriteHook runs after a write is recorded. Returning an error fails the write.
// Hooks may call Notify to answer on a control point.
type WriteHook func(p *FakePeripheral, data []byte, withResponse bool) error

type fakeChar struct {
	info    gatt.CharacteristicInfo
	service gatt.UUID
	value   []byte
	hook    WriteHook
}

type subscription struct {
	cccd    []byte
	handler gatt.NotificationHandler
}

// FakePeripheral is an in-memory gatt.Transport. Every Connect returns a
// session over the same attribute table.
type FakePeripheral struct {
	services []gatt.ServiceInfo
	chars    map[gatt.UUID][]*fakeChar // service → characteristics in order
	byHandle map[gatt.Handle]*fakeChar

	// ConnectLatency delays the moment Connected reports true.
	ConnectLatency time.Duration
	// NeverConnects keeps Connected false forever.
	NeverConnects bool
	// ConnectErr fails Connect outright.
	ConnectErr error

	mu       sync.Mutex
	writes   []WriteRecord
	failures map[string]error
	session  *FakeSession
	connects int
	cccdOps  map[string]int // "subscribe/<uuid>" → count

	subs *hashmap.Map[gatt.Handle, subscription]
}

// FakeSession is the gatt.Session handed out by FakePeripheral.
type FakeSession struct {
	p       *FakePeripheral
	address string
	started time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// ----------------------------
// Transport
// ----------------------------

func (p *FakePeripheral) Connect(ctx context.Context, address string) (gatt.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	s := &FakeSession{
		p:       p,
		address: address,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	p.mu.Lock()
	p.session = s
	p.connects++
	p.mu.Unlock()
	return s, nil
}

// Connects counts successful Connect calls.
func (p *FakePeripheral) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

// ----------------------------
// Test controls
// ----------------------------

// FailOn makes every future op ("read", "write", "subscribe", "unsubscribe",
// "discover", "disconnect") on uuid fail with err. A zero uuid matches all.
func (p *FakePeripheral) FailOn(op string, uuid gatt.UUID, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[failureKey(op, uuid)] = err
}

func failureKey(op string, uuid gatt.UUID) string {
	return op + "/" + uuid.String()
}

func (p *FakePeripheral) failure(op string, uuid gatt.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failures[failureKey(op, uuid)]; ok {
		return err
	}
	return p.failures[failureKey(op, gatt.UUID{})]
}

// OnWrite installs a hook for writes to the characteristic uuid.
func (p *FakePeripheral) OnWrite(uuid string, hook WriteHook) {
	c := p.mustChar(uuid)
	p.mu.Lock()
	c.hook = hook
	p.mu.Unlock()
}

// SetValue replaces what reads of uuid return.
func (p *FakePeripheral) SetValue(uuid string, value []byte) {
	c := p.mustChar(uuid)
	p.mu.Lock()
	c.value = append([]byte(nil), value...)
	p.mu.Unlock()
}

// Notify pushes data to the subscriber of uuid, if any. Reports whether
// someone was subscribed.
func (p *FakePeripheral) Notify(uuid string, data []byte) bool {
	c := p.mustChar(uuid)
	sub, ok := p.subs.Get(c.info.Handle)
	if !ok {
		return false
	}
	sub.handler(c.info.Handle, data)
	return true
}

// CCCD returns the configuration value last written for uuid, all-zero when
// not subscribed.
func (p *FakePeripheral) CCCD(uuid string) []byte {
	c := p.mustChar(uuid)
	if sub, ok := p.subs.Get(c.info.Handle); ok {
		return sub.cccd
	}
	return gatt.CCCDDisable
}

// Writes returns writes to uuid in order. An empty uuid returns all writes.
func (p *FakePeripheral) Writes(uuid string) []WriteRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	if uuid == "" {
		return append([]WriteRecord(nil), p.writes...)
	}
	u := mustUUID(uuid)
	var out []WriteRecord
	for _, w := range p.writes {
		if w.UUID == u {
			out = append(out, w)
		}
	}
	return out
}

// Subscribes counts CCCD enables for uuid.
func (p *FakePeripheral) Subscribes(uuid string) int {
	return p.cccdCount("subscribe", mustUUID(uuid))
}

// Unsubscribes counts CCCD disables for uuid.
func (p *FakePeripheral) Unsubscribes(uuid string) int {
	return p.cccdCount("unsubscribe", mustUUID(uuid))
}

func (p *FakePeripheral) cccdCount(op string, u gatt.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cccdOps[failureKey(op, u)]
}

func (p *FakePeripheral) countCCCD(op string, u gatt.UUID) {
	p.mu.Lock()
	p.cccdOps[failureKey(op, u)]++
	p.mu.Unlock()
}

// ResetWrites forgets recorded writes.
func (p *FakePeripheral) ResetWrites() {
	p.mu.Lock()
	p.writes = nil
	p.mu.Unlock()
}

// DropLink simulates the peripheral going away.
func (p *FakePeripheral) DropLink() {
	p.mu.Lock()
	s := p.session
	p.mu.Unlock()
	if s != nil {
		s.close()
	}
}

func (p *FakePeripheral) mustChar(uuid string) *fakeChar {
	u := mustUUID(uuid)
	for _, chars := range p.chars {
		for _, c := range chars {
			if c.info.UUID == u {
				return c
			}
		}
	}
	panic(fmt.Sprintf("fake peripheral has no characteristic %s", uuid))
}

func mustUUID(s string) gatt.UUID {
	u, err := gatt.Canonicalize(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ----------------------------
// Session
// ----------------------------

var errLinkDown = errors.New("link down")

func (s *FakeSession) Address() string { return s.address }

func (s *FakeSession) Connected() bool {
	select {
	case <-s.done:
		return false
	default:
	}
	if s.p.NeverConnects {
		return false
	}
	return time.Since(s.started) >= s.p.ConnectLatency
}

func (s *FakeSession) Done() <-chan struct{} { return s.done }

func (s *FakeSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.p.subs.Range(func(h gatt.Handle, _ subscription) bool {
			s.p.subs.Del(h)
			return true
		})
	})
}

func (s *FakeSession) alive() error {
	select {
	case <-s.done:
		return errLinkDown
	default:
		return nil
	}
}

func (s *FakeSession) DiscoverServices(ctx context.Context) ([]gatt.ServiceInfo, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	if err := s.p.failure("discover", gatt.UUID{}); err != nil {
		return nil, err
	}
	return append([]gatt.ServiceInfo(nil), s.p.services...), nil
}

func (s *FakeSession) DiscoverCharacteristics(ctx context.Context, svc gatt.ServiceInfo) ([]gatt.CharacteristicInfo, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	if err := s.p.failure("discover", svc.UUID); err != nil {
		return nil, err
	}
	var out []gatt.CharacteristicInfo
	for _, c := range s.p.chars[svc.UUID] {
		out = append(out, c.info)
	}
	return out, nil
}

func (s *FakeSession) char(h gatt.Handle) (*fakeChar, error) {
	c, ok := s.p.byHandle[h]
	if !ok {
		return nil, fmt.Errorf("no attribute at handle 0x%04x", uint16(h))
	}
	return c, nil
}

func (s *FakeSession) Read(ctx context.Context, h gatt.Handle) ([]byte, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	c, err := s.char(h)
	if err != nil {
		return nil, err
	}
	if err := s.p.failure("read", c.info.UUID); err != nil {
		return nil, err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	return append([]byte(nil), c.value...), nil
}

func (s *FakeSession) Write(ctx context.Context, h gatt.Handle, data []byte, withResponse bool) error {
	if err := s.alive(); err != nil {
		return err
	}
	c, err := s.char(h)
	if err != nil {
		return err
	}
	if err := s.p.failure("write", c.info.UUID); err != nil {
		return err
	}

	payload := append([]byte(nil), data...)
	s.p.mu.Lock()
	s.p.writes = append(s.p.writes, WriteRecord{
		UUID:         c.info.UUID,
		Handle:       h,
		Data:         payload,
		WithResponse: withResponse,
	})
	c.value = payload
	hook := c.hook
	s.p.mu.Unlock()

	if hook != nil {
		return hook(s.p, payload, withResponse)
	}
	return nil
}

func (s *FakeSession) Subscribe(ctx context.Context, h gatt.Handle, cccd []byte, handler gatt.NotificationHandler) error {
	if err := s.alive(); err != nil {
		return err
	}
	c, err := s.char(h)
	if err != nil {
		return err
	}
	if err := s.p.failure("subscribe", c.info.UUID); err != nil {
		return err
	}
	s.p.subs.Set(h, subscription{cccd: append([]byte(nil), cccd...), handler: handler})
	s.p.countCCCD("subscribe", c.info.UUID)
	return nil
}

func (s *FakeSession) Unsubscribe(ctx context.Context, h gatt.Handle) error {
	if err := s.alive(); err != nil {
		return err
	}
	c, err := s.char(h)
	if err != nil {
		return err
	}
	if err := s.p.failure("unsubscribe", c.info.UUID); err != nil {
		return err
	}
	s.p.subs.Del(h)
	s.p.countCCCD("unsubscribe", c.info.UUID)
	return nil
}

func (s *FakeSession) Disconnect() error {
	err := s.p.failure("disconnect", gatt.UUID{})
	s.close()
	return err
}
