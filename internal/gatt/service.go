package gatt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Service is a named group of characteristics, resolved lazily on first
// access. Specialized services embed *BLEService.
type Service interface {
	UUID() UUID
	Handles() HandleRange
	Name() string
	Identifier() string
	String() string

	Characteristics() ([]Characteristic, error)
	Characteristic(key string) (Characteristic, error)

	base() *BLEService
}

// BLEService is the generic service.
type BLEService struct {
	info       ServiceInfo
	name       string
	identifier string
	session    Session
	opts       *Options
	logger     *logrus.Logger

	mu    sync.Mutex
	chars *orderedmap.OrderedMap[UUID, Characteristic] // nil until discovered
}

// NewService builds a generic service. Entry may be nil.
func NewService(info ServiceInfo, entry *Entry, session Session, opts *Options) *BLEService {
	if opts == nil {
		opts = DefaultOptions()
	}
	name, ident := info.UUID.Short(), "service_"+info.UUID.Short()
	if entry != nil {
		name, ident = entry.Name, entry.Identifier
	}
	return &BLEService{
		info:       info,
		name:       name,
		identifier: ident,
		session:    session,
		opts:       opts,
		logger:     opts.Logger,
	}
}

func (s *BLEService) UUID() UUID           { return s.info.UUID }
func (s *BLEService) Handles() HandleRange { return s.info.Handles }
func (s *BLEService) Name() string         { return s.name }
func (s *BLEService) Identifier() string   { return s.identifier }
func (s *BLEService) base() *BLEService    { return s }

// Logger returns the logger shared with the service's characteristics.
func (s *BLEService) Logger() *logrus.Logger { return s.logger }

func (s *BLEService) String() string {
	if strings.HasSuffix(s.name, "Service") {
		return s.name
	}
	return s.name + " Service"
}

// Characteristics discovers the service's characteristics on first call and
// returns them in discovery order.
func (s *BLEService) Characteristics() ([]Characteristic, error) {
	chars, err := s.resolve()
	if err != nil {
		return nil, err
	}
	out := make([]Characteristic, 0, chars.Len())
	for pair := chars.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out, nil
}

// Characteristic finds a characteristic by UUID (any spelling) or by
// registry identifier.
func (s *BLEService) Characteristic(key string) (Characteristic, error) {
	chars, err := s.resolve()
	if err != nil {
		return nil, err
	}

	if u, err := Canonicalize(key); err == nil {
		if c, ok := chars.Get(u); ok {
			return c, nil
		}
	}
	for pair := chars.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Identifier() == key {
			return pair.Value, nil
		}
	}
	return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{s.info.UUID.Short(), key}}
}

func (s *BLEService) resolve() (*orderedmap.OrderedMap[UUID, Characteristic], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chars != nil {
		return s.chars, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.OperationTimeout)
	defer cancel()

	infos, err := s.session.DiscoverCharacteristics(ctx, s.info)
	if err != nil {
		return nil, transportError("discover characteristics", err)
	}

	chars := orderedmap.New[UUID, Characteristic](orderedmap.WithCapacity[UUID, Characteristic](len(infos)))
	for _, info := range infos {
		c := s.newCharacteristic(info)
		if _, dup := chars.Set(info.UUID, c); dup {
			s.logger.WithFields(logrus.Fields{
				"service": s.info.UUID.Short(),
				"uuid":    info.UUID.Short(),
			}).Warn("Duplicate characteristic UUID in service, keeping the last one")
		}
	}
	s.chars = chars

	s.logger.WithFields(logrus.Fields{
		"service":         s.info.UUID.Short(),
		"characteristics": chars.Len(),
	}).Debug("Characteristics resolved")
	return chars, nil
}

func (s *BLEService) newCharacteristic(info CharacteristicInfo) Characteristic {
	entry, err := s.opts.Registry.Lookup(info.UUID)
	if err != nil {
		return NewCharacteristic(info, nil, s.session, s.opts)
	}
	base := NewCharacteristic(info, entry, s.session, s.opts)
	if entry.NewCharacteristic == nil {
		return base
	}
	return entry.NewCharacteristic(base)
}

// resolvedCharacteristics returns what has been discovered so far without
// triggering discovery.
func (s *BLEService) resolvedCharacteristics() []Characteristic {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chars == nil {
		return nil
	}
	out := make([]Characteristic, 0, s.chars.Len())
	for pair := s.chars.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// CharacteristicAs looks up key in s and asserts the specialized type.
func CharacteristicAs[T Characteristic](s Service, key string) (T, error) {
	var zero T
	c, err := s.Characteristic(key)
	if err != nil {
		return zero, err
	}
	t, ok := c.(T)
	if !ok {
		return zero, fmt.Errorf("%s is %T, not %T", c, c, zero)
	}
	return t, nil
}
