// Package profile wires every known GATT profile into a registry.
package profile

import (
	"errors"
	"fmt"
	"sync"

	"github.com/srg/gattc/internal/bledb"
	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/profile/battery"
	"github.com/srg/gattc/internal/profile/cyclingpower"
	"github.com/srg/gattc/internal/profile/dfu"
	"github.com/srg/gattc/internal/profile/heartrate"
)

var registrars = []func(*gatt.Registry) error{
	heartrate.Register,
	cyclingpower.Register,
	dfu.Register,
	battery.Register,
}

// Register seeds r with the assigned-number names and every profile type.
func Register(r *gatt.Registry) error {
	var errs []error
	for _, e := range bledb.Entries() {
		u, err := gatt.Canonicalize(e.UUID)
		if err != nil {
			errs = append(errs, fmt.Errorf("bledb %s: %w", e.UUID, err))
			continue
		}
		errs = append(errs, r.Register(gatt.Entry{UUID: u, Kind: kindOf(e.Kind), Name: e.Name}))
	}
	for _, register := range registrars {
		errs = append(errs, register(r))
	}
	return errors.Join(errs...)
}

func kindOf(k bledb.Kind) gatt.Kind {
	switch k {
	case bledb.KindService:
		return gatt.KindService
	case bledb.KindDescriptor:
		return gatt.KindDescriptor
	default:
		return gatt.KindCharacteristic
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *gatt.Registry
	defaultErr      error
)

// DefaultRegistry builds, validates and freezes the process-wide registry on
// first use.
func DefaultRegistry() (*gatt.Registry, error) {
	defaultOnce.Do(func() {
		r := gatt.NewRegistry()
		if err := Register(r); err != nil {
			defaultErr = err
			return
		}
		if err := r.Freeze(); err != nil {
			defaultErr = err
			return
		}
		defaultRegistry = r
	})
	return defaultRegistry, defaultErr
}
