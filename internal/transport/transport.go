// Package transport picks the gatt.Transport named in the configuration.
package transport

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/transport/bluez"
	"github.com/srg/gattc/internal/transport/goble"
	"github.com/srg/gattc/pkg/config"
)

// New returns the transport cfg.Transport names, bound to cfg.Adapter.
func New(cfg *config.Config, logger *logrus.Logger) (gatt.Transport, error) {
	switch strings.ToLower(cfg.Transport) {
	case config.TransportGoBLE:
		return goble.New(cfg.Adapter, logger), nil
	case config.TransportBlueZ:
		return bluez.New(cfg.Adapter, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
