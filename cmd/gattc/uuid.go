package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/gattc/internal/gatt"
)

// uuidCmd resolves UUIDs and names against the built-in registry
var uuidCmd = &cobra.Command{
	Use:   "uuid [uuid-or-name...]",
	Short: "Look up UUIDs and names",
	Long: `Resolves UUIDs (any spelling) and identifiers against the built-in table of
Bluetooth SIG assigned numbers and supported profiles. No device is needed.

Examples:
  gattc uuid 2a37
  gattc uuid heart_rate_measurement 0x180D
  gattc uuid --list --kind service`,
	RunE: runUUID,
}

var (
	uuidList bool
	uuidKind string
)

func init() {
	uuidCmd.Flags().BoolVar(&uuidList, "list", false, "List every registry entry")
	uuidCmd.Flags().StringVar(&uuidKind, "kind", "", "With --list: only service, characteristic or descriptor entries")
}

// uuidInfo is one resolved key.
type uuidInfo struct {
	UUID       string `json:"uuid"`
	Short      string `json:"short"`
	Name       string `json:"name,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Decoder    bool   `json:"decoder"`
}

func describe(r *gatt.Registry, u gatt.UUID) uuidInfo {
	info := uuidInfo{UUID: u.String(), Short: u.Short()}
	if e, err := r.Lookup(u); err == nil {
		info.Name = e.DisplayName()
		info.Identifier = e.Identifier
		info.Kind = strings.ToLower(e.Kind.String())
		info.Decoder = e.NewCharacteristic != nil || e.NewService != nil
	}
	return info
}

func (i uuidInfo) String() string {
	if i.Name == "" {
		return fmt.Sprintf("%s (unknown)", i.UUID)
	}
	s := fmt.Sprintf("%s  %s  %s", i.UUID, i.Identifier, i.Name)
	if i.Decoder {
		s += "  [decoded]"
	}
	return s
}

func runUUID(cmd *cobra.Command, args []string) error {
	if !uuidList && len(args) == 0 {
		return fmt.Errorf("give at least one UUID or name, or --list")
	}
	if uuidKind != "" && !uuidList {
		return fmt.Errorf("--kind requires --list")
	}

	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	if uuidList {
		for _, e := range env.registry.Entries() {
			if uuidKind != "" && !strings.EqualFold(e.Kind.String(), uuidKind) {
				continue
			}
			info := describe(env.registry, e.UUID)
			if err := env.out.Result(info.Short, info); err != nil {
				return err
			}
		}
		return nil
	}

	var errs []error
	for _, key := range args {
		u, err := env.registry.Resolve(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := env.out.Result(key, describe(env.registry, u)); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}
