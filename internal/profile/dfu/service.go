package dfu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattc/internal/gatt"
)

// State is the position of a transfer in the DFU sequence.
type State int

const (
	StateIdle State = iota
	StateStartDFU
	StateInitTransfer
	StateImageTransfer
	StateValidate
	StateActivate
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStartDFU:
		return "start"
	case StateInitTransfer:
		return "init-transfer"
	case StateImageTransfer:
		return "image-transfer"
	case StateValidate:
		return "validate"
	case StateActivate:
		return "activate"
	default:
		return "unknown"
	}
}

// ErrOutOfOrder is returned when a step is attempted from the wrong state,
// including any step after a failure that was not followed by Reset.
var ErrOutOfOrder = errors.New("dfu step out of order")

// ProgressFunc reports transfer progress. Stage is the state being run.
type ProgressFunc func(stage State, sent, total int)

// Options tune a DFU session.
type Options struct {
	ChunkSize       int           `default:"20"`
	ResponseTimeout time.Duration `default:"15s"`
	Progress        ProgressFunc
}

// Service is the Nordic DFU Service. It holds the state of one transfer.
type Service struct {
	*gatt.BLEService

	// mu guards the fields below. It is not held while a step talks to the
	// target; busy marks a step in flight and gen changes on every Reset.
	mu     sync.Mutex
	opts   Options
	state  State
	failed bool
	busy   bool
	gen    uint64
	sizes  [3]uint32
}

func newService(base *gatt.BLEService) gatt.Service {
	s := &Service{BLEService: base}
	defaults.SetDefaults(&s.opts)
	return s
}

// Configure replaces the session options. Zero fields take defaults.
func (s *Service) Configure(opts Options) {
	defaults.SetDefaults(&opts)
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
}

// State returns the current step and whether the last step failed.
func (s *Service) State() (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.failed
}

// ImageSizes returns the sizes announced by the last StartDFU.
func (s *Service) ImageSizes() (softDevice, bootloader, application uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizes[0], s.sizes[1], s.sizes[2]
}

func (s *Service) ControlPoint() (*ControlPoint, error) {
	return gatt.CharacteristicAs[*ControlPoint](s, ControlPointUUID.String())
}

func (s *Service) Packet() (*Packet, error) {
	return gatt.CharacteristicAs[*Packet](s, PacketUUID.String())
}

func (s *Service) Version() (*VersionCharacteristic, error) {
	return gatt.CharacteristicAs[*VersionCharacteristic](s, VersionUUID.String())
}

func (s *Service) log() *logrus.Entry {
	return s.Logger().WithField("service", s.UUID().Short())
}

// step runs fn when the session is in one of from, then moves to to. A
// failing fn leaves the state where it was and marks the session failed.
// Only one step runs at a time; a step overtaken by Reset commits nothing.
func (s *Service) step(to State, fn func(cp *ControlPoint, pk *Packet, opts Options) error, from ...State) error {
	gen, opts, err := s.begin(to, from...)
	if err != nil {
		return err
	}

	err = s.runStep(to, fn, opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if gen != s.gen {
		return err
	}
	if err != nil {
		s.failed = true
		return err
	}
	s.state = to
	return nil
}

// begin checks that to may follow the current state and marks the session
// busy.
func (s *Service) begin(to State, from ...State) (uint64, Options, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return 0, Options{}, fmt.Errorf("%w: %s while another step is running", ErrOutOfOrder, to)
	}
	if s.failed {
		return 0, Options{}, fmt.Errorf("%w: %s after a failed step, reset first", ErrOutOfOrder, to)
	}
	allowed := false
	for _, f := range from {
		if s.state == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return 0, Options{}, fmt.Errorf("%w: %s from %s", ErrOutOfOrder, to, s.state)
	}
	s.busy = true
	return s.gen, s.opts, nil
}

func (s *Service) runStep(to State, fn func(cp *ControlPoint, pk *Packet, opts Options) error, opts Options) error {
	cp, err := s.ControlPoint()
	if err != nil {
		return err
	}
	pk, err := s.Packet()
	if err != nil {
		return err
	}

	log := s.log().WithField("step", to)
	log.Debug("DFU step started")
	if err := fn(cp, pk, opts); err != nil {
		log.WithError(err).Error("DFU step failed")
		return err
	}
	log.Info("DFU step complete")
	return nil
}

// StartNone starts a session without an image.
func (s *Service) StartNone() error {
	return s.start(ImageNone, [3]uint32{})
}

func (s *Service) StartSoftDevice(size uint32) error {
	return s.start(ImageSoftDevice, [3]uint32{size, 0, 0})
}

func (s *Service) StartBootloader(size uint32) error {
	return s.start(ImageBootloader, [3]uint32{0, size, 0})
}

func (s *Service) StartApplication(size uint32) error {
	return s.start(ImageApplication, [3]uint32{0, 0, size})
}

func (s *Service) start(t ImageType, sizes [3]uint32) error {
	return s.step(StateStartDFU, func(cp *ControlPoint, pk *Packet, opts Options) error {
		if err := cp.Resubscribe(); err != nil {
			return err
		}
		if err := cp.Command(OpStartDFU, byte(t)); err != nil {
			return err
		}
		if err := pk.WriteImageSizes(sizes[0], sizes[1], sizes[2]); err != nil {
			return err
		}
		if err := cp.AwaitResponse(OpStartDFU, opts.ResponseTimeout); err != nil {
			return err
		}
		s.mu.Lock()
		s.sizes = sizes
		s.mu.Unlock()
		return nil
	}, StateIdle)
}

// InitTransfer sends the init packet.
func (s *Service) InitTransfer(init []byte) error {
	return s.step(StateInitTransfer, func(cp *ControlPoint, pk *Packet, opts Options) error {
		if err := cp.SetNotifying(true); err != nil {
			return err
		}
		if err := cp.Command(OpInitDFUParams, InitPacketReceive); err != nil {
			return err
		}
		if err := pk.WriteChunked(init, opts.ChunkSize, s.progress(opts, StateInitTransfer)); err != nil {
			return err
		}
		if err := cp.Command(OpInitDFUParams, InitPacketComplete); err != nil {
			return err
		}
		return cp.AwaitResponse(OpInitDFUParams, opts.ResponseTimeout)
	}, StateStartDFU)
}

// ImageTransfer streams the firmware image. Bootloaders that take no init
// packet accept it straight after StartDFU.
func (s *Service) ImageTransfer(image []byte) error {
	return s.step(StateImageTransfer, func(cp *ControlPoint, pk *Packet, opts Options) error {
		if err := cp.SetNotifying(true); err != nil {
			return err
		}
		if err := cp.Command(OpReceiveFirmwareImage); err != nil {
			return err
		}
		if err := pk.WriteChunked(image, opts.ChunkSize, s.progress(opts, StateImageTransfer)); err != nil {
			return err
		}
		return cp.AwaitResponse(OpReceiveFirmwareImage, opts.ResponseTimeout)
	}, StateStartDFU, StateInitTransfer)
}

// Validate asks the bootloader to check the received image.
func (s *Service) Validate() error {
	return s.step(StateValidate, func(cp *ControlPoint, _ *Packet, opts Options) error {
		if err := cp.SetNotifying(true); err != nil {
			return err
		}
		if err := cp.Command(OpValidateFirmware); err != nil {
			return err
		}
		return cp.AwaitResponse(OpValidateFirmware, opts.ResponseTimeout)
	}, StateImageTransfer)
}

// Activate tells the bootloader to boot the new image. The bootloader
// usually resets before acknowledging, so transport errors are logged and
// dropped. The session returns to idle.
func (s *Service) Activate() error {
	err := s.step(StateActivate, func(cp *ControlPoint, _ *Packet, _ Options) error {
		if err := cp.Command(OpActivateImage); err != nil {
			if !gatt.IsTransportError(err) {
				return err
			}
			s.log().WithError(err).Warn("Activate not acknowledged, assuming the target reset")
		}
		return nil
	}, StateValidate)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateIdle
	s.sizes = [3]uint32{}
	s.mu.Unlock()
	return nil
}

// Reset asks the target to reboot and clears the session. Every failure is
// dropped since the target may already be gone.
func (s *Service) Reset() {
	s.mu.Lock()
	s.state = StateIdle
	s.failed = false
	s.sizes = [3]uint32{}
	s.gen++
	s.mu.Unlock()

	cp, err := s.ControlPoint()
	if err == nil {
		if n := cp.DrainNotifications(); n > 0 {
			s.log().WithField("dropped", n).Debug("Stale DFU responses dropped")
		}
		err = cp.Command(OpResetSystem)
	}
	if err != nil {
		s.log().WithError(err).Warn("Reset not delivered")
		return
	}
	s.log().Info("Reset sent")
}

// QuickStart writes StartDFU without waiting for anything. Used to kick an
// application into its bootloader; every error is dropped.
func (s *Service) QuickStart(t ImageType) {
	cp, err := s.ControlPoint()
	if err != nil {
		s.log().WithError(err).Warn("Quick start skipped")
		return
	}
	if err := cp.SetNotifying(true); err != nil {
		s.log().WithError(err).Debug("Quick start subscribe failed")
	}
	if err := cp.Command(OpStartDFU, byte(t)); err != nil {
		s.log().WithError(err).Debug("Quick start write not acknowledged")
	}
}

// Update runs the full sequence for an archive.
func (s *Service) Update(a *Archive) error {
	size := uint32(len(a.Image))
	var err error
	switch a.Type {
	case ImageSoftDevice:
		err = s.StartSoftDevice(size)
	case ImageBootloader:
		err = s.StartBootloader(size)
	default:
		err = s.StartApplication(size)
	}
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if len(a.Init) > 0 {
		if err := s.InitTransfer(a.Init); err != nil {
			return fmt.Errorf("init packet: %w", err)
		}
	}
	if err := s.ImageTransfer(a.Image); err != nil {
		return fmt.Errorf("image: %w", err)
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if err := s.Activate(); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	s.log().WithField("bytes", size).Info("Firmware update complete")
	return nil
}

func (s *Service) progress(opts Options, stage State) func(sent, total int) {
	if opts.Progress == nil {
		return nil
	}
	return func(sent, total int) { opts.Progress(stage, sent, total) }
}
