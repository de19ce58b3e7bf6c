package gatt

import (
	"errors"
	"fmt"
)

// Procedure and capability errors. These are raised synchronously by the call
// that violates the characteristic's access contract.
var (
	ErrAccessDenied   = errors.New("access denied")
	ErrNotSupported   = errors.New("not supported")
	ErrNotifyTimeout  = errors.New("notify timeout")
	ErrConnectTimeout = errors.New("connect timeout")
	ErrDecode         = errors.New("decode error")
	ErrNotFound       = errors.New("not found")
)

// Control point response codes shared by the DFU and cycling power profiles.
// They surface only after a full request/response round trip.
var (
	ErrInvalidState          = errors.New("invalid state")
	ErrOperationNotSupported = errors.New("operation not supported")
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrDataSizeExceedsLimit  = errors.New("data size exceeds limit")
	ErrCRC                   = errors.New("crc error")
	ErrOperationFailed       = errors.New("operation failed")
	ErrUnknownResponse       = errors.New("unknown response")
)

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic", "registry entry"
	UUIDs    []string // One or more keys (e.g., [serviceKey] or [serviceKey, charKey])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// Is makes every NotFoundError match ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	Connecting       ConnectionState = "connecting"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrConnecting       = &ConnectionError{State: Connecting}
)

// TransportError wraps a failure reported by a Session. The underlying error
// is kept as-is and is reachable through errors.Unwrap.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func transportError(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// IsTransportError reports whether err originated at the transport boundary.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// DecodeError reports a malformed or inconsistent payload.
type DecodeError struct {
	Field string
	Msg   string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode: %s", e.Msg)
	}
	return fmt.Sprintf("decode %s: %s", e.Field, e.Msg)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// NewDecodeError builds a DecodeError for the given field.
func NewDecodeError(field, format string, args ...any) error {
	return &DecodeError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ResponseError is a non-success status returned in a control point response
// frame. Err is one of the response sentinels above.
type ResponseError struct {
	Procedure string
	Opcode    byte
	Status    byte
	Err       error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s opcode 0x%02x: %v (status 0x%02x)", e.Procedure, e.Opcode, e.Err, e.Status)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}
