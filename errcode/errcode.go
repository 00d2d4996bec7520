package errcode

import "errors"

// Code is a stable, wire-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK          Code = "ok"
	Unsupported Code = "unsupported"
	Timeout     Code = "timeout"

	// Hardware
	UnknownPin       Code = "unknown_pin"
	PinInUse         Code = "pin_in_use"
	PinReserved      Code = "pin_reserved"
	PinConflict      Code = "pin_conflict"
	DriverInitFailed Code = "driver_init_failed"
	BusError         Code = "bus_error"

	// Resource
	CapacityExhausted Code = "capacity_exhausted"
	InvalidRecord     Code = "invalid_record"
	PersistFailed     Code = "persist_failed"
	NotFound          Code = "not_found"

	// Protocol
	InvalidPayload Code = "invalid_payload"
	MissingField   Code = "missing_field"
	InvalidField   Code = "invalid_field"
	OutOfRange     Code = "out_of_range"
	UnknownType    Code = "unknown_type"
	InvalidTopic   Code = "invalid_topic"
	UnknownCommand Code = "unknown_command"

	// Safety
	EmergencyActive Code = "emergency_active"
	AutoShutoff     Code = "auto_shutoff"

	// Link
	LinkDown    Code = "link_down"
	BreakerOpen Code = "breaker_open"

	Error Code = "error" // generic fallback
)

// Category groups codes for propagation policy and reporting.
type Category string

const (
	CatNone     Category = ""
	CatHardware Category = "hardware"
	CatResource Category = "resource"
	CatProtocol Category = "protocol"
	CatSafety   Category = "safety"
	CatLink     Category = "link"
)

var categories = map[Code]Category{
	UnknownPin:        CatHardware,
	PinInUse:          CatHardware,
	PinReserved:       CatHardware,
	PinConflict:       CatHardware,
	DriverInitFailed:  CatHardware,
	BusError:          CatHardware,
	Unsupported:       CatHardware,
	CapacityExhausted: CatResource,
	InvalidRecord:     CatResource,
	PersistFailed:     CatResource,
	NotFound:          CatResource,
	InvalidPayload:    CatProtocol,
	MissingField:      CatProtocol,
	InvalidField:      CatProtocol,
	OutOfRange:        CatProtocol,
	UnknownType:       CatProtocol,
	InvalidTopic:      CatProtocol,
	UnknownCommand:    CatProtocol,
	EmergencyActive:   CatSafety,
	AutoShutoff:       CatSafety,
	LinkDown:          CatLink,
	BreakerOpen:       CatLink,
	Timeout:           CatLink,
}

func (c Code) Category() Category { return categories[c] }

// E wraps a code with context and an optional cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// New returns an *E for op with a detail message.
func New(c Code, op, msg string) error { return &E{C: c, Op: op, Msg: msg} }

// Wrap returns an *E carrying cause. A nil cause yields nil.
func Wrap(c Code, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: cause}
}

// Of extracts a Code from an error chain, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Error
}

// Detail returns the human-readable part of err without the leading code.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var e *E
	if errors.As(err, &e) {
		switch {
		case e.Msg != "" && e.Err != nil:
			return e.Msg + ": " + e.Err.Error()
		case e.Msg != "":
			return e.Msg
		case e.Err != nil:
			return e.Err.Error()
		}
		return string(e.C)
	}
	return err.Error()
}
