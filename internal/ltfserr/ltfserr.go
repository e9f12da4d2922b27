// Package ltfserr declares the error-kind taxonomy shared by every layer of
// the LTFS core engine: pathname validation, the index-criteria engine, the
// tape-drive contract, the partition/label layer, the index parser/writer,
// and the mount/commit coordinator.
//
// Most hard errors returned by the engine layers are (or wrap) an *Error with
// one of the Kinds below, so callers can branch on errors.As instead of string
// matching. The catalog, config and logging packages, and a few index codec
// paths, return plain errors instead.
package ltfserr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy from the LTFS core-engine design.
type Kind int

const (
	// Pathname / Unicode (§4.1)
	NullArg Kind = iota
	InvalidPath
	NameTooLong

	// Index-criteria engine (§4.3)
	PolicyInvalid
	PolicyEmptyRule
	PolicyImmutable

	// Index schema (§4.7, §4.8)
	UnsupportedIndexVersion
	LabelInvalid
	LabelMismatch
	IndexInvalid
	NotPartitioned
	SymlinkConflict

	// Tape-drive contract (§4.4)
	UnsupportedMedium
	UnsupportedFirmware
	DeviceBusy
	DeviceUnopenable
	NoMedium
	WriteProtect
	WriteError
	NoSpace
	LessSpace
	EarlyWarning     // soft
	ProgEarlyWarning // soft
	EodDetected
	EodMissing
	FilemarkDetected // soft
	CryptoError
	KeyRequired
	ReservationConflict
	ReservationPreempted
	RegistrationPreempted
	MediumMayBeChanged
	LengthMismatch
	Overrun
	Underrun // soft
	LbpReadError
	CleaningRequired     // soft
	ModeParameterRounded // soft
	Timeout
	InternalError
	NoMemory
)

var names = map[Kind]string{
	NullArg:                 "null_arg",
	InvalidPath:             "invalid_path",
	NameTooLong:             "name_too_long",
	PolicyInvalid:           "policy_invalid",
	PolicyEmptyRule:         "policy_empty_rule",
	PolicyImmutable:         "policy_immutable",
	UnsupportedIndexVersion: "unsupported_index_version",
	LabelInvalid:            "label_invalid",
	LabelMismatch:           "label_mismatch",
	IndexInvalid:            "index_invalid",
	NotPartitioned:          "not_partitioned",
	SymlinkConflict:         "symlink_conflict",
	UnsupportedMedium:       "unsupported_medium",
	UnsupportedFirmware:     "unsupported_firmware",
	DeviceBusy:              "device_busy",
	DeviceUnopenable:        "device_unopenable",
	NoMedium:                "no_medium",
	WriteProtect:            "write_protect",
	WriteError:              "write_error",
	NoSpace:                 "no_space",
	LessSpace:               "less_space",
	EarlyWarning:            "early_warning",
	ProgEarlyWarning:        "prog_early_warning",
	EodDetected:             "eod_detected",
	EodMissing:              "eod_missing",
	FilemarkDetected:        "filemark_detected",
	CryptoError:             "crypto_error",
	KeyRequired:             "key_required",
	ReservationConflict:     "reservation_conflict",
	ReservationPreempted:    "reservation_preempted",
	RegistrationPreempted:   "registration_preempted",
	MediumMayBeChanged:      "medium_may_be_changed",
	LengthMismatch:          "length_mismatch",
	Overrun:                 "overrun",
	Underrun:                "underrun",
	LbpReadError:            "lbp_read_error",
	CleaningRequired:        "cleaning_required",
	ModeParameterRounded:    "mode_parameter_rounded",
	Timeout:                 "timeout",
	InternalError:           "internal_error",
	NoMemory:                "no_memory",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return "unknown"
}

// softKinds are errors that spec.md §7 says are either consumed at their
// layer or attached to a Position rather than bubbled up as hard failures.
var softKinds = map[Kind]bool{
	EarlyWarning:         true,
	ProgEarlyWarning:     true,
	FilemarkDetected:     true,
	Underrun:             true,
	CleaningRequired:     true,
	ModeParameterRounded: true,
}

// Soft reports whether this Kind is a soft error per spec.md §7: it may be
// consumed silently, logged, or attached to a result rather than propagated
// as a hard failure.
func (k Kind) Soft() bool {
	return softKinds[k]
}

// Error is the concrete error type returned by this module's layers.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ltfserr.New(K, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an *Error of the given Kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given Kind that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Of returns the Kind of err if it is (or wraps) an *Error, and ok=true.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
