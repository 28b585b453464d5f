package exfatrecovery

import (
	"fmt"
)

// ErrorKind classifies the failures the core surfaces, per the error
// handling design: C1 surfaces Io/Invalid* directly, C9 fails validation
// with a descriptive reason, and the CLI entry maps every kind to an exit
// code and a single-line stderr message.
type ErrorKind int

const (
	ErrorKindIo ErrorKind = iota
	ErrorKindInvalidOffset
	ErrorKindInvalidSize
	ErrorKindFileNotFound
	ErrorKindInvalidArgument
	ErrorKindParse
	ErrorKindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindIo:
		return "Io"
	case ErrorKindInvalidOffset:
		return "InvalidOffset"
	case ErrorKindInvalidSize:
		return "InvalidSize"
	case ErrorKindFileNotFound:
		return "FileNotFound"
	case ErrorKindInvalidArgument:
		return "InvalidArgument"
	case ErrorKindParse:
		return "Parse"
	case ErrorKindConfig:
		return "Config"
	default:
		return "Unknown"
	}
}

// RecoveryError is the single error type the core returns. It carries a
// Kind so the CLI can map it to an exit code without string-sniffing.
type RecoveryError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *RecoveryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RecoveryError) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, message string) error {
	return &RecoveryError{Kind: kind, Message: message}
}

func wrapError(kind ErrorKind, message string, cause error) error {
	return &RecoveryError{Kind: kind, Message: message, Cause: cause}
}

// NewInvalidOffsetError builds the error C1 returns when offset >= size.
func NewInvalidOffsetError(offset, imageSize uint64) error {
	return newError(
		ErrorKindInvalidOffset,
		fmt.Sprintf("offset %d is out of bounds for image of size %d", offset, imageSize))
}

// NewInvalidSizeError builds the error C1 returns when offset+len overflows
// or exceeds the image size.
func NewInvalidSizeError(offset, length, imageSize uint64) error {
	return newError(
		ErrorKindInvalidSize,
		fmt.Sprintf("length %d at offset %d exceeds image of size %d", length, offset, imageSize))
}

// NewFileNotFoundError builds the error C1 returns when the image path does
// not exist.
func NewFileNotFoundError(path string) error {
	return newError(ErrorKindFileNotFound, fmt.Sprintf("image not found: %s", path))
}

// NewInvalidArgumentError builds a CLI/config argument-validation error.
func NewInvalidArgumentError(message string) error {
	return newError(ErrorKindInvalidArgument, message)
}

// NewConfigError builds a runtime/startup configuration error.
func NewConfigError(message string) error {
	return newError(ErrorKindConfig, message)
}

// NewParseError builds a checkpoint/report parse error.
func NewParseError(message string, cause error) error {
	return wrapError(ErrorKindParse, message, cause)
}

// NewIoError wraps a plain I/O failure with the Io kind.
func NewIoError(message string, cause error) error {
	return wrapError(ErrorKindIo, message, cause)
}

// ExitCode maps a RecoveryError's Kind to the CLI's documented exit codes:
// 0 success, 1 argument/config error, 2 I/O error on the image, 3 fatal
// internal error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	re, ok := err.(*RecoveryError)
	if !ok {
		return 3
	}

	switch re.Kind {
	case ErrorKindInvalidArgument, ErrorKindConfig:
		return 1
	case ErrorKindIo, ErrorKindInvalidOffset, ErrorKindInvalidSize, ErrorKindFileNotFound:
		return 2
	case ErrorKindParse:
		return 2
	default:
		return 3
	}
}
