package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidIndex reports an index outside the computed slot range.
	ErrInvalidIndex = errors.New("storage: invalid index")
	// ErrBlockAbsent reports a valid slot that holds no block.
	ErrBlockAbsent = errors.New("storage: block absent")
	// ErrIntegrityFailure reports stored bytes that failed verification.
	ErrIntegrityFailure = errors.New("storage: integrity failure")

	ErrControlPlaneUninitialized = errors.New("storage: control plane uninitialized")
	ErrControlPlaneCorrupted     = errors.New("storage: control plane corrupted")
	ErrControlPlaneIncompatible  = errors.New("storage: control plane incompatible")

	// ErrChainConfigurationAlreadySet reports a second SetChainConfiguration.
	ErrChainConfigurationAlreadySet = errors.New("storage: chain configuration already set")

	// ErrInvalidConfiguration reports a backend constructed with an unusable
	// geometry. It is returned before any medium access.
	ErrInvalidConfiguration = errors.New("storage: invalid configuration")

	// ErrBackendIO matches every *BackendIOError through errors.Is.
	ErrBackendIO = errors.New("storage: backend i/o")
)

// Backend-specific diagnostic codes carried by BackendIOError.
const (
	CodeOversizedBlock          uint16 = 1
	CodeSlotDecode              uint16 = 2
	CodeMemoryOutOfBounds       uint16 = 3
	CodeControlPlaneUnsupported uint16 = 4
	CodeInvalidBlock            uint16 = 5

	CodeFlashRead           uint16 = 210
	CodeFlashErase          uint16 = 211
	CodeFlashWrite          uint16 = 212
	CodeFlashReadOnRetrieve uint16 = 220

	CodeMockReadOutOfBounds  uint16 = 230
	CodeMockEraseInvalid     uint16 = 231
	CodeMockWriteOutOfBounds uint16 = 232

	CodeExamplePayload uint16 = 240
	CodeExampleBuild   uint16 = 241
)

// BackendIOError is a medium-level failure with an opaque diagnostic code.
type BackendIOError struct {
	Code uint16
	Err  error
}

// IOError returns a *BackendIOError with code wrapping err.
func IOError(code uint16, err error) error {
	return &BackendIOError{Code: code, Err: err}
}

func (e *BackendIOError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("storage: backend i/o (code=%d)", e.Code)
	}
	return fmt.Sprintf("storage: backend i/o (code=%d): %v", e.Code, e.Err)
}

func (e *BackendIOError) Unwrap() error {
	return e.Err
}

func (e *BackendIOError) Is(target error) bool {
	return target == ErrBackendIO
}

// IOCode extracts the BackendIOError code from err. ok is false when err
// carries no BackendIOError.
func IOCode(err error) (code uint16, ok bool) {
	var ioErr *BackendIOError
	if errors.As(err, &ioErr) {
		return ioErr.Code, true
	}
	return 0, false
}
