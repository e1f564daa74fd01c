package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedLength is returned when a buffer is empty or not a multiple of 4 bytes.
	ErrMalformedLength = errors.New("protocol: malformed length")
	// ErrTruncatedData is returned when decoding runs past the end of the buffer.
	ErrTruncatedData = errors.New("protocol: truncated data")
	// ErrUnsupportedType is returned when encoding a Go value with no wire form.
	ErrUnsupportedType = errors.New("protocol: unsupported type")
	// ErrUnsupportedTypeCode matches every *UnsupportedTypeCodeError.
	ErrUnsupportedTypeCode = errors.New("protocol: unsupported type code")
	// ErrUnsupportedContainer is returned for typed containers declared by class or script.
	ErrUnsupportedContainer = errors.New("protocol: unsupported container type")
	// ErrNestingTooDeep is returned when containers nest beyond MaxNestingDepth.
	ErrNestingTooDeep = errors.New("protocol: nesting too deep")
	// ErrInvalidUTF8 is returned when a string payload is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("protocol: invalid utf-8 string")
)

// UnsupportedTypeCodeError reports an unknown header type code and the byte
// offset of the header word that carried it.
type UnsupportedTypeCodeError struct {
	Code   uint32
	Offset int
}

func (e *UnsupportedTypeCodeError) Error() string {
	return fmt.Sprintf("protocol: unsupported type code %d at offset %d", e.Code, e.Offset)
}

// Is lets errors.Is match ErrUnsupportedTypeCode.
func (e *UnsupportedTypeCodeError) Is(target error) bool {
	return target == ErrUnsupportedTypeCode
}
