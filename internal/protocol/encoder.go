package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
)

// Encoder builds Variant byte sequences. Every value is written as
// little-endian 32-bit words; 64-bit payloads are two words, low word first.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder creates a new Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Reset clears the encoder for reuse.
func (e *Encoder) Reset() {
	e.buf.Reset()
}

// Bytes returns the encoded bytes.
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

// Len returns the current size of the encoded data.
func (e *Encoder) Len() int {
	return e.buf.Len()
}

// Marshal encodes a single value.
func Marshal(v any) ([]byte, error) {
	e := NewEncoder()
	if err := e.Encode(v); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// Encode appends the encoding of v.
func (e *Encoder) Encode(v any) error {
	switch val := v.(type) {
	case nil:
		e.writeHeader(TypeNull, 0)
	case bool:
		e.writeHeader(TypeBool, 0)
		if val {
			e.writeWord(1)
		} else {
			e.writeWord(0)
		}
	case int:
		e.writeInt(int64(val))
	case int8:
		e.writeInt(int64(val))
	case int16:
		e.writeInt(int64(val))
	case int32:
		e.writeInt(int64(val))
	case int64:
		e.writeInt(val)
	case uint8:
		e.writeInt(int64(val))
	case uint16:
		e.writeInt(int64(val))
	case uint32:
		e.writeInt(int64(val))
	case float32:
		e.writeFloat(float64(val))
	case float64:
		e.writeFloat(val)
	case string:
		e.writeHeader(TypeString, 0)
		e.writeString(val)
	case Vector2i:
		e.writeHeader(TypeVector2i, 0)
		e.writeWord(uint32(val.X))
		e.writeWord(uint32(val.Y))
	case []any:
		e.writeHeader(TypeList, 0)
		e.writeWord(uint32(len(val)) & countMask)
		for i, item := range val {
			if err := e.Encode(item); err != nil {
				return fmt.Errorf("list element %d: %w", i, err)
			}
		}
	case *Dictionary:
		e.writeHeader(TypeDictionary, 0)
		e.writeWord(uint32(val.Len()) & countMask)
		for _, entry := range val.Entries() {
			if err := e.Encode(entry.Key); err != nil {
				return fmt.Errorf("dictionary key: %w", err)
			}
			if err := e.Encode(entry.Value); err != nil {
				return fmt.Errorf("dictionary value for %v: %w", entry.Key, err)
			}
		}
	default:
		return e.encodeReflect(v)
	}
	return nil
}

// encodeReflect handles named integer types such as game enums.
func (e *Encoder) encodeReflect(v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.writeInt(rv.Int())
		return nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		e.writeInt(int64(rv.Uint()))
		return nil
	case reflect.String:
		e.writeHeader(TypeString, 0)
		e.writeString(rv.String())
		return nil
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

func (e *Encoder) writeHeader(t TypeCode, flags uint32) {
	e.writeWord(uint32(t) | flags)
}

func (e *Encoder) writeWord(w uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], w)
	e.buf.Write(b[:])
}

func (e *Encoder) writeDoubleWord(w uint64) {
	e.writeWord(uint32(w))
	e.writeWord(uint32(w >> 32))
}

// writeInt picks the 32-bit form whenever the value fits.
func (e *Encoder) writeInt(v int64) {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		e.writeHeader(TypeInt, 0)
		e.writeWord(uint32(int32(v)))
		return
	}
	e.writeHeader(TypeInt, headerFlag64)
	e.writeDoubleWord(uint64(v))
}

// writeFloat uses 32-bit storage only when it reproduces the exact bits.
func (e *Encoder) writeFloat(v float64) {
	narrow := float32(v)
	if math.Float64bits(float64(narrow)) == math.Float64bits(v) {
		e.writeHeader(TypeFloat, 0)
		e.writeWord(math.Float32bits(narrow))
		return
	}
	e.writeHeader(TypeFloat, headerFlag64)
	e.writeDoubleWord(math.Float64bits(v))
}

// writeString writes the padded length followed by the zero-padded bytes.
func (e *Encoder) writeString(s string) {
	padded := pad4(len(s))
	e.writeWord(uint32(padded))
	e.buf.WriteString(s)
	for i := len(s); i < padded; i++ {
		e.buf.WriteByte(0)
	}
}

func pad4(n int) int {
	return (n + 3) &^ 3
}

// String returns a hex dump of the encoded data for debugging.
func (e *Encoder) String() string {
	data := e.buf.Bytes()
	return fmt.Sprintf("Encoder[%d bytes]: %x", len(data), data)
}
