package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// MaxNestingDepth bounds how deeply lists and dictionaries may nest in a
// decoded value.
const MaxNestingDepth = 256

// Decoder reads Variant values from a word-aligned buffer.
type Decoder struct {
	data  []byte
	pos   int
	depth int
}

// NewDecoder validates the buffer length and returns a Decoder positioned at
// the first header word.
func NewDecoder(data []byte) (*Decoder, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a positive multiple of 4", ErrMalformedLength, len(data))
	}
	return &Decoder{data: data}, nil
}

// Unmarshal decodes the first value in data. Bytes after it are ignored.
func Unmarshal(data []byte) (any, error) {
	d, err := NewDecoder(data)
	if err != nil {
		return nil, err
	}
	return d.Decode()
}

// Offset returns the current read position in bytes.
func (d *Decoder) Offset() int {
	return d.pos
}

// Decode reads the next value.
func (d *Decoder) Decode() (any, error) {
	headerAt := d.pos
	header, err := d.readWord()
	if err != nil {
		return nil, err
	}

	switch TypeCode(header & headerTypeMask) {
	case TypeNull:
		return nil, nil
	case TypeBool:
		w, err := d.readWord()
		if err != nil {
			return nil, err
		}
		return w != 0, nil
	case TypeInt:
		if header&headerFlag64 != 0 {
			w, err := d.readDoubleWord()
			if err != nil {
				return nil, err
			}
			return int64(w), nil
		}
		w, err := d.readWord()
		if err != nil {
			return nil, err
		}
		return int64(int32(w)), nil
	case TypeFloat:
		if header&headerFlag64 != 0 {
			w, err := d.readDoubleWord()
			if err != nil {
				return nil, err
			}
			return math.Float64frombits(w), nil
		}
		w, err := d.readWord()
		if err != nil {
			return nil, err
		}
		return float64(math.Float32frombits(w)), nil
	case TypeString:
		return d.readString()
	case TypeVector2i:
		x, err := d.readWord()
		if err != nil {
			return nil, err
		}
		y, err := d.readWord()
		if err != nil {
			return nil, err
		}
		return Vector2i{X: int32(x), Y: int32(y)}, nil
	case TypeList, TypeDictionary:
		if d.depth >= MaxNestingDepth {
			return nil, fmt.Errorf("%w: more than %d levels at offset %d", ErrNestingTooDeep, MaxNestingDepth, headerAt)
		}
		d.depth++
		defer func() { d.depth-- }()
		if TypeCode(header&headerTypeMask) == TypeList {
			return d.readList(header)
		}
		return d.readDictionary(header)
	default:
		return nil, &UnsupportedTypeCodeError{Code: header & headerTypeMask, Offset: headerAt}
	}
}

func (d *Decoder) readList(header uint32) (any, error) {
	if err := d.skipContainerType((header >> arrayKindShift) & containerKindMk); err != nil {
		return nil, err
	}
	count, err := d.readCount()
	if err != nil {
		return nil, err
	}

	list := make([]any, 0, min(count, d.remaining()/4))
	for i := 0; i < count; i++ {
		item, err := d.Decode()
		if err != nil {
			return nil, err
		}
		list = append(list, item)
	}
	return list, nil
}

func (d *Decoder) readDictionary(header uint32) (any, error) {
	if err := d.skipContainerType((header >> dictKeyShift) & containerKindMk); err != nil {
		return nil, err
	}
	if err := d.skipContainerType((header >> dictValueShift) & containerKindMk); err != nil {
		return nil, err
	}
	count, err := d.readCount()
	if err != nil {
		return nil, err
	}

	dict := NewDictionary()
	for i := 0; i < count; i++ {
		key, err := d.Decode()
		if err != nil {
			return nil, err
		}
		value, err := d.Decode()
		if err != nil {
			return nil, err
		}
		dict.Set(key, value)
	}
	return dict, nil
}

// skipContainerType discards the declared element type of a typed container.
// Only builtin element types are understood.
func (d *Decoder) skipContainerType(kind uint32) error {
	switch kind {
	case containerNone:
		return nil
	case containerBuiltin:
		_, err := d.readWord()
		return err
	default:
		return fmt.Errorf("%w: kind %d at offset %d", ErrUnsupportedContainer, kind, d.pos-4)
	}
}

func (d *Decoder) readCount() (int, error) {
	w, err := d.readWord()
	if err != nil {
		return 0, err
	}
	return int(w & countMask), nil
}

// readString reads a length word and the bytes it covers, then realigns to
// the next word boundary. Encoders pad the length itself, so up to three
// trailing NUL bytes are padding and are dropped.
func (d *Decoder) readString() (any, error) {
	length, err := d.readWord()
	if err != nil {
		return nil, err
	}
	if uint64(length) > uint64(d.remaining()) {
		return nil, fmt.Errorf("%w: string of %d bytes at offset %d", ErrTruncatedData, length, d.pos)
	}
	n := int(length)

	raw := d.data[d.pos : d.pos+n]
	d.pos += pad4(n)

	trimmed := len(raw)
	for i := 0; i < 3 && trimmed > 0 && raw[trimmed-1] == 0; i++ {
		trimmed--
	}
	if !utf8.Valid(raw[:trimmed]) {
		return nil, fmt.Errorf("%w at offset %d", ErrInvalidUTF8, d.pos)
	}
	return string(raw[:trimmed]), nil
}

func (d *Decoder) readWord() (uint32, error) {
	if d.remaining() < 4 {
		return 0, fmt.Errorf("%w: need 4 bytes at offset %d, have %d", ErrTruncatedData, d.pos, d.remaining())
	}
	w := binary.LittleEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return w, nil
}

func (d *Decoder) readDoubleWord() (uint64, error) {
	if d.remaining() < 8 {
		return 0, fmt.Errorf("%w: need 8 bytes at offset %d, have %d", ErrTruncatedData, d.pos, d.remaining())
	}
	w := binary.LittleEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return w, nil
}

func (d *Decoder) remaining() int {
	return len(d.data) - d.pos
}
