// Package protocol implements the binary Variant wire format spoken by the
// game server, the request/reply envelopes built on top of it, and the
// fixed set of status codes a reply can carry.
//
// Decoded values use plain Go types:
//
//	Null        -> nil
//	Bool        -> bool
//	Int         -> int64
//	Float       -> float64
//	String      -> string
//	Vector2i    -> Vector2i
//	List        -> []any
//	Dictionary  -> *Dictionary
package protocol

import (
	"encoding/json"
	"fmt"
	"math"
)

// TypeCode is the low byte of every Variant header word.
type TypeCode uint32

const (
	TypeNull       TypeCode = 0
	TypeBool       TypeCode = 1
	TypeInt        TypeCode = 2
	TypeFloat      TypeCode = 3
	TypeString     TypeCode = 4
	TypeVector2i   TypeCode = 6
	TypeDictionary TypeCode = 27
	TypeList       TypeCode = 28
)

// Header layout: byte 0 is the type code, bits 16-19 carry flags.
const (
	headerTypeMask  = 0xFF
	headerFlag64    = 1 << 16
	arrayKindShift  = 16
	dictKeyShift    = 16
	dictValueShift  = 18
	containerKindMk = 0b11
	countMask       = 0x7FFFFFFF
)

// Container type kinds carried in list/dictionary headers.
const (
	containerNone    = 0
	containerBuiltin = 1
)

var typeNames = map[TypeCode]string{
	TypeNull:       "null",
	TypeBool:       "bool",
	TypeInt:        "int",
	TypeFloat:      "float",
	TypeString:     "string",
	TypeVector2i:   "vector2i",
	TypeDictionary: "dictionary",
	TypeList:       "list",
}

// String returns the lowercase name of the type code.
func (t TypeCode) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

// Vector2i is a pair of 32-bit integer coordinates. The map origin (0, 0)
// is the top-left tile.
type Vector2i struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

// Vec2 is shorthand for building a Vector2i from ints.
func Vec2(x, y int) Vector2i {
	return Vector2i{X: int32(x), Y: int32(y)}
}

func (v Vector2i) String() string {
	return fmt.Sprintf("(%d, %d)", v.X, v.Y)
}

// DictEntry is a single key/value pair of a Dictionary.
type DictEntry struct {
	Key   any
	Value any
}

// Dictionary maps Variant keys to Variant values. Keys may be any Variant,
// including lists, so entries are kept in a slice and compared with Equal.
type Dictionary struct {
	entries []DictEntry
}

// NewDictionary creates an empty Dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{}
}

// Set stores value under key, replacing an existing equal key.
func (d *Dictionary) Set(key, value any) {
	for i := range d.entries {
		if Equal(d.entries[i].Key, key) {
			d.entries[i].Value = value
			return
		}
	}
	d.entries = append(d.entries, DictEntry{Key: key, Value: value})
}

// Get returns the value stored under key.
func (d *Dictionary) Get(key any) (any, bool) {
	if d == nil {
		return nil, false
	}
	for _, e := range d.entries {
		if Equal(e.Key, key) {
			return e.Value, true
		}
	}
	return nil, false
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}

// Entries returns a copy of the entries.
func (d *Dictionary) Entries() []DictEntry {
	if d == nil {
		return nil
	}
	out := make([]DictEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// MarshalJSON renders the dictionary as a JSON object keyed by the
// formatted key, which is enough for logs and the status API.
func (d *Dictionary) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, d.Len())
	for _, e := range d.Entries() {
		m[fmt.Sprint(e.Key)] = e.Value
	}
	return json.Marshal(m)
}

// Equal reports whether two Variant values are identical. Floats compare by
// bit pattern so NaN payloads and signed zeros are distinguished.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && math.Float64bits(av) == math.Float64bits(bv)
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case Vector2i:
		bv, ok := b.(Vector2i)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case *Dictionary:
		bv, ok := b.(*Dictionary)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for _, e := range av.Entries() {
			other, found := bv.Get(e.Key)
			if !found || !Equal(e.Value, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// TypeOf returns the wire type code for a Go value, normalising the
// integer and float widths that Marshal accepts.
func TypeOf(v any) (TypeCode, bool) {
	switch v.(type) {
	case nil:
		return TypeNull, true
	case bool:
		return TypeBool, true
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return TypeInt, true
	case float32, float64:
		return TypeFloat, true
	case string:
		return TypeString, true
	case Vector2i:
		return TypeVector2i, true
	case []any:
		return TypeList, true
	case *Dictionary:
		return TypeDictionary, true
	default:
		return 0, false
	}
}
