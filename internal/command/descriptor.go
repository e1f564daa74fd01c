package command

import (
	"fmt"
	"reflect"

	"github.com/energizer-project/towerlink/internal/protocol"
)

// ID is a game command identifier as sent in the request envelope.
type ID int32

// Param is one positional argument of a command.
type Param struct {
	Name string
	Type *TypeSpec
	// Default is used when the caller omits this and every later argument.
	Default    any
	HasDefault bool
}

// Descriptor binds a command id to its argument list and return type.
// Returns is nil for commands that reply with no payload.
type Descriptor struct {
	ID      ID
	Name    string
	Params  []Param
	Returns *TypeSpec
	Help    string
}

// Signature renders the descriptor as NAME(arg type, ...) -> return.
func (d *Descriptor) Signature() string {
	s := d.Name + "("
	for i, p := range d.Params {
		if i > 0 {
			s += ", "
		}
		s += p.Name + " " + p.Type.String()
		if p.HasDefault {
			s += fmt.Sprintf(" = %v", p.Default)
		}
	}
	return s + ") -> " + d.Returns.String()
}

// ArgError is a local validation failure. Nothing was sent.
type ArgError struct {
	Command string
	Code    protocol.StatusCode
	Message string
}

func (e *ArgError) Error() string {
	return e.Message
}

func (d *Descriptor) illformed(format string, args ...any) error {
	return &ArgError{Command: d.Name, Code: protocol.StatusIllformedCommand, Message: fmt.Sprintf(format, args...)}
}

func (d *Descriptor) illegal(format string, args ...any) error {
	return &ArgError{Command: d.Name, Code: protocol.StatusIllegalArgument, Message: fmt.Sprintf(format, args...)}
}

// Bind fills defaulted trailing arguments, checks arity and argument types,
// and returns the arguments as wire values (ints and enums as int64).
func (d *Descriptor) Bind(args []any) ([]any, error) {
	if len(args) > len(d.Params) {
		return nil, d.illformed("%s expected %d arguments, got %d", d.Name, len(d.Params), len(args))
	}

	out := make([]any, len(d.Params))
	for i, p := range d.Params {
		var arg any
		switch {
		case i < len(args):
			arg = args[i]
		case p.HasDefault:
			arg = p.Default
		default:
			return nil, d.illformed("%s expected argument %s", d.Name, p.Name)
		}

		v, ok := normalizeArg(p.Type, arg)
		if !ok {
			return nil, d.illegal("type mismatch at argument %d of %s", i, d.Name)
		}
		out[i] = v
	}
	return out, nil
}

func normalizeArg(t *TypeSpec, arg any) (any, bool) {
	switch t.Kind {
	case KindBool:
		b, ok := arg.(bool)
		return b, ok
	case KindString:
		s, ok := arg.(string)
		return s, ok
	case KindVector2:
		v, ok := arg.(protocol.Vector2i)
		return v, ok
	case KindFloat:
		switch f := arg.(type) {
		case float64:
			return f, true
		case float32:
			return float64(f), true
		}
		return nil, false
	case KindInt:
		return integerValue(arg)
	case KindEnum:
		n, ok := integerValue(arg)
		if !ok {
			return nil, false
		}
		typ := reflect.TypeOf(arg)
		// Another enum's named type is a mismatch; a bare integer must be a member.
		if typ != t.GoType && typ.PkgPath() != "" {
			return nil, false
		}
		if !t.Enum.Valid(n.(int64)) {
			return nil, false
		}
		return n, true
	default:
		return nil, false
	}
}

// integerValue accepts any Go integer kind, including named ones.
func integerValue(arg any) (any, bool) {
	if arg == nil {
		return nil, false
	}
	v := reflect.ValueOf(arg)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := v.Uint()
		if u > 1<<63-1 {
			return nil, false
		}
		return int64(u), true
	}
	return nil, false
}
