package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/energizer-project/towerlink/internal/protocol"
)

var (
	errVectorShape = errors.New(`vector must be [x, y] or {"x": x, "y": y}`)
	errArgKind     = errors.New("argument type cannot be given as JSON")
)

// ParseArgs converts console words into arguments for d. A Vector2 is either
// one "x,y" word or two words. A trailing string argument takes the rest of
// the line. Omitted trailing arguments are left for Bind to default.
func (d *Descriptor) ParseArgs(words []string) ([]any, error) {
	var args []any
	i := 0
	for n, p := range d.Params {
		if i >= len(words) {
			break
		}
		switch p.Type.Kind {
		case KindVector2:
			if strings.Contains(words[i], ",") {
				v, err := parseVector(strings.SplitN(words[i], ",", 2))
				if err != nil {
					return nil, d.illegal("argument %s of %s: %v", p.Name, d.Name, err)
				}
				args = append(args, v)
				i++
				continue
			}
			if i+1 >= len(words) {
				return nil, d.illformed("%s expected argument %s as x y", d.Name, p.Name)
			}
			v, err := parseVector(words[i : i+2])
			if err != nil {
				return nil, d.illegal("argument %s of %s: %v", p.Name, d.Name, err)
			}
			args = append(args, v)
			i += 2
		case KindString:
			if n == len(d.Params)-1 {
				args = append(args, strings.Join(words[i:], " "))
				i = len(words)
				continue
			}
			args = append(args, words[i])
			i++
		default:
			v, err := parseScalar(p.Type, words[i])
			if err != nil {
				return nil, d.illegal("argument %s of %s: %v", p.Name, d.Name, err)
			}
			args = append(args, v)
			i++
		}
	}
	if i < len(words) {
		return nil, d.illformed("%s expected %d arguments, got more", d.Name, len(d.Params))
	}
	return args, nil
}

func parseVector(parts []string) (protocol.Vector2i, error) {
	x, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return protocol.Vector2i{}, err
	}
	y, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 32)
	if err != nil {
		return protocol.Vector2i{}, err
	}
	return protocol.Vec2(int(x), int(y)), nil
}

func parseScalar(t *TypeSpec, s string) (any, error) {
	switch t.Kind {
	case KindBool:
		switch strings.ToLower(s) {
		case "opp", "opponent":
			return false, nil
		case "own", "owned", "me":
			return true, nil
		}
		return strconv.ParseBool(s)
	case KindInt:
		return strconv.ParseInt(s, 10, 64)
	case KindFloat:
		return strconv.ParseFloat(s, 64)
	case KindEnum:
		return t.Enum.Parse(s)
	default:
		return s, nil
	}
}

// ArgsFromJSON converts a JSON array body into arguments for d. Enums accept
// a member name or number; a Vector2 accepts {"x":..,"y":..} or [x, y].
func (d *Descriptor) ArgsFromJSON(raw []byte) ([]any, error) {
	var items []json.RawMessage
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, d.illformed("%s arguments must be a JSON array: %v", d.Name, err)
		}
	}
	if len(items) > len(d.Params) {
		return nil, d.illformed("%s expected %d arguments, got %d", d.Name, len(d.Params), len(items))
	}

	args := make([]any, 0, len(items))
	for i, item := range items {
		p := d.Params[i]
		v, err := jsonArg(p.Type, item)
		if err != nil {
			return nil, d.illegal("type mismatch at argument %d of %s: %v", i, d.Name, err)
		}
		args = append(args, v)
	}
	return args, nil
}

func jsonArg(t *TypeSpec, item json.RawMessage) (any, error) {
	switch t.Kind {
	case KindBool:
		var b bool
		err := json.Unmarshal(item, &b)
		return b, err
	case KindInt:
		var n int64
		err := json.Unmarshal(item, &n)
		return n, err
	case KindFloat:
		var f float64
		err := json.Unmarshal(item, &f)
		return f, err
	case KindString:
		var s string
		err := json.Unmarshal(item, &s)
		return s, err
	case KindEnum:
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			return t.Enum.Parse(name)
		}
		var n int64
		if err := json.Unmarshal(item, &n); err != nil {
			return nil, err
		}
		return n, nil
	case KindVector2:
		var pair []int32
		if err := json.Unmarshal(item, &pair); err == nil {
			if len(pair) != 2 {
				return nil, errVectorShape
			}
			return protocol.Vector2i{X: pair[0], Y: pair[1]}, nil
		}
		var v protocol.Vector2i
		if err := json.Unmarshal(item, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, errArgKind
	}
}
