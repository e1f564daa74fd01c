package dispatch

import (
	"fmt"
	"math"
	"strconv"

	"github.com/energizer-project/towerlink/internal/command"
	"github.com/energizer-project/towerlink/internal/game"
	"github.com/energizer-project/towerlink/internal/protocol"
)

// coerceError carries the status code a failed coercion is reported under:
// INTERNAL_ERR for shape mismatches, CLIENT_ERR for failed conversions.
type coerceError struct {
	code protocol.StatusCode
	msg  string
	err  error
}

func (e *coerceError) Error() string { return e.msg }

func unexpected() *coerceError {
	return &coerceError{code: protocol.StatusInternalErr, msg: "unexpected return value"}
}

func castFailed(v any, t *command.TypeSpec, cause error) *coerceError {
	return &coerceError{
		code: protocol.StatusClientErr,
		msg:  fmt.Sprintf("failed to cast return type from %s to %s", variantName(v), t),
		err:  cause,
	}
}

// Coerce converts a reply payload to the declared return type. A nil type
// requires a nil payload. Lists come back as []any of coerced elements,
// enums as their named Go type, records as *game.Tower / *game.Enemy.
func Coerce(t *command.TypeSpec, v any) (any, error) {
	if t == nil {
		if v != nil {
			return nil, unexpected()
		}
		return nil, nil
	}

	if list, ok := v.([]any); ok {
		switch t.Kind {
		case command.KindList:
			out := make([]any, len(list))
			for i, item := range list {
				c, err := Coerce(t.Elem, item)
				if err != nil {
					return nil, err
				}
				out[i] = c
			}
			return out, nil
		case command.KindTuple:
			if len(list) != len(t.Fields) {
				return nil, unexpected()
			}
			out := make([]any, len(list))
			for i, item := range list {
				c, err := Coerce(t.Fields[i], item)
				if err != nil {
					return nil, err
				}
				out[i] = c
			}
			return out, nil
		default:
			return nil, unexpected()
		}
	}

	switch t.Kind {
	case command.KindList, command.KindTuple:
		return nil, unexpected()

	case command.KindBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		case float64:
			return b != 0, nil
		}

	case command.KindInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case bool:
			if n {
				return int64(1), nil
			}
			return int64(0), nil
		case float64:
			i, ok := floatToInt(n)
			if !ok {
				return nil, castFailed(v, t, fmt.Errorf("%g is out of int range", n))
			}
			return i, nil
		case string:
			i, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, castFailed(v, t, err)
			}
			return i, nil
		}

	case command.KindFloat:
		switch f := v.(type) {
		case float64:
			return f, nil
		case int64:
			return float64(f), nil
		case string:
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, castFailed(v, t, err)
			}
			return x, nil
		}

	case command.KindString:
		switch s := v.(type) {
		case string:
			return s, nil
		case int64, float64, bool, protocol.Vector2i:
			return fmt.Sprint(s), nil
		}

	case command.KindVector2:
		pos, err := game.ToVector2(v)
		if err != nil {
			return nil, castFailed(v, t, err)
		}
		return pos, nil

	case command.KindEnum:
		var n int64
		switch x := v.(type) {
		case int64:
			n = x
		case float64:
			i, ok := floatToInt(x)
			if !ok || x != math.Trunc(x) {
				return nil, castFailed(v, t, nil)
			}
			n = i
		default:
			return nil, castFailed(v, t, nil)
		}
		if !t.Enum.Valid(n) {
			return nil, castFailed(v, t, fmt.Errorf("%d is not a valid %s", n, t.Enum.Name))
		}
		return t.NewEnum(n), nil

	case command.KindTower:
		if v == nil {
			return (*game.Tower)(nil), nil
		}
		d, ok := v.(*protocol.Dictionary)
		if !ok {
			return nil, castFailed(v, t, nil)
		}
		tower, err := game.TowerFromDictionary(d)
		if err != nil {
			return nil, castFailed(v, t, err)
		}
		return tower, nil

	case command.KindEnemy:
		if v == nil {
			return (*game.Enemy)(nil), nil
		}
		d, ok := v.(*protocol.Dictionary)
		if !ok {
			return nil, castFailed(v, t, nil)
		}
		enemy, err := game.EnemyFromDictionary(d)
		if err != nil {
			return nil, castFailed(v, t, err)
		}
		return enemy, nil
	}

	return nil, castFailed(v, t, nil)
}

// floatToInt truncates f toward zero. It fails for NaN and for values that
// do not fit an int64.
func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func variantName(v any) string {
	if code, ok := protocol.TypeOf(v); ok {
		return code.String()
	}
	return fmt.Sprintf("%T", v)
}
