// Package command holds the static descriptors of every game command: the
// command id, the ordered argument types, and the declared return type.
package command

import (
	"reflect"
	"strings"

	"github.com/energizer-project/towerlink/internal/game"
)

// Kind is the shape of a TypeSpec.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindString
	KindVector2
	KindEnum
	KindTower
	KindEnemy
	KindList
	KindTuple
)

// TypeSpec describes an argument type or a (possibly nested) return type.
type TypeSpec struct {
	Kind Kind
	// Enum and GoType are set for KindEnum. GoType is the named Go type
	// that arguments may use and that coerced results are converted to.
	Enum   *game.Enum
	GoType reflect.Type
	// Elem is the element type of a KindList.
	Elem *TypeSpec
	// Fields are the positional types of a KindTuple.
	Fields []*TypeSpec
}

// Primitive and record type specs.
var (
	Bool    = &TypeSpec{Kind: KindBool}
	Int     = &TypeSpec{Kind: KindInt}
	Float   = &TypeSpec{Kind: KindFloat}
	String  = &TypeSpec{Kind: KindString}
	Vector2 = &TypeSpec{Kind: KindVector2}
	Tower   = &TypeSpec{Kind: KindTower}
	Enemy   = &TypeSpec{Kind: KindEnemy}

	GameStatus     = EnumOf(game.GameStatusEnum, game.GameStatus(0))
	TerrainType    = EnumOf(game.TerrainTypeEnum, game.TerrainType(0))
	TowerType      = EnumOf(game.TowerTypeEnum, game.TowerType(0))
	EnemyType      = EnumOf(game.EnemyTypeEnum, game.EnemyType(0))
	SpellType      = EnumOf(game.SpellTypeEnum, game.SpellType(0))
	TargetStrategy = EnumOf(game.TargetStrategyEnum, game.TargetStrategy(0))
	ChatSource     = EnumOf(game.ChatSourceEnum, game.ChatSource(0))
)

// EnumOf builds an enum spec whose values convert to the type of sample.
func EnumOf(e *game.Enum, sample any) *TypeSpec {
	return &TypeSpec{Kind: KindEnum, Enum: e, GoType: reflect.TypeOf(sample)}
}

// ListOf builds a homogeneous list spec.
func ListOf(elem *TypeSpec) *TypeSpec {
	return &TypeSpec{Kind: KindList, Elem: elem}
}

// TupleOf builds a fixed-arity tuple spec.
func TupleOf(fields ...*TypeSpec) *TypeSpec {
	return &TypeSpec{Kind: KindTuple, Fields: fields}
}

// NewEnum converts a validated member value to the enum's Go type.
func (t *TypeSpec) NewEnum(v int64) any {
	return reflect.ValueOf(v).Convert(t.GoType).Interface()
}

func (t *TypeSpec) String() string {
	if t == nil {
		return "none"
	}
	switch t.Kind {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindVector2:
		return "Vector2"
	case KindEnum:
		return t.Enum.Name
	case KindTower:
		return "Tower"
	case KindEnemy:
		return "Enemy"
	case KindList:
		return "list[" + t.Elem.String() + "]"
	case KindTuple:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.String()
		}
		return "tuple[" + strings.Join(parts, ", ") + "]"
	default:
		return "unknown"
	}
}
