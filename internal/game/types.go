// Package game defines the enumerations and records exchanged with the
// tower defense game server.
package game

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/energizer-project/towerlink/internal/protocol"
)

// Vector2 is a tile coordinate; (0, 0) is the top-left corner of the map.
type Vector2 = protocol.Vector2i

// GameStatus is the lifecycle state of the match.
type GameStatus int

const (
	GameStatusPreparing GameStatus = 0
	GameStatusRunning   GameStatus = 1
	GameStatusPaused    GameStatus = 2
)

// TerrainType classifies one map tile.
type TerrainType int

const (
	TerrainOutOfBounds TerrainType = 0
	TerrainEmpty       TerrainType = 1
	TerrainRoad        TerrainType = 2
	TerrainObstacle    TerrainType = 3
)

// TowerType identifies a tower model.
type TowerType int

const (
	TowerFireMario  TowerType = 1
	TowerIceLuigi   TowerType = 2
	TowerDonkeyKong TowerType = 3
	TowerFort       TowerType = 4
	TowerShyGuy     TowerType = 5
)

// EnemyType identifies a unit that can be spawned on the opponent's map.
type EnemyType int

const (
	EnemyBuzzyBeetle     EnemyType = 0
	EnemyGoomba          EnemyType = 1
	EnemyKoopaJr         EnemyType = 2
	EnemyKoopaParatroopa EnemyType = 3
	EnemyKoopa           EnemyType = 4
	EnemySpinyShell      EnemyType = 5
	EnemyWiggler         EnemyType = 6
)

// SpellType identifies a castable spell.
type SpellType int

const (
	SpellPoison       SpellType = 0
	SpellDoubleIncome SpellType = 1
	SpellTeleport     SpellType = 2
)

// TargetStrategy selects which enemy a tower aims at.
type TargetStrategy int

const (
	TargetFirst TargetStrategy = 0
	TargetLast  TargetStrategy = 1
	TargetClose TargetStrategy = 2
)

// ChatSource says who wrote a chat line.
type ChatSource int

const (
	ChatSystem      ChatSource = 0
	ChatPlayerSelf  ChatSource = 1
	ChatPlayerOther ChatSource = 2
)

// Enum describes one of the game enumerations for argument parsing and
// result coercion.
type Enum struct {
	Name   string
	names  map[int64]string
	values map[string]int64
}

func newEnum(name string, members map[int64]string) *Enum {
	e := &Enum{Name: name, names: members, values: make(map[string]int64, len(members))}
	for v, n := range members {
		e.values[n] = v
	}
	return e
}

// Valid reports whether v is a member.
func (e *Enum) Valid(v int64) bool {
	_, ok := e.names[v]
	return ok
}

// NameOf returns the member name for v.
func (e *Enum) NameOf(v int64) string {
	if n, ok := e.names[v]; ok {
		return n
	}
	return fmt.Sprintf("%s(%d)", e.Name, v)
}

// Parse accepts a member name (case-insensitive) or its numeric value.
func (e *Enum) Parse(s string) (int64, error) {
	if v, ok := e.values[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return v, nil
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil && e.Valid(n) {
		return n, nil
	}
	return 0, fmt.Errorf("%q is not a valid %s", s, e.Name)
}

// Names returns the member names ordered by value.
func (e *Enum) Names() []string {
	out := make([]string, 0, len(e.names))
	for v := int64(0); len(out) < len(e.names) && v < 64; v++ {
		if n, ok := e.names[v]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Enumerations known to the command catalog.
var (
	GameStatusEnum = newEnum("GameStatus", map[int64]string{
		0: "PREPARING", 1: "RUNNING", 2: "PAUSED",
	})
	TerrainTypeEnum = newEnum("TerrainType", map[int64]string{
		0: "OUT_OF_BOUNDS", 1: "EMPTY", 2: "ROAD", 3: "OBSTACLE",
	})
	TowerTypeEnum = newEnum("TowerType", map[int64]string{
		1: "FIRE_MARIO", 2: "ICE_LUIGI", 3: "DONKEY_KONG", 4: "FORT", 5: "SHY_GUY",
	})
	EnemyTypeEnum = newEnum("EnemyType", map[int64]string{
		0: "BUZZY_BEETLE", 1: "GOOMBA", 2: "KOOPA_JR", 3: "KOOPA_PARATROOPA",
		4: "KOOPA", 5: "SPINY_SHELL", 6: "WIGGLER",
	})
	SpellTypeEnum = newEnum("SpellType", map[int64]string{
		0: "POISON", 1: "DOUBLE_INCOME", 2: "TELEPORT",
	})
	TargetStrategyEnum = newEnum("TargetStrategy", map[int64]string{
		0: "FIRST", 1: "LAST", 2: "CLOSE",
	})
	ChatSourceEnum = newEnum("ChatSource", map[int64]string{
		0: "SYSTEM", 1: "PLAYER_SELF", 2: "PLAYER_OTHER",
	})
)

func (s GameStatus) String() string     { return GameStatusEnum.NameOf(int64(s)) }
func (t TerrainType) String() string    { return TerrainTypeEnum.NameOf(int64(t)) }
func (t TowerType) String() string      { return TowerTypeEnum.NameOf(int64(t)) }
func (t EnemyType) String() string      { return EnemyTypeEnum.NameOf(int64(t)) }
func (t SpellType) String() string      { return SpellTypeEnum.NameOf(int64(t)) }
func (t TargetStrategy) String() string { return TargetStrategyEnum.NameOf(int64(t)) }
func (c ChatSource) String() string     { return ChatSourceEnum.NameOf(int64(c)) }

// MarshalJSON serializes GameStatus as its name (e.g. "RUNNING").
func (s GameStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// MarshalJSON serializes TowerType as its name.
func (t TowerType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// MarshalJSON serializes EnemyType as its name.
func (t EnemyType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// MarshalJSON serializes ChatSource as its name.
func (c ChatSource) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}
