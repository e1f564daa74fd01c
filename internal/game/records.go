package game

import (
	"errors"
	"fmt"

	"github.com/energizer-project/towerlink/internal/protocol"
)

// ErrBadRecord is returned when a dictionary cannot be turned into a record.
var ErrBadRecord = errors.New("game: malformed record")

// Tower describes one placed tower.
type Tower struct {
	Type     TowerType `json:"type"`
	Position Vector2   `json:"position"`
	// LevelA and LevelB are the two upgrade branches:
	// (1,1)=1, (2,1)=2a, (1,2)=2b, (3,1)=3a, (1,3)=3b.
	LevelA       int64  `json:"level_a"`
	LevelB       int64  `json:"level_b"`
	Aim          bool   `json:"aim"`
	AntiAir      bool   `json:"anti_air"`
	Reload       int64  `json:"reload"`
	Range        int64  `json:"range"`
	Damage       int64  `json:"damage"`
	BulletEffect string `json:"bullet_effect"`
}

// Level renders the upgrade branches the way PLACE_TOWER expects them.
func (t *Tower) Level() string {
	switch {
	case t.LevelA > 1:
		return fmt.Sprintf("%da", t.LevelA)
	case t.LevelB > 1:
		return fmt.Sprintf("%db", t.LevelB)
	default:
		return "1"
	}
}

func (t *Tower) String() string {
	return fmt.Sprintf("Tower(type=%s, position=%s, level=%s)", t.Type, t.Position, t.Level())
}

// Enemy describes one unit on the map.
type Enemy struct {
	Type            EnemyType `json:"type"`
	Position        Vector2   `json:"position"`
	ProgressRatio   float64   `json:"progress_ratio"`
	IncomeImpact    int64     `json:"income_impact"`
	Health          int64     `json:"health"`
	MaxHealth       int64     `json:"max_health"`
	Damage          int64     `json:"damage"`
	MaxSpeed        float64   `json:"max_speed"`
	Flying          bool      `json:"flying"`
	KnockbackResist bool      `json:"knockback_resist"`
	KillReward      int64     `json:"kill_reward"`
}

func (e *Enemy) String() string {
	return fmt.Sprintf("Enemy(type=%s, position=%s, progress=%.2f, health=%d/%d)",
		e.Type, e.Position, e.ProgressRatio, e.Health, e.MaxHealth)
}

// ChatMessage is one line of chat history.
type ChatMessage struct {
	Source ChatSource `json:"source"`
	Text   string     `json:"text"`
}

// TowerFromDictionary builds a Tower. An empty dictionary means no tower
// and yields nil.
func TowerFromDictionary(d *protocol.Dictionary) (*Tower, error) {
	if d.Len() == 0 {
		return nil, nil
	}
	r := recordReader{dict: d, record: "Tower"}
	t := &Tower{
		Type:         TowerType(r.getEnum("type", TowerTypeEnum)),
		Position:     r.getPosition("position"),
		LevelA:       r.getInt("level_a"),
		LevelB:       r.getInt("level_b"),
		Aim:          r.getBool("aim"),
		AntiAir:      r.getBool("anti_air"),
		Reload:       r.getInt("reload"),
		Range:        r.getInt("range"),
		Damage:       r.getInt("damage"),
		BulletEffect: r.getString("bullet_effect"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return t, nil
}

// EnemyFromDictionary builds an Enemy. An empty dictionary yields nil.
func EnemyFromDictionary(d *protocol.Dictionary) (*Enemy, error) {
	if d.Len() == 0 {
		return nil, nil
	}
	r := recordReader{dict: d, record: "Enemy"}
	e := &Enemy{
		Type:            EnemyType(r.getEnum("type", EnemyTypeEnum)),
		Position:        r.getPosition("position"),
		ProgressRatio:   r.getFloat("progress_ratio"),
		IncomeImpact:    r.getInt("income_impact"),
		Health:          r.getInt("health"),
		MaxHealth:       r.getInt("max_health"),
		Damage:          r.getInt("damage"),
		MaxSpeed:        r.getFloat("max_speed"),
		Flying:          r.getBool("flying"),
		KnockbackResist: r.getBool("knockback_resist"),
		KillReward:      r.getInt("kill_reward"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// recordReader extracts typed fields and keeps the first error.
type recordReader struct {
	dict   *protocol.Dictionary
	record string
	err    error
}

func (r *recordReader) get(key string) (any, bool) {
	if r.err != nil {
		return nil, false
	}
	v, ok := r.dict.Get(key)
	if !ok {
		r.err = fmt.Errorf("%w: %s is missing %q", ErrBadRecord, r.record, key)
		return nil, false
	}
	return v, true
}

func (r *recordReader) fail(key string, v any, want string) {
	r.err = fmt.Errorf("%w: %s.%s is %T, want %s", ErrBadRecord, r.record, key, v, want)
}

func (r *recordReader) getInt(key string) int64 {
	v, ok := r.get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	r.fail(key, v, "int")
	return 0
}

func (r *recordReader) getFloat(key string) float64 {
	v, ok := r.get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	r.fail(key, v, "float")
	return 0
}

func (r *recordReader) getBool(key string) bool {
	v, ok := r.get(key)
	if !ok {
		return false
	}
	b, isBool := v.(bool)
	if !isBool {
		r.fail(key, v, "bool")
	}
	return b
}

func (r *recordReader) getString(key string) string {
	v, ok := r.get(key)
	if !ok {
		return ""
	}
	s, isString := v.(string)
	if !isString {
		r.fail(key, v, "string")
	}
	return s
}

func (r *recordReader) getEnum(key string, e *Enum) int64 {
	n := r.getInt(key)
	if r.err == nil && !e.Valid(n) {
		r.err = fmt.Errorf("%w: %s.%s=%d is not a valid %s", ErrBadRecord, r.record, key, n, e.Name)
	}
	return n
}

// getPosition accepts either a Vector2i or a {x, y} dictionary.
func (r *recordReader) getPosition(key string) Vector2 {
	v, ok := r.get(key)
	if !ok {
		return Vector2{}
	}
	pos, err := ToVector2(v)
	if err != nil {
		r.err = fmt.Errorf("%w: %s.%s: %v", ErrBadRecord, r.record, key, err)
	}
	return pos
}

// ToVector2 converts a Vector2i or an {x, y} dictionary to a Vector2.
func ToVector2(v any) (Vector2, error) {
	switch p := v.(type) {
	case protocol.Vector2i:
		return p, nil
	case *protocol.Dictionary:
		x, okX := p.Get("x")
		y, okY := p.Get("y")
		xi, isX := x.(int64)
		yi, isY := y.(int64)
		if !okX || !okY || !isX || !isY {
			return Vector2{}, fmt.Errorf("dictionary is not an {x, y} pair")
		}
		return Vector2{X: int32(xi), Y: int32(yi)}, nil
	default:
		return Vector2{}, fmt.Errorf("%T is not a position", v)
	}
}
