package command

import (
	"fmt"
	"sort"
	"strings"

	"github.com/energizer-project/towerlink/internal/protocol"
)

// Command ids understood by the game server.
const (
	GetAllTerrain        ID = 1
	GetScores            ID = 2
	GetCurrentWave       ID = 3
	GetRemainTime        ID = 4
	GetTimeUntilNextWave ID = 5
	GetMoney             ID = 6
	GetIncome            ID = 7
	GetGameStatus        ID = 8
	GetTerrain           ID = 9
	GetSystemPath        ID = 10
	GetOpponentPath      ID = 11

	PlaceTower   ID = 101
	GetAllTowers ID = 102
	GetTower     ID = 103
	SellTower    ID = 104
	SetStrategy  ID = 105

	SpawnUnit       ID = 201
	GetUnitCooldown ID = 202
	GetAllEnemies   ID = 203

	CastSpell        ID = 301
	GetSpellCooldown ID = 302

	SendChat         ID = 401
	GetChatHistory   ID = 402
	SetChatNameColor ID = 403

	Pixelcat ID = 501
	GetDevs  ID = 502
	SetName  ID = 503
)

// DefaultChatHistory is the number of chat lines GET_CHAT_HISTORY returns
// when the count is omitted.
const DefaultChatHistory = 15

func param(name string, t *TypeSpec) Param {
	return Param{Name: name, Type: t}
}

func optional(name string, t *TypeSpec, def any) Param {
	return Param{Name: name, Type: t, Default: def, HasDefault: true}
}

var descriptors = []*Descriptor{
	{ID: GetAllTerrain, Name: "GET_ALL_TERRAIN", Returns: ListOf(ListOf(TerrainType)),
		Help: "terrain of every tile, indexed [x][y]"},
	{ID: GetScores, Name: "GET_SCORES", Params: []Param{param("owned", Bool)}, Returns: Int,
		Help: "score of the player (owned=true) or the opponent"},
	{ID: GetCurrentWave, Name: "GET_CURRENT_WAVE", Returns: Int,
		Help: "current wave number"},
	{ID: GetRemainTime, Name: "GET_REMAIN_TIME", Returns: Float,
		Help: "seconds left in the match"},
	{ID: GetTimeUntilNextWave, Name: "GET_TIME_UNTIL_NEXT_WAVE", Returns: Float,
		Help: "seconds until the next wave"},
	{ID: GetMoney, Name: "GET_MONEY", Params: []Param{param("owned", Bool)}, Returns: Int,
		Help: "money of the player or the opponent"},
	{ID: GetIncome, Name: "GET_INCOME", Params: []Param{param("owned", Bool)}, Returns: Int,
		Help: "income per payout of the player or the opponent"},
	{ID: GetGameStatus, Name: "GET_GAME_STATUS", Returns: GameStatus,
		Help: "match lifecycle state"},
	{ID: GetTerrain, Name: "GET_TERRAIN", Params: []Param{param("pos", Vector2)}, Returns: TerrainType,
		Help: "terrain of one tile"},
	{ID: GetSystemPath, Name: "GET_SYSTEM_PATH", Params: []Param{param("fly", Bool)}, Returns: ListOf(Vector2),
		Help: "enemy path on the player's map"},
	{ID: GetOpponentPath, Name: "GET_OPPONENT_PATH", Params: []Param{param("fly", Bool)}, Returns: ListOf(Vector2),
		Help: "enemy path on the opponent's map"},

	{ID: PlaceTower, Name: "PLACE_TOWER",
		Params: []Param{param("type", TowerType), param("level", String), param("coord", Vector2)},
		Help:   "place or upgrade a tower; level is 1, 2a, 2b, 3a or 3b"},
	{ID: GetAllTowers, Name: "GET_ALL_TOWERS", Params: []Param{param("owned", Bool)}, Returns: ListOf(Tower),
		Help: "towers of the player or the opponent"},
	{ID: GetTower, Name: "GET_TOWER", Params: []Param{param("owned", Bool), param("coord", Vector2)}, Returns: Tower,
		Help: "tower at a tile, if any"},
	{ID: SellTower, Name: "SELL_TOWER", Params: []Param{param("coord", Vector2)},
		Help: "sell the tower at a tile"},
	{ID: SetStrategy, Name: "SET_STRATEGY", Params: []Param{param("coord", Vector2), param("strategy", TargetStrategy)},
		Help: "change the targeting strategy of a tower"},

	{ID: SpawnUnit, Name: "SPAWN_UNIT", Params: []Param{param("type", EnemyType)},
		Help: "spawn an enemy on the opponent's map"},
	{ID: GetUnitCooldown, Name: "GET_UNIT_COOLDOWN", Params: []Param{param("type", EnemyType)}, Returns: Float,
		Help: "seconds until the unit can be spawned again"},
	{ID: GetAllEnemies, Name: "GET_ALL_ENEMIES", Params: []Param{param("owned", Bool)}, Returns: ListOf(Enemy),
		Help: "enemies on the player's or the opponent's map"},

	{ID: CastSpell, Name: "CAST_SPELL",
		Params: []Param{param("type", SpellType), optional("position", Vector2, protocol.Vec2(0, 0))},
		Help:   "cast a spell; position is ignored by spells without a target"},
	{ID: GetSpellCooldown, Name: "GET_SPELL_COOLDOWN", Params: []Param{param("owned", Bool), param("type", SpellType)},
		Returns: Float, Help: "seconds until the spell can be cast again"},

	{ID: SendChat, Name: "SEND_CHAT", Params: []Param{param("msg", String)},
		Help: "send a chat message"},
	{ID: GetChatHistory, Name: "GET_CHAT_HISTORY", Params: []Param{optional("num", Int, int64(DefaultChatHistory))},
		Returns: ListOf(TupleOf(ChatSource, String)), Help: "latest chat lines, oldest first"},
	{ID: SetChatNameColor, Name: "SET_CHAT_NAME_COLOR", Params: []Param{param("color", String)},
		Help: "set the chat name color as a hex string"},

	{ID: Pixelcat, Name: "PIXELCAT", Returns: String,
		Help: "ascii art"},
	{ID: GetDevs, Name: "GET_DEVS", Returns: ListOf(String),
		Help: "names of the game developers"},
	{ID: SetName, Name: "SET_NAME", Params: []Param{param("name", String)},
		Help: "set the player's display name"},
}

var (
	byID   = make(map[ID]*Descriptor, len(descriptors))
	byName = make(map[string]*Descriptor, len(descriptors))
)

func init() {
	for _, d := range descriptors {
		byID[d.ID] = d
		byName[d.Name] = d
	}
}

// Lookup finds a descriptor by id.
func Lookup(id ID) (*Descriptor, bool) {
	d, ok := byID[id]
	return d, ok
}

// LookupName finds a descriptor by name. Case and the separator ("-" or "_")
// do not matter.
func LookupName(name string) (*Descriptor, bool) {
	key := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
	d, ok := byName[key]
	return d, ok
}

// MustLookup returns the descriptor for a catalog id and panics otherwise.
func MustLookup(id ID) *Descriptor {
	d, ok := byID[id]
	if !ok {
		panic(fmt.Sprintf("command: unknown id %d", id))
	}
	return d
}

// Catalog returns every descriptor ordered by id.
func Catalog() []*Descriptor {
	out := make([]*Descriptor, len(descriptors))
	copy(out, descriptors)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (id ID) String() string {
	if d, ok := byID[id]; ok {
		return d.Name
	}
	return "UNKNOWN_COMMAND"
}
