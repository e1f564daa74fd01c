// Package client exposes one typed method per game command on top of a
// dispatcher session.
package client

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/energizer-project/towerlink/internal/command"
	"github.com/energizer-project/towerlink/internal/game"
)

// DefaultTerrainCacheSize covers a full map with room to spare.
const DefaultTerrainCacheSize = 4096

// Invoker runs one command. *dispatch.Dispatcher implements it.
type Invoker interface {
	Invoke(ctx context.Context, desc *command.Descriptor, args ...any) (any, error)
}

// GameClient wraps an Invoker with typed command methods. Terrain does not
// change during a match, so tile lookups are cached.
type GameClient struct {
	inv     Invoker
	terrain *lru.Cache[game.Vector2, game.TerrainType]
}

// New creates a GameClient. cacheSize <= 0 uses DefaultTerrainCacheSize.
func New(inv Invoker, cacheSize int) (*GameClient, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultTerrainCacheSize
	}
	cache, err := lru.New[game.Vector2, game.TerrainType](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create terrain cache: %w", err)
	}
	return &GameClient{inv: inv, terrain: cache}, nil
}

// ResetTerrainCache drops cached tiles, e.g. after reconnecting to a new match.
func (c *GameClient) ResetTerrainCache() {
	c.terrain.Purge()
}

// Call runs a command by name with already-typed arguments.
func (c *GameClient) Call(ctx context.Context, name string, args ...any) (any, error) {
	desc, ok := command.LookupName(name)
	if !ok {
		return nil, fmt.Errorf("unknown command %q", name)
	}
	return c.inv.Invoke(ctx, desc, args...)
}

func call[T any](ctx context.Context, c *GameClient, id command.ID, args ...any) (T, error) {
	var zero T
	v, err := c.inv.Invoke(ctx, command.MustLookup(id), args...)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s returned %T, want %T", id, v, zero)
	}
	return out, nil
}

func callInt(ctx context.Context, c *GameClient, id command.ID, args ...any) (int, error) {
	n, err := call[int64](ctx, c, id, args...)
	return int(n), err
}

func exec(ctx context.Context, c *GameClient, id command.ID, args ...any) error {
	_, err := c.inv.Invoke(ctx, command.MustLookup(id), args...)
	return err
}

// listOf converts a coerced []any, dropping elements of another type.
func listOf[T any](v []any) []T {
	out := make([]T, 0, len(v))
	for _, item := range v {
		if t, ok := item.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// records converts a coerced list of records. Empty records are skipped.
func records[T any](v []any) []*T {
	out := make([]*T, 0, len(v))
	for _, r := range listOf[*T](v) {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// GetGameStatus returns the match lifecycle state.
func (c *GameClient) GetGameStatus(ctx context.Context) (game.GameStatus, error) {
	return call[game.GameStatus](ctx, c, command.GetGameStatus)
}

// GetAllTerrain returns the whole map indexed [x][y], so terrain[x][y] is
// the tile at Vector2{X: x, Y: y}, and fills the tile cache.
func (c *GameClient) GetAllTerrain(ctx context.Context) ([][]game.TerrainType, error) {
	columns, err := call[[]any](ctx, c, command.GetAllTerrain)
	if err != nil {
		return nil, err
	}
	out := make([][]game.TerrainType, len(columns))
	for x, column := range columns {
		cells, _ := column.([]any)
		out[x] = make([]game.TerrainType, len(cells))
		for y, cell := range cells {
			t, _ := cell.(game.TerrainType)
			out[x][y] = t
			c.terrain.Add(game.Vector2{X: int32(x), Y: int32(y)}, t)
		}
	}
	return out, nil
}

// GetTerrain returns the terrain of one tile.
func (c *GameClient) GetTerrain(ctx context.Context, pos game.Vector2) (game.TerrainType, error) {
	if t, ok := c.terrain.Get(pos); ok {
		return t, nil
	}
	t, err := call[game.TerrainType](ctx, c, command.GetTerrain, pos)
	if err != nil {
		return 0, err
	}
	c.terrain.Add(pos, t)
	return t, nil
}

// GetScores returns the player's (owned) or the opponent's score.
func (c *GameClient) GetScores(ctx context.Context, owned bool) (int, error) {
	return callInt(ctx, c, command.GetScores, owned)
}

// GetMoney returns the player's (owned) or the opponent's money.
func (c *GameClient) GetMoney(ctx context.Context, owned bool) (int, error) {
	return callInt(ctx, c, command.GetMoney, owned)
}

// GetIncome returns the player's (owned) or the opponent's income.
func (c *GameClient) GetIncome(ctx context.Context, owned bool) (int, error) {
	return callInt(ctx, c, command.GetIncome, owned)
}

// GetCurrentWave returns the wave number.
func (c *GameClient) GetCurrentWave(ctx context.Context) (int, error) {
	return callInt(ctx, c, command.GetCurrentWave)
}

// GetRemainTime returns the seconds left in the match.
func (c *GameClient) GetRemainTime(ctx context.Context) (float64, error) {
	return call[float64](ctx, c, command.GetRemainTime)
}

// GetTimeUntilNextWave returns the seconds until the next wave.
func (c *GameClient) GetTimeUntilNextWave(ctx context.Context) (float64, error) {
	return call[float64](ctx, c, command.GetTimeUntilNextWave)
}

// GetSystemPath returns the path enemies take on the player's map.
func (c *GameClient) GetSystemPath(ctx context.Context, fly bool) ([]game.Vector2, error) {
	v, err := call[[]any](ctx, c, command.GetSystemPath, fly)
	if err != nil {
		return nil, err
	}
	return listOf[game.Vector2](v), nil
}

// GetOpponentPath returns the path enemies take on the opponent's map.
func (c *GameClient) GetOpponentPath(ctx context.Context, fly bool) ([]game.Vector2, error) {
	v, err := call[[]any](ctx, c, command.GetOpponentPath, fly)
	if err != nil {
		return nil, err
	}
	return listOf[game.Vector2](v), nil
}

// PlaceTower builds a tower, or upgrades the one at coord. level is "1",
// "2a", "2b", "3a" or "3b".
func (c *GameClient) PlaceTower(ctx context.Context, t game.TowerType, level string, coord game.Vector2) error {
	return exec(ctx, c, command.PlaceTower, t, level, coord)
}

// GetAllTowers lists the player's (owned) or the opponent's towers.
func (c *GameClient) GetAllTowers(ctx context.Context, owned bool) ([]*game.Tower, error) {
	v, err := call[[]any](ctx, c, command.GetAllTowers, owned)
	if err != nil {
		return nil, err
	}
	return records[game.Tower](v), nil
}

// GetTower returns the tower at coord, or nil if the tile is empty.
func (c *GameClient) GetTower(ctx context.Context, owned bool, coord game.Vector2) (*game.Tower, error) {
	return call[*game.Tower](ctx, c, command.GetTower, owned, coord)
}

// SellTower sells the tower at coord.
func (c *GameClient) SellTower(ctx context.Context, coord game.Vector2) error {
	return exec(ctx, c, command.SellTower, coord)
}

// SetStrategy changes which enemy the tower at coord aims at.
func (c *GameClient) SetStrategy(ctx context.Context, coord game.Vector2, strategy game.TargetStrategy) error {
	return exec(ctx, c, command.SetStrategy, coord, strategy)
}

// SpawnUnit sends an enemy to the opponent's map.
func (c *GameClient) SpawnUnit(ctx context.Context, t game.EnemyType) error {
	return exec(ctx, c, command.SpawnUnit, t)
}

// GetUnitCooldown returns the seconds until t can be spawned again.
func (c *GameClient) GetUnitCooldown(ctx context.Context, t game.EnemyType) (float64, error) {
	return call[float64](ctx, c, command.GetUnitCooldown, t)
}

// GetAllEnemies lists the enemies on the player's (owned) or the opponent's map.
func (c *GameClient) GetAllEnemies(ctx context.Context, owned bool) ([]*game.Enemy, error) {
	v, err := call[[]any](ctx, c, command.GetAllEnemies, owned)
	if err != nil {
		return nil, err
	}
	return records[game.Enemy](v), nil
}

// CastSpell casts t. The position defaults to (0, 0) for spells that take
// no target.
func (c *GameClient) CastSpell(ctx context.Context, t game.SpellType, position ...game.Vector2) error {
	args := []any{t}
	if len(position) > 0 {
		args = append(args, position[0])
	}
	return exec(ctx, c, command.CastSpell, args...)
}

// GetSpellCooldown returns the seconds until t can be cast again.
func (c *GameClient) GetSpellCooldown(ctx context.Context, owned bool, t game.SpellType) (float64, error) {
	return call[float64](ctx, c, command.GetSpellCooldown, owned, t)
}

// SendChat posts a chat message.
func (c *GameClient) SendChat(ctx context.Context, msg string) error {
	return exec(ctx, c, command.SendChat, msg)
}

// GetChatHistory returns the latest chat lines, oldest first. num defaults
// to command.DefaultChatHistory.
func (c *GameClient) GetChatHistory(ctx context.Context, num ...int) ([]game.ChatMessage, error) {
	var args []any
	if len(num) > 0 {
		args = append(args, num[0])
	}
	v, err := call[[]any](ctx, c, command.GetChatHistory, args...)
	if err != nil {
		return nil, err
	}
	out := make([]game.ChatMessage, 0, len(v))
	for _, item := range v {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		src, _ := pair[0].(game.ChatSource)
		text, _ := pair[1].(string)
		out = append(out, game.ChatMessage{Source: src, Text: text})
	}
	return out, nil
}

// SetChatNameColor sets the chat name color, e.g. "ff0000".
func (c *GameClient) SetChatNameColor(ctx context.Context, color string) error {
	return exec(ctx, c, command.SetChatNameColor, color)
}

// Pixelcat returns the game's ascii cat.
func (c *GameClient) Pixelcat(ctx context.Context) (string, error) {
	return call[string](ctx, c, command.Pixelcat)
}

// GetDevs returns the names of the game developers.
func (c *GameClient) GetDevs(ctx context.Context) ([]string, error) {
	v, err := call[[]any](ctx, c, command.GetDevs)
	if err != nil {
		return nil, err
	}
	return listOf[string](v), nil
}

// SetName sets the player's display name.
func (c *GameClient) SetName(ctx context.Context, name string) error {
	return exec(ctx, c, command.SetName, name)
}

// Snapshot is a point-in-time summary of the match.
type Snapshot struct {
	Status        game.GameStatus `json:"status"`
	Wave          int             `json:"wave"`
	RemainTime    float64         `json:"remain_time"`
	Money         int             `json:"money"`
	OpponentMoney int             `json:"opponent_money"`
	Income        int             `json:"income"`
	Score         int             `json:"score"`
	OpponentScore int             `json:"opponent_score"`
	TakenAt       time.Time       `json:"taken_at"`
}

// Snapshot reads the headline numbers of the match in one pass.
func (c *GameClient) Snapshot(ctx context.Context) (*Snapshot, error) {
	s := &Snapshot{}
	var err error
	if s.Status, err = c.GetGameStatus(ctx); err != nil {
		return nil, err
	}
	if s.Wave, err = c.GetCurrentWave(ctx); err != nil {
		return nil, err
	}
	if s.RemainTime, err = c.GetRemainTime(ctx); err != nil {
		return nil, err
	}
	if s.Money, err = c.GetMoney(ctx, true); err != nil {
		return nil, err
	}
	if s.OpponentMoney, err = c.GetMoney(ctx, false); err != nil {
		return nil, err
	}
	if s.Income, err = c.GetIncome(ctx, true); err != nil {
		return nil, err
	}
	if s.Score, err = c.GetScores(ctx, true); err != nil {
		return nil, err
	}
	if s.OpponentScore, err = c.GetScores(ctx, false); err != nil {
		return nil, err
	}
	s.TakenAt = time.Now()
	return s, nil
}
