package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/energizer-project/towerlink/internal/command"
	"github.com/energizer-project/towerlink/internal/dispatch"
	"github.com/energizer-project/towerlink/internal/game"
	"github.com/energizer-project/towerlink/internal/network"
	"github.com/energizer-project/towerlink/internal/protocol"
)

type recordedCall struct {
	id   command.ID
	args []any
}

// stubInvoker answers from a table keyed by command id.
type stubInvoker struct {
	calls   []recordedCall
	results map[command.ID]any
	err     error
}

func (s *stubInvoker) Invoke(ctx context.Context, desc *command.Descriptor, args ...any) (any, error) {
	s.calls = append(s.calls, recordedCall{id: desc.ID, args: args})
	if s.err != nil {
		return nil, s.err
	}
	return s.results[desc.ID], nil
}

func newStubClient(t *testing.T, results map[command.ID]any) (*GameClient, *stubInvoker) {
	t.Helper()
	inv := &stubInvoker{results: results}
	c, err := New(inv, 16)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, inv
}

func TestTerrainIsCached(t *testing.T) {
	c, inv := newStubClient(t, map[command.ID]any{
		command.GetTerrain: game.TerrainRoad,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := c.GetTerrain(ctx, protocol.Vec2(5, 5))
		if err != nil || got != game.TerrainRoad {
			t.Fatalf("unexpected terrain %v, %v", got, err)
		}
	}
	if len(inv.calls) != 1 {
		t.Fatalf("expected one GET_TERRAIN call, got %d", len(inv.calls))
	}

	c.ResetTerrainCache()
	c.GetTerrain(ctx, protocol.Vec2(5, 5))
	if len(inv.calls) != 2 {
		t.Fatal("reset should drop cached tiles")
	}
}

func TestAllTerrainIsIndexedXY(t *testing.T) {
	// terrain[x][y]: column 0 is EMPTY, OBSTACLE; column 1 is ROAD, EMPTY.
	c, inv := newStubClient(t, map[command.ID]any{
		command.GetAllTerrain: []any{
			[]any{game.TerrainEmpty, game.TerrainObstacle},
			[]any{game.TerrainRoad, game.TerrainEmpty},
		},
	})
	ctx := context.Background()

	all, err := c.GetAllTerrain(ctx)
	if err != nil || len(all) != 2 || all[0][1] != game.TerrainObstacle || all[1][0] != game.TerrainRoad {
		t.Fatalf("unexpected map %v, %v", all, err)
	}

	tiles := map[protocol.Vector2i]game.TerrainType{
		protocol.Vec2(0, 0): game.TerrainEmpty,
		protocol.Vec2(0, 1): game.TerrainObstacle,
		protocol.Vec2(1, 0): game.TerrainRoad,
		protocol.Vec2(1, 1): game.TerrainEmpty,
	}
	for pos, want := range tiles {
		if got, err := c.GetTerrain(ctx, pos); err != nil || got != want {
			t.Errorf("tile %s: got %v, %v; want %v", pos, got, err, want)
		}
	}
	if len(inv.calls) != 1 {
		t.Fatalf("cached tiles should not hit the server, got %d calls", len(inv.calls))
	}
}

func TestDefaultedArguments(t *testing.T) {
	c, inv := newStubClient(t, map[command.ID]any{
		command.GetChatHistory: []any{
			[]any{game.ChatSystem, "welcome"},
			[]any{game.ChatPlayerOther, "glhf"},
		},
	})
	ctx := context.Background()

	if err := c.CastSpell(ctx, game.SpellDoubleIncome); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if len(inv.calls[0].args) != 1 {
		t.Fatalf("default position should be left to the descriptor, got %v", inv.calls[0].args)
	}

	lines, err := c.GetChatHistory(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(lines) != 2 || lines[1].Source != game.ChatPlayerOther || lines[1].Text != "glhf" {
		t.Fatalf("unexpected history %+v", lines)
	}

	c.GetChatHistory(ctx, 3)
	if inv.calls[2].args[0] != 3 {
		t.Fatalf("explicit count not passed, got %v", inv.calls[2].args)
	}
}

func TestRecordListsSkipEmptyRecords(t *testing.T) {
	tower := &game.Tower{Type: game.TowerShyGuy, LevelA: 1, LevelB: 1}
	c, _ := newStubClient(t, map[command.ID]any{
		command.GetAllTowers: []any{tower, (*game.Tower)(nil)},
		command.GetDevs:      []any{"alice", "bob"},
	})

	towers, err := c.GetAllTowers(context.Background(), true)
	if err != nil || len(towers) != 1 || towers[0] != tower {
		t.Fatalf("unexpected towers %v, %v", towers, err)
	}
	devs, err := c.GetDevs(context.Background())
	if err != nil || len(devs) != 2 {
		t.Fatalf("unexpected devs %v, %v", devs, err)
	}
}

func TestErrorsPassThrough(t *testing.T) {
	c, inv := newStubClient(t, nil)
	inv.err = errors.New("boom")
	if _, err := c.GetMoney(context.Background(), true); err == nil || err.Error() != "boom" {
		t.Fatalf("expected invoker error, got %v", err)
	}
	if _, err := c.Call(context.Background(), "NO_SUCH_COMMAND"); err == nil {
		t.Fatal("unknown command name should fail")
	}
}

// fakeGame is a websocket game server that answers every command with
// handler's payload.
func fakeGame(t *testing.T, handler func(commandID int64, args []any) []any) network.DialOptions {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		ws.WriteMessage(websocket.TextMessage, []byte(network.HandshakeOK))

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			v, err := protocol.Unmarshal(data)
			if err != nil {
				return
			}
			req := v.([]any)
			reply := append([]any{req[0]}, handler(req[1].(int64), req[2:])...)
			out, err := protocol.Marshal(reply)
			if err != nil {
				return
			}
			ws.WriteMessage(websocket.BinaryMessage, out)
		}
	}))
	t.Cleanup(srv.Close)

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	return network.DialOptions{Host: u.Hostname(), Port: port, Token: "deadbeef"}
}

func TestEndToEnd(t *testing.T) {
	opts := fakeGame(t, func(commandID int64, args []any) []any {
		switch command.ID(commandID) {
		case command.GetGameStatus:
			return []any{int64(200), int64(game.GameStatusRunning)}
		case command.GetTower:
			pos := protocol.NewDictionary()
			pos.Set("x", int64(args[1].(protocol.Vector2i).X))
			pos.Set("y", int64(args[1].(protocol.Vector2i).Y))
			d := protocol.NewDictionary()
			d.Set("type", int64(game.TowerDonkeyKong))
			d.Set("position", pos)
			d.Set("level_a", int64(3))
			d.Set("level_b", int64(1))
			d.Set("aim", true)
			d.Set("anti_air", false)
			d.Set("reload", int64(90))
			d.Set("range", int64(2))
			d.Set("damage", int64(40))
			d.Set("bullet_effect", "knockback")
			return []any{int64(200), d}
		case command.SpawnUnit:
			return []any{int64(403), "not enough money"}
		case command.GetRemainTime:
			return []any{int64(200), 0.1}
		default:
			return []any{int64(404)}
		}
	})

	conn, err := network.Dial(context.Background(), opts)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	c, err := New(dispatch.New(conn, dispatch.Options{Timeout: time.Second}), 0)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	status, err := c.GetGameStatus(ctx)
	if err != nil || status != game.GameStatusRunning {
		t.Fatalf("unexpected status %v, %v", status, err)
	}

	tower, err := c.GetTower(ctx, true, protocol.Vec2(4, 2))
	if err != nil {
		t.Fatalf("get tower: %v", err)
	}
	if tower.Level() != "3a" || tower.Position != protocol.Vec2(4, 2) {
		t.Fatalf("unexpected tower %v", tower)
	}

	remain, err := c.GetRemainTime(ctx)
	if err != nil || remain != 0.1 {
		t.Fatalf("unexpected remaining time %v, %v", remain, err)
	}

	err = c.SpawnUnit(ctx, game.EnemyGoomba)
	var ce *dispatch.CommandError
	if !errors.As(err, &ce) || ce.Code != protocol.StatusCommandErr || ce.Message != "not enough money" {
		t.Fatalf("expected COMMAND_ERR rejection, got %v", err)
	}

	err = c.SellTower(ctx, protocol.Vec2(0, 0))
	if !errors.As(err, &ce) || ce.Message != "(empty or corrupted error message)" {
		t.Fatalf("expected NOT_FOUND placeholder, got %v", err)
	}
}
