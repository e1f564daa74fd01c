package command

import (
	"errors"
	"testing"

	"github.com/energizer-project/towerlink/internal/game"
	"github.com/energizer-project/towerlink/internal/protocol"
)

func TestCatalogIsComplete(t *testing.T) {
	all := Catalog()
	if len(all) != 27 {
		t.Fatalf("expected 27 commands, got %d", len(all))
	}
	seen := make(map[ID]bool)
	for i, d := range all {
		if seen[d.ID] {
			t.Fatalf("duplicate id %d", d.ID)
		}
		seen[d.ID] = true
		if i > 0 && all[i-1].ID >= d.ID {
			t.Fatalf("catalog not ordered at %s", d.Name)
		}
		if got, ok := LookupName(d.Name); !ok || got != d {
			t.Fatalf("name lookup failed for %s", d.Name)
		}
	}
	if d, ok := LookupName("get-all-towers"); !ok || d.ID != GetAllTowers {
		t.Fatal("lookup should ignore case and separator")
	}
	if _, ok := Lookup(999); ok {
		t.Fatal("999 is not a command")
	}
}

func TestSignature(t *testing.T) {
	got := MustLookup(GetChatHistory).Signature()
	want := "GET_CHAT_HISTORY(num int = 15) -> list[tuple[ChatSource, string]]"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := MustLookup(SellTower).Signature(); got != "SELL_TOWER(coord Vector2) -> none" {
		t.Fatalf("unexpected signature %q", got)
	}
}

func argError(t *testing.T, err error) *ArgError {
	t.Helper()
	var ae *ArgError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *ArgError, got %v", err)
	}
	return ae
}

func TestBindArity(t *testing.T) {
	d := MustLookup(GetMoney)

	_, err := d.Bind([]any{true, false})
	ae := argError(t, err)
	if ae.Code != protocol.StatusIllformedCommand || ae.Message != "GET_MONEY expected 1 arguments, got 2" {
		t.Fatalf("unexpected error %+v", ae)
	}

	_, err = d.Bind(nil)
	ae = argError(t, err)
	if ae.Code != protocol.StatusIllformedCommand || ae.Message != "GET_MONEY expected argument owned" {
		t.Fatalf("unexpected error %+v", ae)
	}
}

func TestBindTypeMismatch(t *testing.T) {
	d := MustLookup(PlaceTower)

	_, err := d.Bind([]any{game.TowerFort, 1, protocol.Vec2(1, 1)})
	ae := argError(t, err)
	if ae.Code != protocol.StatusIllegalArgument || ae.Message != "type mismatch at argument 1 of PLACE_TOWER" {
		t.Fatalf("unexpected error %+v", ae)
	}

	// A different enum type is rejected even when the value is in range.
	_, err = d.Bind([]any{game.SpellTeleport, "1", protocol.Vec2(1, 1)})
	if ae := argError(t, err); ae.Code != protocol.StatusIllegalArgument {
		t.Fatalf("expected ILLEGAL_ARGUMENT, got %+v", ae)
	}

	// Bare integers must name a member.
	_, err = d.Bind([]any{0, "1", protocol.Vec2(1, 1)})
	if ae := argError(t, err); ae.Code != protocol.StatusIllegalArgument {
		t.Fatalf("expected ILLEGAL_ARGUMENT, got %+v", ae)
	}
}

func TestBindNormalizesAndDefaults(t *testing.T) {
	args, err := MustLookup(PlaceTower).Bind([]any{game.TowerFort, "2a", protocol.Vec2(3, 4)})
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if !protocol.Equal(args, []any{int64(4), "2a", protocol.Vec2(3, 4)}) {
		t.Fatalf("unexpected args %#v", args)
	}

	args, err = MustLookup(CastSpell).Bind([]any{game.SpellPoison})
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if !protocol.Equal(args, []any{int64(0), protocol.Vec2(0, 0)}) {
		t.Fatalf("unexpected args %#v", args)
	}

	args, err = MustLookup(GetChatHistory).Bind(nil)
	if err != nil || !protocol.Equal(args, []any{int64(15)}) {
		t.Fatalf("unexpected args %#v, %v", args, err)
	}
}

func TestParseArgs(t *testing.T) {
	args, err := MustLookup(PlaceTower).ParseArgs([]string{"ice_luigi", "2b", "5", "6"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	bound, err := MustLookup(PlaceTower).Bind(args)
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if !protocol.Equal(bound, []any{int64(2), "2b", protocol.Vec2(5, 6)}) {
		t.Fatalf("unexpected args %#v", bound)
	}

	args, err = MustLookup(SetStrategy).ParseArgs([]string{"1,2", "close"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !protocol.Equal(args, []any{protocol.Vec2(1, 2), int64(2)}) {
		t.Fatalf("unexpected args %#v", args)
	}

	args, err = MustLookup(SendChat).ParseArgs([]string{"good", "luck", "all"})
	if err != nil || len(args) != 1 || args[0] != "good luck all" {
		t.Fatalf("unexpected chat args %#v, %v", args, err)
	}

	args, err = MustLookup(GetMoney).ParseArgs([]string{"opp"})
	if err != nil || args[0] != false {
		t.Fatalf("unexpected money args %#v, %v", args, err)
	}

	if _, err := MustLookup(SpawnUnit).ParseArgs([]string{"bowser"}); argError(t, err).Code != protocol.StatusIllegalArgument {
		t.Fatal("unknown enemy should be an illegal argument")
	}
	if _, err := MustLookup(GetCurrentWave).ParseArgs([]string{"1"}); argError(t, err).Code != protocol.StatusIllformedCommand {
		t.Fatal("extra words should be ill-formed")
	}
}

func TestArgsFromJSON(t *testing.T) {
	d := MustLookup(CastSpell)
	args, err := d.ArgsFromJSON([]byte(`["teleport", {"x": 2, "y": 9}]`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	bound, err := d.Bind(args)
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if !protocol.Equal(bound, []any{int64(2), protocol.Vec2(2, 9)}) {
		t.Fatalf("unexpected args %#v", bound)
	}

	args, err = d.ArgsFromJSON([]byte(`[1, [3, 4]]`))
	if err != nil || !protocol.Equal(args, []any{int64(1), protocol.Vec2(3, 4)}) {
		t.Fatalf("unexpected args %#v, %v", args, err)
	}

	if args, err := MustLookup(GetDevs).ArgsFromJSON(nil); err != nil || len(args) != 0 {
		t.Fatalf("empty body should give no args, got %#v, %v", args, err)
	}
	if _, err := d.ArgsFromJSON([]byte(`{"type": 1}`)); argError(t, err).Code != protocol.StatusIllformedCommand {
		t.Fatal("object body should be ill-formed")
	}
	if _, err := d.ArgsFromJSON([]byte(`[true]`)); argError(t, err).Code != protocol.StatusIllegalArgument {
		t.Fatal("bool spell should be an illegal argument")
	}
}
