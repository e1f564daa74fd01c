package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/energizer-project/towerlink/internal/client"
	"github.com/energizer-project/towerlink/internal/command"
	"github.com/energizer-project/towerlink/internal/config"
	"github.com/energizer-project/towerlink/internal/db"
	"github.com/energizer-project/towerlink/internal/dispatch"
	"github.com/energizer-project/towerlink/internal/game"
	"github.com/energizer-project/towerlink/internal/protocol"
	"github.com/energizer-project/towerlink/internal/scheduler"
)

type stubInvoker struct {
	result any
	err    error
	desc   *command.Descriptor
	args   []any
}

func (s *stubInvoker) Invoke(ctx context.Context, desc *command.Descriptor, args ...any) (any, error) {
	s.desc = desc
	s.args = args
	return s.result, s.err
}

func (s *stubInvoker) SessionID() string    { return "session-1" }
func (s *stubInvoker) LastRequestID() int64 { return 42 }

type stubJournal struct {
	limit int
}

func (j *stubJournal) Recent(ctx context.Context, limit int) ([]db.Entry, error) {
	j.limit = limit
	return []db.Entry{{ID: 1, Command: "GET_MONEY", Outcome: "delivered"}}, nil
}

func (j *stubJournal) Stats(ctx context.Context) (*db.Stats, error) {
	return &db.Stats{Total: 1, ByOutcome: map[string]int{"delivered": 1}}, nil
}

type stubPoller struct {
	snap *client.Snapshot
}

func (p *stubPoller) Latest() *client.Snapshot   { return p.snap }
func (p *stubPoller) Stats() scheduler.PollStats { return scheduler.PollStats{Polls: 3} }

func newTestServer(cfg config.APIConfig, deps Deps) *Server {
	return NewServer(cfg, "test", deps, false)
}

func do(t *testing.T, s *Server, method, path, body string, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestPing(t *testing.T) {
	s := newTestServer(config.APIConfig{}, Deps{})
	rec, body := do(t, s, http.MethodGet, "/api/public/ping", "")
	if rec.Code != http.StatusOK || body["service"] != "towerlink" || body["version"] != "test" {
		t.Fatalf("unexpected ping response %d %v", rec.Code, body)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestRequireToken(t *testing.T) {
	s := newTestServer(config.APIConfig{AuthToken: "s3cret"}, Deps{Invoker: &stubInvoker{}})

	if rec, _ := do(t, s, http.MethodGet, "/api/status", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: got %d", rec.Code)
	}
	if rec, _ := do(t, s, http.MethodGet, "/api/status", "", "Authorization", "Bearer nope"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: got %d", rec.Code)
	}
	rec, body := do(t, s, http.MethodGet, "/api/status", "", "Authorization", "Bearer s3cret")
	if rec.Code != http.StatusOK || body["session_id"] != "session-1" {
		t.Errorf("valid token: got %d %v", rec.Code, body)
	}
	if rec, _ := do(t, s, http.MethodGet, "/api/public/ping", ""); rec.Code != http.StatusOK {
		t.Errorf("public routes need no token, got %d", rec.Code)
	}
}

func TestListCommands(t *testing.T) {
	s := newTestServer(config.APIConfig{}, Deps{})
	rec, body := do(t, s, http.MethodGet, "/api/commands", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	if int(body["total"].(float64)) != len(command.Catalog()) {
		t.Errorf("expected %d commands, got %v", len(command.Catalog()), body["total"])
	}
}

func TestCallCommand(t *testing.T) {
	inv := &stubInvoker{result: int64(250)}
	s := newTestServer(config.APIConfig{}, Deps{Invoker: inv})

	rec, body := do(t, s, http.MethodPost, "/api/commands/get_money", "[false]")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d %v", rec.Code, body)
	}
	if inv.desc.ID != command.GetMoney || len(inv.args) != 1 || inv.args[0] != false {
		t.Errorf("unexpected invocation %v %v", inv.desc, inv.args)
	}
	if body["result"].(float64) != 250 || body["outcome"] != "delivered" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestCallCommandEnumAndVector(t *testing.T) {
	inv := &stubInvoker{}
	s := newTestServer(config.APIConfig{}, Deps{Invoker: inv})

	rec, body := do(t, s, http.MethodPost, "/api/commands/CAST_SPELL", `["POISON", {"x": 3, "y": 4}]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d %v", rec.Code, body)
	}
	if inv.args[0] != int64(game.SpellPoison) || inv.args[1] != protocol.Vec2(3, 4) {
		t.Errorf("unexpected args %#v", inv.args)
	}
}

func TestCallCommandErrors(t *testing.T) {
	rejection := &dispatch.CommandError{
		Command:   "SELL_TOWER",
		CommandID: command.SellTower,
		Code:      protocol.StatusNotFound,
		Kind:      dispatch.KindRejection,
		Message:   "no tower there",
	}
	timeout := &dispatch.CommandError{
		Command:   "SELL_TOWER",
		CommandID: command.SellTower,
		Code:      protocol.StatusClientErr,
		Kind:      dispatch.KindRetryExhausted,
		Message:   "command SELL_TOWER timed out, retry limit 3 exceeded",
	}

	tests := []struct {
		name   string
		path   string
		body   string
		err    error
		code   int
		status string
	}{
		{"unknown command", "/api/commands/NOPE", "[]", nil, http.StatusNotFound, ""},
		{"not an array", "/api/commands/SELL_TOWER", `{"x":1}`, nil, http.StatusBadRequest, "ILLFORMED_COMMAND"},
		{"bad argument", "/api/commands/SELL_TOWER", `["here"]`, nil, http.StatusBadRequest, "ILLEGAL_ARGUMENT"},
		{"rejected", "/api/commands/SELL_TOWER", `[[1,2]]`, rejection, http.StatusUnprocessableEntity, "NOT_FOUND"},
		{"timed out", "/api/commands/SELL_TOWER", `[[1,2]]`, timeout, http.StatusGatewayTimeout, "CLIENT_ERR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(config.APIConfig{}, Deps{Invoker: &stubInvoker{err: tt.err}})
			rec, body := do(t, s, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d %v", tt.code, rec.Code, body)
			}
			if tt.status != "" && body["status"] != tt.status {
				t.Errorf("expected status %s, got %v", tt.status, body["status"])
			}
		})
	}
}

func TestSnapshotAndJournal(t *testing.T) {
	journal := &stubJournal{}
	poller := &stubPoller{}
	s := newTestServer(config.APIConfig{}, Deps{Journal: journal, Poller: poller})

	if rec, _ := do(t, s, http.MethodGet, "/api/snapshot", ""); rec.Code != http.StatusNotFound {
		t.Errorf("snapshot before first poll: got %d", rec.Code)
	}
	poller.snap = &client.Snapshot{Status: game.GameStatusRunning, Wave: 4, TakenAt: time.Now()}
	rec, body := do(t, s, http.MethodGet, "/api/snapshot", "")
	if rec.Code != http.StatusOK || body["wave"].(float64) != 4 || body["status"] != "RUNNING" {
		t.Errorf("unexpected snapshot %d %v", rec.Code, body)
	}

	rec, body = do(t, s, http.MethodGet, "/api/journal?limit=5000", "")
	if rec.Code != http.StatusOK || journal.limit != maxJournalLimit || body["count"].(float64) != 1 {
		t.Errorf("unexpected journal response %d %v (limit %d)", rec.Code, body, journal.limit)
	}
	if rec, _ := do(t, s, http.MethodGet, "/api/journal?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: got %d", rec.Code)
	}
	rec, body = do(t, s, http.MethodGet, "/api/journal/stats", "")
	if rec.Code != http.StatusOK || body["total"].(float64) != 1 {
		t.Errorf("unexpected stats %d %v", rec.Code, body)
	}

	bare := newTestServer(config.APIConfig{}, Deps{})
	if rec, _ := do(t, bare, http.MethodGet, "/api/journal", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled journal: got %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()
	if !rl.Allow("a", now) || !rl.Allow("a", now) {
		t.Fatal("burst of 2 should be allowed")
	}
	if rl.Allow("a", now) {
		t.Fatal("third request in the same instant should be limited")
	}
	if !rl.Allow("b", now) {
		t.Fatal("buckets are per client")
	}
	if !rl.Allow("a", now.Add(time.Second)) {
		t.Fatal("bucket should refill over time")
	}
	if !NewRateLimiter(0).Allow("a", now) {
		t.Fatal("zero rate disables limiting")
	}
}
