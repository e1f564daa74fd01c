package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/energizer-project/towerlink/internal/command"
	"github.com/energizer-project/towerlink/internal/game"
	"github.com/energizer-project/towerlink/internal/protocol"
)

type sentRequest struct {
	id      int64
	command int64
	args    []any
	at      time.Time
}

// fakeTransport decodes each request and queues the replies produced by
// respond. A nil respond means the server never answers.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []sentRequest
	replies chan []byte
	respond func(req sentRequest, n int) [][]any
	sendErr error
}

func newFakeTransport(respond func(req sentRequest, n int) [][]any) *fakeTransport {
	return &fakeTransport{replies: make(chan []byte, 64), respond: respond}
}

func (f *fakeTransport) Send(ctx context.Context, data []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	v, err := protocol.Unmarshal(data)
	if err != nil {
		return err
	}
	list := v.([]any)
	req := sentRequest{id: list[0].(int64), command: list[1].(int64), args: list[2:], at: time.Now()}

	f.mu.Lock()
	f.sent = append(f.sent, req)
	n := len(f.sent)
	f.mu.Unlock()

	if f.respond == nil {
		return nil
	}
	for _, reply := range f.respond(req, n) {
		data, err := protocol.Marshal(reply)
		if err != nil {
			return err
		}
		f.replies <- data
	}
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.replies:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) requests() []sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentRequest(nil), f.sent...)
}

func replyOK(payload ...any) func(req sentRequest, n int) [][]any {
	return func(req sentRequest, n int) [][]any {
		return [][]any{append([]any{req.id, int64(protocol.StatusOK)}, payload...)}
	}
}

func newTestDispatcher(tr Transport, reports *[]Report) *Dispatcher {
	return New(tr, Options{
		Timeout: 30 * time.Millisecond,
		Retries: 3,
		OnReport: func(r Report) {
			if reports != nil {
				*reports = append(*reports, r)
			}
		},
	})
}

func commandError(t *testing.T, err error) *CommandError {
	t.Helper()
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CommandError, got %v", err)
	}
	return ce
}

func TestInvokeDelivers(t *testing.T) {
	tr := newFakeTransport(replyOK(int64(150)))
	var reports []Report
	d := newTestDispatcher(tr, &reports)

	v, err := d.Invoke(context.Background(), command.MustLookup(command.GetMoney), true)
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if v != int64(150) {
		t.Fatalf("expected 150, got %#v", v)
	}

	sent := tr.requests()
	if len(sent) != 1 || sent[0].id != 1 || sent[0].command != int64(command.GetMoney) {
		t.Fatalf("unexpected requests %+v", sent)
	}
	if !protocol.Equal(sent[0].args, []any{true}) {
		t.Fatalf("unexpected args %#v", sent[0].args)
	}
	if len(reports) != 1 || reports[0].Outcome != OutcomeDelivered || reports[0].Attempts != 1 || reports[0].Status != protocol.StatusOK {
		t.Fatalf("unexpected report %+v", reports)
	}
	if Classify(err) != OutcomeDelivered {
		t.Fatal("nil error should classify as delivered")
	}
}

func TestRequestIDsAreMonotonic(t *testing.T) {
	tr := newFakeTransport(replyOK(int64(1)))
	d := newTestDispatcher(tr, nil)
	for i := 0; i < 3; i++ {
		if _, err := d.Invoke(context.Background(), command.MustLookup(command.GetCurrentWave)); err != nil {
			t.Fatalf("invoke %d failed: %v", i, err)
		}
	}
	for i, req := range tr.requests() {
		if req.id != int64(i+1) {
			t.Fatalf("request %d has id %d", i, req.id)
		}
	}
	if d.LastRequestID() != 3 {
		t.Fatalf("expected last id 3, got %d", d.LastRequestID())
	}
}

func TestRetryBudgetSendsExactlyN(t *testing.T) {
	tr := newFakeTransport(nil)
	var reports []Report
	d := New(tr, Options{Timeout: 15 * time.Millisecond, Retries: 4, OnReport: func(r Report) { reports = append(reports, r) }})

	_, err := d.Invoke(context.Background(), command.MustLookup(command.GetCurrentWave))
	if !errors.Is(err, ErrRetryLimitExceeded) {
		t.Fatalf("expected retry limit error, got %v", err)
	}
	ce := commandError(t, err)
	if ce.Code != protocol.StatusClientErr || ce.Message != "command GET_CURRENT_WAVE timed out, retry limit 4 exceeded" {
		t.Fatalf("unexpected error %+v", ce)
	}
	if Classify(err) != OutcomeFatal {
		t.Fatal("retry exhaustion should be fatal")
	}

	sent := tr.requests()
	if len(sent) != 4 {
		t.Fatalf("expected exactly 4 sends, got %d", len(sent))
	}
	for i := 1; i < len(sent); i++ {
		if sent[i].id <= sent[i-1].id {
			t.Fatalf("resend reused id %d", sent[i].id)
		}
	}
	if reports[0].Timeouts != 4 {
		t.Fatalf("expected 4 timeouts, got %d", reports[0].Timeouts)
	}
}

func TestRetryBudgetReplenishedPerCall(t *testing.T) {
	tr := newFakeTransport(func(req sentRequest, n int) [][]any {
		// Every other send is answered.
		if n%2 == 1 {
			return nil
		}
		return [][]any{{req.id, int64(200), int64(9)}}
	})
	d := New(tr, Options{Timeout: 15 * time.Millisecond, Retries: 2})

	for i := 0; i < 3; i++ {
		if _, err := d.Invoke(context.Background(), command.MustLookup(command.GetCurrentWave)); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}
	if len(tr.requests()) != 6 {
		t.Fatalf("expected 6 sends, got %d", len(tr.requests()))
	}
}

func TestTooFrequentDoesNotConsumeBudget(t *testing.T) {
	tr := newFakeTransport(func(req sentRequest, n int) [][]any {
		if n <= 3 {
			return [][]any{{req.id, int64(protocol.StatusTooFrequent)}}
		}
		return [][]any{{req.id, int64(200), int64(42)}}
	})
	var reports []Report
	d := New(tr, Options{Timeout: 30 * time.Millisecond, Retries: 1, OnReport: func(r Report) { reports = append(reports, r) }})

	v, err := d.Invoke(context.Background(), command.MustLookup(command.GetScores), false)
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if v != int64(42) {
		t.Fatalf("expected 42, got %#v", v)
	}
	sent := tr.requests()
	if len(sent) != 4 {
		t.Fatalf("expected 4 sends, got %d", len(sent))
	}
	if sent[3].id != 4 {
		t.Fatalf("resends must use fresh ids, last id %d", sent[3].id)
	}
	if reports[0].Resends != 3 || reports[0].Timeouts != 0 {
		t.Fatalf("unexpected report %+v", reports[0])
	}
}

func TestStrayRepliesAreDiscarded(t *testing.T) {
	tr := newFakeTransport(func(req sentRequest, n int) [][]any {
		return [][]any{
			{req.id + 100, int64(200), int64(666)},
			{req.id, int64(200), int64(5)},
		}
	})
	var reports []Report
	d := newTestDispatcher(tr, &reports)

	v, err := d.Invoke(context.Background(), command.MustLookup(command.GetCurrentWave))
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if v != int64(5) {
		t.Fatalf("stray reply was taken as the answer: %#v", v)
	}
	if reports[0].StrayReplies != 1 {
		t.Fatalf("expected 1 stray reply, got %d", reports[0].StrayReplies)
	}
}

func TestStrayReplyOnlyTimesOut(t *testing.T) {
	tr := newFakeTransport(func(req sentRequest, n int) [][]any {
		return [][]any{{req.id + 1, int64(200), int64(1)}}
	})
	d := New(tr, Options{Timeout: 15 * time.Millisecond, Retries: 2})

	_, err := d.Invoke(context.Background(), command.MustLookup(command.GetCurrentWave))
	if !errors.Is(err, ErrRetryLimitExceeded) {
		t.Fatalf("expected retry limit error, got %v", err)
	}
}

func TestBroadcastReplyIsAccepted(t *testing.T) {
	tr := newFakeTransport(func(req sentRequest, n int) [][]any {
		return [][]any{{protocol.BroadcastRequestID, int64(200), int64(7)}}
	})
	d := newTestDispatcher(tr, nil)

	v, err := d.Invoke(context.Background(), command.MustLookup(command.GetCurrentWave))
	if err != nil || v != int64(7) {
		t.Fatalf("expected 7, got %#v, %v", v, err)
	}
}

func TestCommandSpacing(t *testing.T) {
	tr := newFakeTransport(replyOK(int64(1)))
	d := newTestDispatcher(tr, nil)

	for i := 0; i < 5; i++ {
		if _, err := d.Invoke(context.Background(), command.MustLookup(command.GetCurrentWave)); err != nil {
			t.Fatalf("invoke failed: %v", err)
		}
	}
	sent := tr.requests()
	for i := 1; i < len(sent); i++ {
		if gap := sent[i].at.Sub(sent[i-1].at); gap < MinCommandSpacing {
			t.Fatalf("sends %d and %d only %v apart", i-1, i, gap)
		}
	}
}

func TestRejectionIsSurfaced(t *testing.T) {
	cases := []struct {
		payload []any
		want    string
	}{
		{[]any{"not enough money"}, "not enough money"},
		{[]any{""}, emptyErrorMessage},
		{[]any{int64(3)}, emptyErrorMessage},
		{nil, emptyErrorMessage},
	}
	for _, tc := range cases {
		payload := tc.payload
		tr := newFakeTransport(func(req sentRequest, n int) [][]any {
			return [][]any{append([]any{req.id, int64(protocol.StatusCommandErr)}, payload...)}
		})
		d := newTestDispatcher(tr, nil)

		_, err := d.Invoke(context.Background(), command.MustLookup(command.PlaceTower),
			game.TowerFort, "1", protocol.Vec2(2, 3))
		ce := commandError(t, err)
		if ce.Kind != KindRejection || ce.Code != protocol.StatusCommandErr || ce.Message != tc.want {
			t.Fatalf("unexpected error %+v", ce)
		}
		if Classify(err) != OutcomeRejected {
			t.Fatal("rejection should not be fatal")
		}
		if len(tr.requests()) != 1 {
			t.Fatal("rejections must not be retried")
		}
	}

	tr := newFakeTransport(func(req sentRequest, n int) [][]any {
		return [][]any{{req.id, int64(protocol.StatusNotFound), "no tower there"}}
	})
	_, err := newTestDispatcher(tr, nil).Invoke(context.Background(), command.MustLookup(command.SellTower), protocol.Vec2(1, 1))
	want := "API call SELL_TOWER(104) fails with status code NOT_FOUND(404): no tower there"
	if err == nil || err.Error() != want {
		t.Fatalf("got %v, want %q", err, want)
	}
}

func TestGatedPolling(t *testing.T) {
	tr := newFakeTransport(func(req sentRequest, n int) [][]any {
		if n == 1 {
			return [][]any{{req.id, int64(protocol.StatusPaused)}}
		}
		return [][]any{{req.id, int64(200), int64(game.GameStatusRunning)}}
	})
	var reports []Report
	d := New(tr, Options{Timeout: 30 * time.Millisecond, Retries: 1, OnReport: func(r Report) { reports = append(reports, r) }})

	v, err := d.Invoke(context.Background(), command.MustLookup(command.GetGameStatus))
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if v != game.GameStatusRunning {
		t.Fatalf("expected RUNNING, got %#v", v)
	}
	if len(tr.requests()) != 2 || reports[0].GatedPolls != 1 {
		t.Fatalf("expected one poll, got %+v", reports[0])
	}
	if gap := tr.requests()[1].at.Sub(tr.requests()[0].at); gap < GatePollInterval {
		t.Fatalf("poll resent after only %v", gap)
	}
}

func TestGatedPollingIsBounded(t *testing.T) {
	tr := newFakeTransport(func(req sentRequest, n int) [][]any {
		return [][]any{{req.id, int64(protocol.StatusNotStarted)}}
	})
	d := New(tr, Options{Timeout: 30 * time.Millisecond, MaxGatedPolls: 2})

	_, err := d.Invoke(context.Background(), command.MustLookup(command.GetCurrentWave))
	if !errors.Is(err, ErrGatePollLimit) {
		t.Fatalf("expected gate poll limit, got %v", err)
	}
	if commandError(t, err).Code != protocol.StatusNotStarted || !IsFatal(err) {
		t.Fatalf("unexpected error %v", err)
	}
	if len(tr.requests()) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(tr.requests()))
	}
}

func TestValidationFailsWithoutSending(t *testing.T) {
	tr := newFakeTransport(replyOK())
	var reports []Report
	d := newTestDispatcher(tr, &reports)

	_, err := d.Invoke(context.Background(), command.MustLookup(command.PlaceTower), game.TowerFort, "1")
	ce := commandError(t, err)
	if ce.Kind != KindValidation || ce.Code != protocol.StatusIllformedCommand {
		t.Fatalf("unexpected error %+v", ce)
	}

	_, err = d.Invoke(context.Background(), command.MustLookup(command.GetMoney), "yes")
	ce = commandError(t, err)
	if ce.Code != protocol.StatusIllegalArgument || ce.Message != "type mismatch at argument 0 of GET_MONEY" {
		t.Fatalf("unexpected error %+v", ce)
	}

	if len(tr.requests()) != 0 {
		t.Fatal("validation failures must not touch the transport")
	}
	if reports[1].Outcome != OutcomeRejected || reports[1].Attempts != 0 {
		t.Fatalf("unexpected report %+v", reports[1])
	}
}

func TestProtocolViolations(t *testing.T) {
	cases := map[string]func(req sentRequest, n int) [][]any{
		"unknown status": func(req sentRequest, n int) [][]any {
			return [][]any{{req.id, int64(299)}}
		},
		"too short": func(req sentRequest, n int) [][]any {
			return [][]any{{req.id}}
		},
		"payload for a command without return value": func(req sentRequest, n int) [][]any {
			return [][]any{{req.id, int64(200), "surprise"}}
		},
	}
	for name, respond := range cases {
		tr := newFakeTransport(respond)
		_, err := newTestDispatcher(tr, nil).Invoke(context.Background(), command.MustLookup(command.SendChat), "gg")
		if !errors.Is(err, ErrProtocolViolation) {
			t.Errorf("%s: expected protocol violation, got %v", name, err)
			continue
		}
		if ce := commandError(t, err); ce.Code != protocol.StatusInternalErr || Classify(err) != OutcomeRejected {
			t.Errorf("%s: unexpected error %+v", name, ce)
		}
	}
}

func TestTransportFailureIsFatal(t *testing.T) {
	tr := newFakeTransport(nil)
	tr.sendErr = errors.New("connection reset")
	_, err := newTestDispatcher(tr, nil).Invoke(context.Background(), command.MustLookup(command.GetCurrentWave))
	if !errors.Is(err, ErrTransportClosed) || !IsFatal(err) {
		t.Fatalf("expected fatal transport error, got %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	tr := newFakeTransport(nil)
	d := New(tr, Options{Timeout: time.Second, Retries: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.Invoke(ctx, command.MustLookup(command.GetCurrentWave))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context error, got %v", err)
	}
	if commandError(t, err).Kind != KindCanceled || !IsFatal(err) {
		t.Fatalf("unexpected error %v", err)
	}
	if len(tr.requests()) != 1 {
		t.Fatalf("expected a single send, got %d", len(tr.requests()))
	}
}
