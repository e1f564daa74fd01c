package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/energizer-project/towerlink/internal/command"
	"github.com/energizer-project/towerlink/internal/dispatch"
	"github.com/energizer-project/towerlink/internal/events"
	"github.com/energizer-project/towerlink/internal/protocol"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func report(name string, outcome dispatch.Outcome, status protocol.StatusCode, timeouts int) dispatch.Report {
	return dispatch.Report{
		SessionID:     "session-1",
		Command:       name,
		CommandID:     command.GetMoney,
		Outcome:       outcome,
		OutcomeName:   outcome.String(),
		Status:        status,
		Attempts:      timeouts + 1,
		Timeouts:      timeouts,
		LastRequestID: 7,
		StartedAt:     time.Unix(1700000000, 0),
		Duration:      1500 * time.Microsecond,
	}
}

func TestRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	if _, err := j.Record(ctx, report("GET_MONEY", dispatch.OutcomeDelivered, protocol.StatusOK, 0)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := j.Record(ctx, report("SELL_TOWER", dispatch.OutcomeRejected, protocol.StatusNotFound, 1)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	latest := entries[0]
	if latest.Command != "SELL_TOWER" || latest.Outcome != "rejected" || latest.StatusName != "NOT_FOUND" {
		t.Errorf("unexpected newest entry: %+v", latest)
	}
	if latest.DurationMS != 1.5 || latest.Attempts != 2 || latest.RequestID != 7 {
		t.Errorf("unexpected counters: %+v", latest)
	}
	if !latest.StartedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("started_at not preserved: %v", latest.StartedAt)
	}
}

func TestStats(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for _, r := range []dispatch.Report{
		report("GET_MONEY", dispatch.OutcomeDelivered, protocol.StatusOK, 0),
		report("GET_MONEY", dispatch.OutcomeDelivered, protocol.StatusOK, 2),
		report("GET_MONEY", dispatch.OutcomeFatal, protocol.StatusClientErr, 3),
		report("SPAWN_UNIT", dispatch.OutcomeRejected, protocol.StatusCommandErr, 0),
	} {
		if _, err := j.Record(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := j.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 4 || stats.ByOutcome["delivered"] != 2 || stats.ByOutcome["fatal"] != 1 {
		t.Errorf("unexpected totals: %+v", stats)
	}
	if len(stats.Commands) != 2 {
		t.Fatalf("expected 2 commands, got %+v", stats.Commands)
	}
	money := stats.Commands[0]
	if money.Command != "GET_MONEY" || money.Calls != 3 || money.Delivered != 2 || money.Fatal != 1 || money.Timeouts != 5 {
		t.Errorf("unexpected GET_MONEY stats: %+v", money)
	}
}

func TestPrune(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := j.Record(ctx, report("GET_MONEY", dispatch.OutcomeDelivered, protocol.StatusOK, 0)); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := j.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 removed, got %d", removed)
	}
	entries, _ := j.Recent(ctx, 10)
	if len(entries) != 2 || entries[0].ID != 5 {
		t.Errorf("unexpected remaining entries: %+v", entries)
	}

	if removed, _ := j.Prune(ctx, 10); removed != 0 {
		t.Errorf("nothing should be pruned, got %d", removed)
	}
}

func TestSubscribeRecordsEvents(t *testing.T) {
	j := openTestJournal(t)
	bus := events.NewEventBus()
	j.Subscribe(bus)

	err := bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventCommandCompleted,
		Payload: events.CommandCompletedPayload{Report: report("GET_DEVS", dispatch.OutcomeDelivered, protocol.StatusOK, 0)},
	})
	if err != nil {
		t.Fatalf("EmitSync: %v", err)
	}
	bus.Stop()

	entries, _ := j.Recent(context.Background(), 1)
	if len(entries) != 1 || entries[0].Command != "GET_DEVS" {
		t.Fatalf("event not journaled: %+v", entries)
	}
}
