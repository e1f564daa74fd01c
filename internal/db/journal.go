package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/towerlink/internal/dispatch"
	"github.com/energizer-project/towerlink/internal/events"
	"github.com/energizer-project/towerlink/internal/protocol"
)

// Journal records one row per dispatched command.
type Journal struct {
	db     *Database
	logger zerolog.Logger
}

// Entry is a journaled command call.
type Entry struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	Command      string    `json:"command"`
	CommandID    int       `json:"command_id"`
	Outcome      string    `json:"outcome"`
	Status       int       `json:"status"`
	StatusName   string    `json:"status_name"`
	Kind         string    `json:"kind,omitempty"`
	Message      string    `json:"message,omitempty"`
	Attempts     int       `json:"attempts"`
	Timeouts     int       `json:"timeouts"`
	Resends      int       `json:"resends"`
	GatedPolls   int       `json:"gated_polls"`
	StrayReplies int       `json:"stray_replies"`
	RequestID    int64     `json:"request_id"`
	StartedAt    time.Time `json:"started_at"`
	DurationMS   float64   `json:"duration_ms"`
}

// CommandStats aggregates the journal for one command.
type CommandStats struct {
	Command       string  `json:"command"`
	Calls         int     `json:"calls"`
	Delivered     int     `json:"delivered"`
	Rejected      int     `json:"rejected"`
	Fatal         int     `json:"fatal"`
	Timeouts      int     `json:"timeouts"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// Stats summarizes the whole journal.
type Stats struct {
	Total     int            `json:"total"`
	ByOutcome map[string]int `json:"by_outcome"`
	Commands  []CommandStats `json:"commands"`
}

// OpenJournal opens the journal database at path and migrates it.
func OpenJournal(path string) (*Journal, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}
	j, err := NewJournal(database)
	if err != nil {
		database.Close()
		return nil, err
	}
	return j, nil
}

// NewJournal wraps an open database and creates the schema.
func NewJournal(database *Database) (*Journal, error) {
	j := &Journal{
		db:     database,
		logger: log.With().Str("component", "journal").Logger(),
	}
	if err := j.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to migrate journal database: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS command_journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			command TEXT NOT NULL,
			command_id INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			status INTEGER NOT NULL,
			kind TEXT DEFAULT '',
			message TEXT DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			timeouts INTEGER NOT NULL DEFAULT 0,
			resends INTEGER NOT NULL DEFAULT 0,
			gated_polls INTEGER NOT NULL DEFAULT 0,
			stray_replies INTEGER NOT NULL DEFAULT 0,
			request_id INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL,
			duration_us INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_journal_command ON command_journal(command);
		CREATE INDEX IF NOT EXISTS idx_journal_session ON command_journal(session_id);
	`
	_, err := j.db.Exec(ctx, schema)
	return err
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends a report and returns the new row id.
func (j *Journal) Record(ctx context.Context, r dispatch.Report) (int64, error) {
	res, err := j.db.Exec(ctx, `
		INSERT INTO command_journal (
			session_id, command, command_id, outcome, status, kind, message,
			attempts, timeouts, resends, gated_polls, stray_replies, request_id,
			started_at, duration_us
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Command, int(r.CommandID), r.Outcome.String(), int(r.Status), r.Kind, r.Message,
		r.Attempts, r.Timeouts, r.Resends, r.GatedPolls, r.StrayReplies, r.LastRequestID,
		r.StartedAt.UnixNano(), r.Duration.Microseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record %s: %w", r.Command, err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(ctx, `
		SELECT id, session_id, command, command_id, outcome, status, kind, message,
			attempts, timeouts, resends, gated_polls, stray_replies, request_id,
			started_at, duration_us
		FROM command_journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                   Entry
			startedNS, duration int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Command, &e.CommandID, &e.Outcome, &e.Status,
			&e.Kind, &e.Message, &e.Attempts, &e.Timeouts, &e.Resends, &e.GatedPolls,
			&e.StrayReplies, &e.RequestID, &startedNS, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.StartedAt = time.Unix(0, startedNS)
		e.DurationMS = float64(duration) / 1000
		e.StatusName = statusName(e.Status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats aggregates the journal per outcome and per command.
func (j *Journal) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByOutcome: make(map[string]int)}

	rows, err := j.db.Query(ctx, `SELECT outcome, COUNT(*) FROM command_journal GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal stats: %w", err)
	}
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByOutcome[outcome] = n
		stats.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = j.db.Query(ctx, `
		SELECT command, COUNT(*),
			SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END),
			SUM(timeouts), AVG(duration_us)
		FROM command_journal GROUP BY command ORDER BY COUNT(*) DESC, command`,
		dispatch.OutcomeDelivered.String(), dispatch.OutcomeRejected.String(), dispatch.OutcomeFatal.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query command stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cs    CommandStats
			avgUS sql.NullFloat64
		)
		if err := rows.Scan(&cs.Command, &cs.Calls, &cs.Delivered, &cs.Rejected, &cs.Fatal,
			&cs.Timeouts, &avgUS); err != nil {
			return nil, err
		}
		cs.AvgDurationMS = avgUS.Float64 / 1000
		stats.Commands = append(stats.Commands, cs)
	}
	return stats, rows.Err()
}

// Prune deletes all but the newest keep entries. keep <= 0 keeps everything.
func (j *Journal) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	var removed int64
	err := j.db.Transaction(ctx, func(tx *sql.Tx) error {
		var cutoff sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM command_journal ORDER BY id DESC LIMIT 1 OFFSET ?`, keep-1).Scan(&cutoff)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM command_journal WHERE id < ?`, cutoff.Int64)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	if removed > 0 {
		j.logger.Info().Int64("removed", removed).Int("kept", keep).Msg("pruned command journal")
	}
	return removed, nil
}

func statusName(code int) string {
	return protocol.StatusCode(code).String()
}

// Subscribe records every command_completed event.
func (j *Journal) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventCommandCompleted, "journal", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.CommandCompletedPayload)
		if !ok {
			return nil
		}
		_, err := j.Record(ctx, p.Report)
		return err
	})
}
