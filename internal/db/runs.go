package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrRunNotFound = errors.New("run not found")

// Goal statuses stored in motion_goals.status.
const (
	GoalPending  = "pending"
	GoalReached  = "reached"
	GoalFailed   = "failed"
	GoalCanceled = "canceled"
)

type Run struct {
	RunID           string     `json:"run_id"`
	Order           bool       `json:"order"`
	Started         time.Time  `json:"started"`
	Finished        *time.Time `json:"finished,omitempty"`
	Phase           string     `json:"phase"`
	MotionCompleted *bool      `json:"motion_completed,omitempty"`
	AlignAttempts   int        `json:"align_attempts"`
	Error           string     `json:"error,omitempty"`
}

type Transition struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

type Goal struct {
	GoalID   string     `json:"goal_id"`
	Phase    string     `json:"phase"`
	Axis     string     `json:"axis"`
	Target   float64    `json:"target"`
	Loop     int        `json:"loop"`
	Sent     time.Time  `json:"sent"`
	Status   string     `json:"status"`
	Resolved *time.Time `json:"resolved,omitempty"`
}

// Sample is one poll tick's perception snapshot.
type Sample struct {
	Phase        string    `json:"phase"`
	At           time.Time `json:"at"`
	LineState    string    `json:"line_state"`
	OffsetKnown  bool      `json:"offset_known"`
	OffsetX      float64   `json:"offset_x"`
	OffsetY      float64   `json:"offset_y"`
	HeadingKnown bool      `json:"heading_known"`
	HeadingError float64   `json:"heading_error"`
}

func (db *DB) InsertRun(runID string, order bool, started time.Time) error {
	_, err := db.Exec(
		`INSERT INTO runs (run_id, order_flag, started_unix_nanos) VALUES (?, ?, ?)`,
		runID, order, started.UnixNano(),
	)
	return err
}

// FinishRun records the terminal state. completed is nil when the run has no
// meaningful result.
func (db *DB) FinishRun(runID string, finished time.Time, phase string, completed *bool, alignAttempts int, runErr string) error {
	var mc sql.NullBool
	if completed != nil {
		mc = sql.NullBool{Bool: *completed, Valid: true}
	}
	res, err := db.Exec(
		`UPDATE runs SET finished_unix_nanos = ?, phase = ?, motion_completed = ?, align_attempts = ?, error = ?
		 WHERE run_id = ?`,
		finished.UnixNano(), phase, mc, alignAttempts, runErr, runID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, runID)
}

// SetRunPhase records the phase a running run has entered.
func (db *DB) SetRunPhase(runID, phase string) error {
	_, err := db.Exec(`UPDATE runs SET phase = ? WHERE run_id = ?`, phase, runID)
	return err
}

func (db *DB) InsertTransition(runID, from, to string, at time.Time) error {
	_, err := db.Exec(
		`INSERT INTO phase_transitions (run_id, from_phase, to_phase, at_unix_nanos) VALUES (?, ?, ?, ?)`,
		runID, from, to, at.UnixNano(),
	)
	return err
}

func (db *DB) InsertGoal(runID string, g Goal) error {
	_, err := db.Exec(
		`INSERT INTO motion_goals (goal_id, run_id, phase, axis, target, loop, sent_unix_nanos, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.GoalID, runID, g.Phase, g.Axis, g.Target, g.Loop, g.Sent.UnixNano(), GoalPending,
	)
	return err
}

// ResolveGoal sets the final status of a goal. Only the first resolution of a
// pending goal is kept.
func (db *DB) ResolveGoal(goalID, status string, at time.Time) error {
	_, err := db.Exec(
		`UPDATE motion_goals SET status = ?, resolved_unix_nanos = ? WHERE goal_id = ? AND status = ?`,
		status, at.UnixNano(), goalID, GoalPending,
	)
	return err
}

func (db *DB) InsertSample(runID string, s Sample) error {
	_, err := db.Exec(
		`INSERT INTO samples (run_id, phase, at_unix_nanos, line_state, offset_known, offset_x, offset_y, heading_known, heading_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, s.Phase, s.At.UnixNano(), s.LineState, s.OffsetKnown, s.OffsetX, s.OffsetY, s.HeadingKnown, s.HeadingError,
	)
	return err
}

const runColumns = `run_id, order_flag, started_unix_nanos, finished_unix_nanos, phase, motion_completed, align_attempts, error`

// Runs returns the most recent runs first.
func (db *DB) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (db *DB) Run(runID string) (Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
		mc       sql.NullBool
	)
	if err := row.Scan(&r.RunID, &r.Order, &started, &finished, &r.Phase, &mc, &r.AlignAttempts, &r.Error); err != nil {
		return Run{}, err
	}
	r.Started = time.Unix(0, started)
	if finished.Valid {
		t := time.Unix(0, finished.Int64)
		r.Finished = &t
	}
	if mc.Valid {
		b := mc.Bool
		r.MotionCompleted = &b
	}
	return r, nil
}

func (db *DB) Transitions(runID string) ([]Transition, error) {
	rows, err := db.Query(
		`SELECT from_phase, to_phase, at_unix_nanos FROM phase_transitions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var at int64
		if err := rows.Scan(&t.From, &t.To, &at); err != nil {
			return nil, err
		}
		t.At = time.Unix(0, at)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (db *DB) Goals(runID string) ([]Goal, error) {
	rows, err := db.Query(
		`SELECT goal_id, phase, axis, target, loop, sent_unix_nanos, status, resolved_unix_nanos
		 FROM motion_goals WHERE run_id = ? ORDER BY sent_unix_nanos, rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Goal
	for rows.Next() {
		var g Goal
		var sent int64
		var resolved sql.NullInt64
		if err := rows.Scan(&g.GoalID, &g.Phase, &g.Axis, &g.Target, &g.Loop, &sent, &g.Status, &resolved); err != nil {
			return nil, err
		}
		g.Sent = time.Unix(0, sent)
		if resolved.Valid {
			t := time.Unix(0, resolved.Int64)
			g.Resolved = &t
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (db *DB) Samples(runID string) ([]Sample, error) {
	rows, err := db.Query(
		`SELECT phase, at_unix_nanos, line_state, offset_known, offset_x, offset_y, heading_known, heading_error
		 FROM samples WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		var at int64
		if err := rows.Scan(&s.Phase, &at, &s.LineState, &s.OffsetKnown, &s.OffsetX, &s.OffsetY, &s.HeadingKnown, &s.HeadingError); err != nil {
			return nil, err
		}
		s.At = time.Unix(0, at)
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteRunsBefore removes finished runs that started before cutoff, with
// their transitions, goals and samples.
func (db *DB) DeleteRunsBefore(cutoff time.Time) (int64, error) {
	res, err := db.Exec(
		`DELETE FROM runs WHERE started_unix_nanos < ? AND finished_unix_nanos IS NOT NULL`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}
