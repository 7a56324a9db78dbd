// Package trace records DMA transfers in a SQLite database for later
// analysis. Every Recorder writes under its own run identifier, so one
// database can hold many runs.
package trace

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Registers the "sqlite" driver.
	_ "github.com/glebarez/go-sqlite"
	"github.com/rs/xid"
)

// Transfer is one recorded transfer.
type Transfer struct {
	Run      string
	Round    int
	Mode     string
	Src, Dst uint64
	Bytes    int
	Start    time.Time
	Duration time.Duration
	// Err is the error the transfer ended with, or empty.
	Err string
}

// Completion modes.
const (
	ModePoll = "poll"
	ModeIRQ  = "irq"
)

const defaultBatchSize = 64

const schema = `CREATE TABLE IF NOT EXISTS transfers (
	run      TEXT NOT NULL,
	round    INTEGER NOT NULL,
	mode     TEXT NOT NULL,
	src      INTEGER NOT NULL,
	dst      INTEGER NOT NULL,
	bytes    INTEGER NOT NULL,
	start    INTEGER NOT NULL,
	duration INTEGER NOT NULL,
	error    TEXT NOT NULL
)`

// Recorder buffers transfers and writes them in batches.
type Recorder struct {
	db        *sql.DB
	run       string
	batchSize int
	pending   []Transfer
}

var ErrClosed = errors.New("trace: recorder closed")

// Open opens or creates the database at path. An empty path creates
// cdma_trace_<run>.sqlite3 in the current directory.
func Open(path string) (*Recorder, error) {
	run := xid.New().String()
	if path == "" {
		path = "cdma_trace_" + run + ".sqlite3"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace: %s: %w", path, err)
	}
	return &Recorder{db: db, run: run, batchSize: defaultBatchSize}, nil
}

// Run returns the identifier of the recorder's run.
func (r *Recorder) Run() string {
	return r.run
}

// Record adds t to the current run. The run field of t is ignored.
func (r *Recorder) Record(t Transfer) error {
	if r.db == nil {
		return ErrClosed
	}
	t.Run = r.run
	r.pending = append(r.pending, t)
	if len(r.pending) >= r.batchSize {
		return r.Flush()
	}
	return nil
}

// Flush writes the buffered transfers in a single transaction.
func (r *Recorder) Flush() error {
	if r.db == nil {
		return ErrClosed
	}
	if len(r.pending) == 0 {
		return nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("trace: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO transfers VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("trace: %w", err)
	}
	defer stmt.Close()
	for _, t := range r.pending {
		_, err := stmt.Exec(t.Run, t.Round, t.Mode, int64(t.Src), int64(t.Dst), t.Bytes,
			t.Start.UnixNano(), int64(t.Duration), t.Err)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("trace: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("trace: %w", err)
	}
	r.pending = r.pending[:0]
	return nil
}

// Transfers returns the transfers of run that have been written, in
// insertion order.
func (r *Recorder) Transfers(run string) ([]Transfer, error) {
	if r.db == nil {
		return nil, ErrClosed
	}
	rows, err := r.db.Query(`SELECT run, round, mode, src, dst, bytes, start, duration, error
		FROM transfers WHERE run = ? ORDER BY rowid`, run)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	defer rows.Close()
	var transfers []Transfer
	for rows.Next() {
		var (
			t          Transfer
			src, dst   int64
			start, dur int64
		)
		if err := rows.Scan(&t.Run, &t.Round, &t.Mode, &src, &dst, &t.Bytes, &start, &dur, &t.Err); err != nil {
			return nil, fmt.Errorf("trace: %w", err)
		}
		t.Src, t.Dst = uint64(src), uint64(dst)
		t.Start = time.Unix(0, start)
		t.Duration = time.Duration(dur)
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	return transfers, nil
}

// Runs returns the identifiers of the runs in the database in the
// order they started.
func (r *Recorder) Runs() ([]string, error) {
	if r.db == nil {
		return nil, ErrClosed
	}
	rows, err := r.db.Query(`SELECT run FROM transfers GROUP BY run ORDER BY MIN(rowid)`)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	defer rows.Close()
	var runs []string
	for rows.Next() {
		var run string
		if err := rows.Scan(&run); err != nil {
			return nil, fmt.Errorf("trace: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	return runs, nil
}

// Close flushes the buffered transfers and closes the database.
func (r *Recorder) Close() error {
	if r.db == nil {
		return ErrClosed
	}
	err := r.Flush()
	if cerr := r.db.Close(); err == nil {
		err = cerr
	}
	r.db = nil
	return err
}
