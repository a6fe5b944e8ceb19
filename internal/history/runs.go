package history

import "database/sql"

// StartRun records the beginning of a run and returns its id.
func (db *DB) StartRun(prefix, version, batchPath, startedAt string, rowsInBatch int) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO runs (prefix, version, batch_path, started_at, rows_in_batch, status)
		 VALUES (?, ?, ?, ?, ?, 'running')`,
		prefix, version, batchPath, startedAt, rowsInBatch,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// FinishRun marks a run completed and records its outcome counts.
func (db *DB) FinishRun(runID int64, finishedAt string, placed, belowQC, alreadyNamed, changed int) error {
	_, err := db.conn.Exec(
		`UPDATE runs SET status = 'completed', finished_at = ?,
		 placed_count = ?, below_qc_count = ?, already_named_count = ?, changed_count = ?
		 WHERE id = ?`,
		finishedAt, placed, belowQC, alreadyNamed, changed, runID,
	)
	return err
}

// FailRun marks a run failed and records the error that ended it.
func (db *DB) FailRun(runID int64, finishedAt, errMsg string) error {
	_, err := db.conn.Exec(
		`UPDATE runs SET status = 'failed', finished_at = ?, error_message = ? WHERE id = ?`,
		finishedAt, errMsg, runID,
	)
	return err
}

// RecentRuns returns the most recent runs across all organisms, newest
// first, limited to limit rows (0 means no limit).
func (db *DB) RecentRuns(limit int) ([]Run, error) {
	query := "SELECT id, prefix, version, batch_path, started_at, finished_at, status, rows_in_batch, placed_count, below_qc_count, already_named_count, changed_count, error_message FROM runs ORDER BY started_at DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return db.queryRuns(query, args...)
}

// RunsForPrefix returns the most recent runs for a single organism prefix.
func (db *DB) RunsForPrefix(prefix string, limit int) ([]Run, error) {
	query := "SELECT id, prefix, version, batch_path, started_at, finished_at, status, rows_in_batch, placed_count, below_qc_count, already_named_count, changed_count, error_message FROM runs WHERE prefix = ? ORDER BY started_at DESC"
	args := []any{prefix}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return db.queryRuns(query, args...)
}

func (db *DB) queryRuns(query string, args ...any) ([]Run, error) {
	rows, err := db.conn.Query(query, args...)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.Prefix, &r.Version, &r.BatchPath, &r.StartedAt, &r.FinishedAt,
		&r.Status, &r.RowsInBatch, &r.PlacedCount, &r.BelowQCCount, &r.AlreadyNamedCount,
		&r.ChangedCount, &r.ErrorMessage)
	return r, err
}

// LastRun returns the most recent run for a prefix, or nil if none exists.
func (db *DB) LastRun(prefix string) (*Run, error) {
	row := db.conn.QueryRow(
		`SELECT id, prefix, version, batch_path, started_at, finished_at, status, rows_in_batch,
		 placed_count, below_qc_count, already_named_count, changed_count, error_message
		 FROM runs WHERE prefix = ? ORDER BY started_at DESC LIMIT 1`,
		prefix,
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
