package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/repovet/repovet/internal/score"
)

// CreateScan inserts a new pending scan record and returns its id.
func (db *DB) CreateScan(repoURL, owner, repo string) (string, error) {
	id := uuid.NewString()
	_, err := db.conn.Exec(
		"INSERT INTO scans (id, repo_url, owner, repo, status, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, repoURL, owner, repo, StatusPending, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// MarkProcessing moves a pending scan to processing and stamps started_at.
func (db *DB) MarkProcessing(id string) error {
	res, err := db.conn.Exec(
		"UPDATE scans SET status = ?, started_at = ? WHERE id = ? AND status = ?",
		StatusProcessing, time.Now().UTC().Format(time.RFC3339), id, StatusPending,
	)
	if err != nil {
		return err
	}
	return db.checkTransition(res, id)
}

// CompleteScan moves a processing scan to completed, recording the score
// columns and the full result as JSON.
func (db *DB) CompleteScan(id string, result *score.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	res, err := db.conn.Exec(
		`UPDATE scans SET status = ?, safety_score = ?, legitimacy_score = ?,
		 overall_score = ?, confidence = ?, result = ?, finished_at = ?
		 WHERE id = ? AND status = ?`,
		StatusCompleted, result.SafetyScore, result.LegitimacyScore,
		result.OverallScore, result.Confidence, string(payload),
		time.Now().UTC().Format(time.RFC3339), id, StatusProcessing,
	)
	if err != nil {
		return err
	}
	return db.checkTransition(res, id)
}

// FailScan moves a pending or processing scan to failed with an error
// category and message. Failed is terminal.
func (db *DB) FailScan(id, category, message string) error {
	res, err := db.conn.Exec(
		`UPDATE scans SET status = ?, error_category = ?, error_message = ?, finished_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		StatusFailed, category, message, time.Now().UTC().Format(time.RFC3339),
		id, StatusPending, StatusProcessing,
	)
	if err != nil {
		return err
	}
	return db.checkTransition(res, id)
}

// checkTransition inspects an UPDATE that guarded on the current status.
// Zero rows affected means the record is missing or in the wrong state.
func (db *DB) checkTransition(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	if err := db.conn.QueryRow("SELECT status FROM scans WHERE id = ?", id).Scan(&status); err == sql.ErrNoRows {
		return ErrScanNotFound
	} else if err != nil {
		return err
	}
	return fmt.Errorf("scan %s is %s: %w", id, status, ErrInvalidTransition)
}

// GetScan returns a scan record by id, including the full result JSON.
func (db *DB) GetScan(id string) (*Scan, error) {
	row := db.conn.QueryRow(
		`SELECT id, repo_url, owner, repo, status, error_category, error_message,
		 safety_score, legitimacy_score, overall_score, confidence, result,
		 created_at, started_at, finished_at
		 FROM scans WHERE id = ?`, id,
	)

	var s Scan
	var errCat, errMsg, result, startedAt, finishedAt sql.NullString
	var safety, legit, overall, conf sql.NullInt64
	var createdAt string
	err := row.Scan(
		&s.ID, &s.RepoURL, &s.Owner, &s.Repo, &s.Status, &errCat, &errMsg,
		&safety, &legit, &overall, &conf, &result,
		&createdAt, &startedAt, &finishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrScanNotFound
	}
	if err != nil {
		return nil, err
	}
	s.ErrorCategory = errCat.String
	s.ErrorMessage = errMsg.String
	s.SafetyScore = int(safety.Int64)
	s.LegitimacyScore = int(legit.Int64)
	s.OverallScore = int(overall.Int64)
	s.Confidence = int(conf.Int64)
	if result.Valid {
		s.Result = json.RawMessage(result.String)
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.StartedAt = startedAt.String
	s.FinishedAt = finishedAt.String
	return &s, nil
}

// RecentScans returns the most recent scan records, newest first. The full
// result JSON is omitted from listings; fetch a single record for it.
func (db *DB) RecentScans(limit int) ([]Scan, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(
		`SELECT id, repo_url, owner, repo, status, error_category, error_message,
		 safety_score, legitimacy_score, overall_score, confidence,
		 created_at, started_at, finished_at
		 FROM scans ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var scans []Scan
	for rows.Next() {
		var s Scan
		var errCat, errMsg, startedAt, finishedAt sql.NullString
		var safety, legit, overall, conf sql.NullInt64
		var createdAt string
		if err := rows.Scan(
			&s.ID, &s.RepoURL, &s.Owner, &s.Repo, &s.Status, &errCat, &errMsg,
			&safety, &legit, &overall, &conf,
			&createdAt, &startedAt, &finishedAt,
		); err != nil {
			return nil, err
		}
		s.ErrorCategory = errCat.String
		s.ErrorMessage = errMsg.String
		s.SafetyScore = int(safety.Int64)
		s.LegitimacyScore = int(legit.Int64)
		s.OverallScore = int(overall.Int64)
		s.Confidence = int(conf.Int64)
		s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		s.StartedAt = startedAt.String
		s.FinishedAt = finishedAt.String
		scans = append(scans, s)
	}
	return scans, rows.Err()
}

// CountByStatus returns the number of scan records per status.
func (db *DB) CountByStatus() (map[string]int64, error) {
	rows, err := db.conn.Query("SELECT status, COUNT(*) FROM scans GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
