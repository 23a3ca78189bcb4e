package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yourorg/declarant/pkg/types"
)

// ErrNotFound is returned when a session or result id does not exist.
var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processing_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL,
			upload_timestamp DATETIME NOT NULL,
			total_items INTEGER NOT NULL DEFAULT 0,
			processed_items INTEGER NOT NULL DEFAULT 0,
			high_confidence_items INTEGER NOT NULL DEFAULT 0,
			medium_confidence_items INTEGER NOT NULL DEFAULT 0,
			low_confidence_items INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'processing',
			processing_time_seconds REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS classification_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			row_index INTEGER NOT NULL,
			product_name TEXT NOT NULL,
			original_description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			brand TEXT NOT NULL DEFAULT '',
			additional_info TEXT NOT NULL DEFAULT '',
			hs_code TEXT NOT NULL DEFAULT '',
			confidence_percentage INTEGER NOT NULL DEFAULT 0,
			ai_reasoning TEXT NOT NULL DEFAULT '',
			alternative_codes TEXT NOT NULL DEFAULT '[]',
			user_status TEXT NOT NULL DEFAULT 'pending',
			user_notes TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES processing_sessions (id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_results_session ON classification_results(session_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) CreateSession(filename string, totalItems int) (*types.Session, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`INSERT INTO processing_sessions(filename,upload_timestamp,total_items,status,created_at) VALUES(?,?,?,?,?)`,
		filename, now, totalItems, types.SessionProcessing, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &types.Session{
		ID:         id,
		Filename:   filename,
		UploadedAt: now,
		TotalItems: totalItems,
		Status:     types.SessionProcessing,
		CreatedAt:  now,
	}, nil
}

const sessionColumns = `id,filename,upload_timestamp,total_items,processed_items,high_confidence_items,medium_confidence_items,low_confidence_items,status,processing_time_seconds,created_at`

func scanSession(row interface{ Scan(...any) error }) (*types.Session, error) {
	var out types.Session
	err := row.Scan(&out.ID, &out.Filename, &out.UploadedAt, &out.TotalItems, &out.ProcessedItems,
		&out.HighConfidence, &out.MediumConfidence, &out.LowConfidence, &out.Status,
		&out.ProcessingSeconds, &out.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SQLiteStore) GetSession(id int64) (*types.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM processing_sessions WHERE id=?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

func (s *SQLiteStore) ListSessions(limit int) ([]types.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM processing_sessions ORDER BY upload_timestamp DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]types.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// UpdateSession applies a partial update; nil fields are untouched.
func (s *SQLiteStore) UpdateSession(id int64, upd types.SessionUpdate) error {
	sets := []string{}
	args := []any{}
	if upd.ProcessedItems != nil {
		sets = append(sets, "processed_items=?")
		args = append(args, *upd.ProcessedItems)
	}
	if upd.HighConfidence != nil {
		sets = append(sets, "high_confidence_items=?")
		args = append(args, *upd.HighConfidence)
	}
	if upd.MediumConfidence != nil {
		sets = append(sets, "medium_confidence_items=?")
		args = append(args, *upd.MediumConfidence)
	}
	if upd.LowConfidence != nil {
		sets = append(sets, "low_confidence_items=?")
		args = append(args, *upd.LowConfidence)
	}
	if upd.ProcessingSeconds != nil {
		sets = append(sets, "processing_time_seconds=?")
		args = append(args, *upd.ProcessingSeconds)
	}
	if upd.Status != nil {
		sets = append(sets, "status=?")
		args = append(args, *upd.Status)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := s.db.Exec(`UPDATE processing_sessions SET `+strings.Join(sets, ", ")+` WHERE id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session and its results in one transaction,
// children first.
func (s *SQLiteStore) DeleteSession(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM classification_results WHERE session_id=?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM processing_sessions WHERE id=?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveResults(sessionID int64, results []types.StoredResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(`INSERT INTO classification_results(session_id,row_index,product_name,original_description,category,brand,additional_info,hs_code,confidence_percentage,ai_reasoning,alternative_codes,user_status,user_notes,created_at,updated_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	now := time.Now().UTC()
	for _, r := range results {
		alt, _ := json.Marshal(r.Alternatives)
		if r.Alternatives == nil {
			alt = []byte("[]")
		}
		status := r.UserStatus
		if status == "" {
			status = types.StatusPending
		}
		if _, err := stmt.Exec(sessionID, r.RowIndex, r.ProductName, r.OriginalDescription, r.Category, r.Brand, r.AdditionalInfo,
			r.HSCode, r.Confidence, r.Reasoning, string(alt), string(status), r.UserNotes, now, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const resultColumns = `id,session_id,row_index,product_name,original_description,category,brand,additional_info,hs_code,confidence_percentage,ai_reasoning,alternative_codes,user_status,user_notes,created_at,updated_at`

func scanResult(row interface{ Scan(...any) error }) (*types.StoredResult, error) {
	var r types.StoredResult
	var alt, status string
	err := row.Scan(&r.ID, &r.SessionID, &r.RowIndex, &r.ProductName, &r.OriginalDescription, &r.Category,
		&r.Brand, &r.AdditionalInfo, &r.HSCode, &r.Confidence, &r.Reasoning, &alt, &status, &r.UserNotes,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.UserStatus = types.UserStatus(status)
	r.Alternatives = []string{}
	if alt != "" {
		_ = json.Unmarshal([]byte(alt), &r.Alternatives)
	}
	return &r, nil
}

func buildResultWhere(sessionID int64, f ResultFilter) (string, []any) {
	where := []string{"session_id=?"}
	args := []any{sessionID}
	if f.MinConfidence != nil {
		where = append(where, "confidence_percentage>=?")
		args = append(args, *f.MinConfidence)
	}
	if f.MaxConfidence != nil {
		where = append(where, "confidence_percentage<=?")
		args = append(args, *f.MaxConfidence)
	}
	if f.UserStatus != "" {
		where = append(where, "user_status=?")
		args = append(args, string(f.UserStatus))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, "(product_name LIKE ? OR hs_code LIKE ?)")
		pattern := "%" + q + "%"
		args = append(args, pattern, pattern)
	}
	return strings.Join(where, " AND "), args
}

func (s *SQLiteStore) GetResults(sessionID int64, f ResultFilter) ([]types.StoredResult, error) {
	where, args := buildResultWhere(sessionID, f)
	q := `SELECT ` + resultColumns + ` FROM classification_results WHERE ` + where + ` ORDER BY row_index ASC`
	if f.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]types.StoredResult, 0)
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountResults(sessionID int64, f ResultFilter) (int, error) {
	where, args := buildResultWhere(sessionID, f)
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM classification_results WHERE `+where, args...).Scan(&n)
	return n, err
}

func (s *SQLiteStore) GetResult(id int64) (*types.StoredResult, error) {
	row := s.db.QueryRow(`SELECT `+resultColumns+` FROM classification_results WHERE id=?`, id)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// UpdateUserStatus validates the review status before touching the row.
func (s *SQLiteStore) UpdateUserStatus(resultID int64, status types.UserStatus, notes string) error {
	if err := status.Validate(); err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE classification_results SET user_status=?, user_notes=?, updated_at=? WHERE id=?`,
		string(status), notes, time.Now().UTC(), resultID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Statistics() (*types.Statistics, error) {
	stats := &types.Statistics{UserActions: map[types.UserStatus]int{}}
	row := s.db.QueryRow(`SELECT
		COUNT(*),
		COALESCE(SUM(total_items),0),
		COALESCE(SUM(high_confidence_items),0),
		COALESCE(SUM(medium_confidence_items),0),
		COALESCE(SUM(low_confidence_items),0),
		COALESCE(AVG(processing_time_seconds),0)
	FROM processing_sessions WHERE status=?`, types.SessionCompleted)
	if err := row.Scan(&stats.TotalSessions, &stats.TotalItemsProcessed, &stats.TotalHighConfidence,
		&stats.TotalMediumConfidence, &stats.TotalLowConfidence, &stats.AvgProcessingSeconds); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT user_status, COUNT(*) FROM classification_results GROUP BY user_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.UserActions[types.UserStatus(status)] = n
	}
	return stats, rows.Err()
}

func (s *SQLiteStore) UserStatusStats(sessionID int64) (map[types.UserStatus]int, error) {
	out := map[types.UserStatus]int{
		types.StatusPending:     0,
		types.StatusConfirmed:   0,
		types.StatusNeedsReview: 0,
		types.StatusRejected:    0,
	}
	rows, err := s.db.Query(`SELECT user_status, COUNT(*) FROM classification_results WHERE session_id=? GROUP BY user_status`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[types.UserStatus(status)] = n
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return fmt.Errorf("store is nil")
	}
	return s.db.Close()
}
