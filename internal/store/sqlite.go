package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	// Create events table
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS events(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL,
		level TEXT,
		code TEXT,
		msg TEXT,
		meta TEXT
	)`); err != nil {
		db.Close()
		return nil, err
	}

	// Create generations table, one row per finished request
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS generations(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL,
		req_id TEXT UNIQUE,
		source TEXT,
		input_json TEXT,
		result_json TEXT,
		warnings TEXT,
		attempts INTEGER,
		dur_ms REAL,
		status TEXT,
		error_kind TEXT,
		error TEXT,
		completed_at REAL
	)`); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

func (db *DB) Event(level, code, msg string, meta map[string]any) {
	m := ""
	if meta != nil {
		b, _ := json.Marshal(meta)
		m = string(b)
	}
	_, _ = db.Exec(`INSERT INTO events(ts,level,code,msg,meta) VALUES(?,?,?,?,?)`,
		unixSeconds(time.Now()), level, code, msg, m)
}

// Generation is a row of the generations table.
type Generation struct {
	Start       time.Time
	ReqID       string
	Source      string
	InputJSON   string
	ResultJSON  string
	Warnings    string
	Attempts    int
	Duration    time.Duration
	Status      string
	ErrorKind   string
	Error       string
	CompletedAt time.Time
}

// Gen upserts by req_id so a redelivered request overwrites its earlier row.
func (db *DB) Gen(g Generation) error {
	_, err := db.Exec(`INSERT INTO generations(
		ts, req_id, source, input_json, result_json, warnings, attempts, dur_ms, status, error_kind, error, completed_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(req_id) DO UPDATE SET
			source=excluded.source, input_json=excluded.input_json, result_json=excluded.result_json,
			warnings=excluded.warnings, attempts=excluded.attempts, dur_ms=excluded.dur_ms,
			status=excluded.status, error_kind=excluded.error_kind, error=excluded.error,
			completed_at=excluded.completed_at`,
		unixSeconds(g.Start), g.ReqID, g.Source, g.InputJSON, g.ResultJSON, g.Warnings, g.Attempts,
		float64(g.Duration.Milliseconds()), g.Status, g.ErrorKind, g.Error, unixSeconds(g.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert generation %s: %w", g.ReqID, err)
	}
	return nil
}

const generationColumns = `ts,req_id,source,input_json,result_json,warnings,attempts,dur_ms,status,error_kind,error,completed_at`

// GetGen returns sql.ErrNoRows when reqID was never recorded.
func (db *DB) GetGen(reqID string) (*Generation, error) {
	row := db.QueryRow(`SELECT `+generationColumns+` FROM generations WHERE req_id = ?`, reqID)
	return scanGeneration(row)
}

// ListGen returns the most recent rows first.
func (db *DB) ListGen(limit int) ([]*Generation, error) {
	rows, err := db.Query(`SELECT `+generationColumns+` FROM generations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gens []*Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		gens = append(gens, g)
	}
	return gens, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGeneration(s scanner) (*Generation, error) {
	var (
		g               Generation
		ts, completedAt float64
		durMs           float64
	)
	if err := s.Scan(&ts, &g.ReqID, &g.Source, &g.InputJSON, &g.ResultJSON, &g.Warnings,
		&g.Attempts, &durMs, &g.Status, &g.ErrorKind, &g.Error, &completedAt); err != nil {
		return nil, err
	}
	g.Start = fromUnixSeconds(ts)
	g.CompletedAt = fromUnixSeconds(completedAt)
	g.Duration = time.Duration(durMs) * time.Millisecond
	return &g, nil
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(f float64) time.Time {
	if f == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(f*1e9)).UTC()
}
