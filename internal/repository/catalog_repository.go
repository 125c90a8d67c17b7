// Package repository provides data access implementations
package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gulfwater/gulfwq/internal/entities"
	_ "github.com/mattn/go-sqlite3"
)

// CatalogRepository defines the interface for characteristic catalog and run
// history persistence.
type CatalogRepository interface {
	SaveCharacteristics(names []entities.Characteristic) error
	GetCharacteristics(onlyValid bool) ([]entities.Characteristic, error)
	GetEmbeddedCharacteristics() ([]entities.Characteristic, error)
	GetUnembeddedNames() ([]string, error)
	SaveEmbedding(name string, embedding []float64) error
	MarkInvalid(name string) error
	MarkValid(name string) error
	CountCharacteristics() (int, error)
	SaveRun(run entities.AnalysisRun) (int64, error)
	FinishRun(id int64, status string, chartCount int) error
	GetRecentRuns(limit int) ([]entities.AnalysisRun, error)
	Close() error
}

// SQLiteCatalogRepository implements CatalogRepository using SQLite
type SQLiteCatalogRepository struct {
	db     *sql.DB
	DBPath string
}

// NewSQLiteCatalogRepository creates and initializes a new SQLite repository
func NewSQLiteCatalogRepository(dbPath string) (*SQLiteCatalogRepository, error) {
	if dbPath == "" {
		// Set default path if not specified
		dbDir := "data"
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %v", err)
		}
		dbPath = filepath.Join(dbDir, "waterquality.db")
	}

	log.Printf("Opening database at %s", dbPath)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS characteristics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		providers TEXT,
		valid INTEGER NOT NULL DEFAULT 1,
		embedding TEXT,
		embedded_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_characteristics_valid ON characteristics(valid);
	CREATE TABLE IF NOT EXISTS analysis_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scenario TEXT NOT NULL,
		status TEXT NOT NULL,
		chart_count INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON analysis_runs(started_at);`

	_, err = db.Exec(createTableSQL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	return &SQLiteCatalogRepository{
		db:     db,
		DBPath: dbPath,
	}, nil
}

// Close closes the database connection
func (r *SQLiteCatalogRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SaveCharacteristics upserts catalog entries. Names already present keep
// their validity flag and embedding.
func (r *SQLiteCatalogRepository) SaveCharacteristics(names []entities.Characteristic) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO characteristics(name, providers)
		VALUES(?, ?)
		ON CONFLICT(name) DO UPDATE SET
		providers=excluded.providers
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %v", err)
	}
	defer stmt.Close()

	for _, c := range names {
		if _, err := stmt.Exec(c.Name, c.Providers); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert characteristic %s: %v", c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	log.Printf("Successfully saved %d characteristic records", len(names))
	return nil
}

// GetCharacteristics returns catalog entries, optionally restricted to valid ones.
func (r *SQLiteCatalogRepository) GetCharacteristics(onlyValid bool) ([]entities.Characteristic, error) {
	query := `
		SELECT id, name, providers, valid, embedding, embedded_at
		FROM characteristics`
	if onlyValid {
		query += ` WHERE valid = 1`
	}
	query += ` ORDER BY name`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query characteristics: %v", err)
	}
	defer rows.Close()

	return scanCharacteristics(rows)
}

// GetEmbeddedCharacteristics returns valid entries that already carry an
// embedding vector. These are the candidates for similarity matching.
func (r *SQLiteCatalogRepository) GetEmbeddedCharacteristics() ([]entities.Characteristic, error) {
	rows, err := r.db.Query(`
		SELECT id, name, providers, valid, embedding, embedded_at
		FROM characteristics
		WHERE valid = 1 AND embedding IS NOT NULL
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query embedded characteristics: %v", err)
	}
	defer rows.Close()

	return scanCharacteristics(rows)
}

// GetUnembeddedNames returns the names of valid entries still missing a vector.
func (r *SQLiteCatalogRepository) GetUnembeddedNames() ([]string, error) {
	rows, err := r.db.Query(`
		SELECT name FROM characteristics
		WHERE valid = 1 AND embedding IS NULL
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unembedded characteristics: %v", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %v", err)
	}

	return names, nil
}

// SaveEmbedding stores the embedding vector for a characteristic as JSON.
func (r *SQLiteCatalogRepository) SaveEmbedding(name string, embedding []float64) error {
	encoded, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to encode embedding for %s: %v", name, err)
	}

	res, err := r.db.Exec(`
		UPDATE characteristics SET embedding = ?, embedded_at = ?
		WHERE name = ?`, string(encoded), time.Now(), name)
	if err != nil {
		return fmt.Errorf("failed to save embedding for %s: %v", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("characteristic %s not found in catalog", name)
	}
	return nil
}

// MarkInvalid flags a characteristic as having no usable numeric data.
func (r *SQLiteCatalogRepository) MarkInvalid(name string) error {
	_, err := r.db.Exec(`UPDATE characteristics SET valid = 0 WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to mark %s invalid: %v", name, err)
	}
	return nil
}

// MarkValid restores a characteristic to the matchable set.
func (r *SQLiteCatalogRepository) MarkValid(name string) error {
	_, err := r.db.Exec(`UPDATE characteristics SET valid = 1 WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to mark %s valid: %v", name, err)
	}
	return nil
}

// CountCharacteristics returns the total number of catalog entries.
func (r *SQLiteCatalogRepository) CountCharacteristics() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM characteristics`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count characteristics: %v", err)
	}
	return count, nil
}

// SaveRun inserts a new analysis run record and returns its id.
func (r *SQLiteCatalogRepository) SaveRun(run entities.AnalysisRun) (int64, error) {
	started := run.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	res, err := r.db.Exec(`
		INSERT INTO analysis_runs(scenario, status, chart_count, started_at)
		VALUES(?, ?, ?, ?)`,
		run.Scenario, run.Status, run.ChartCount, started)
	if err != nil {
		return 0, fmt.Errorf("failed to insert analysis run: %v", err)
	}
	return res.LastInsertId()
}

// FinishRun records the final status and chart count of a run.
func (r *SQLiteCatalogRepository) FinishRun(id int64, status string, chartCount int) error {
	_, err := r.db.Exec(`
		UPDATE analysis_runs SET status = ?, chart_count = ?, completed_at = ?
		WHERE id = ?`, status, chartCount, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to finish analysis run %d: %v", id, err)
	}
	return nil
}

// GetRecentRuns returns the most recent analysis runs, newest first.
func (r *SQLiteCatalogRepository) GetRecentRuns(limit int) ([]entities.AnalysisRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(`
		SELECT id, scenario, status, chart_count, started_at, completed_at
		FROM analysis_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis runs: %v", err)
	}
	defer rows.Close()

	var result []entities.AnalysisRun
	for rows.Next() {
		var run entities.AnalysisRun
		var completed sql.NullTime
		if err := rows.Scan(
			&run.ID,
			&run.Scenario,
			&run.Status,
			&run.ChartCount,
			&run.StartedAt,
			&completed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		if completed.Valid {
			run.CompletedAt = completed.Time
		}
		result = append(result, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %v", err)
	}

	return result, nil
}

func scanCharacteristics(rows *sql.Rows) ([]entities.Characteristic, error) {
	var result []entities.Characteristic
	for rows.Next() {
		var c entities.Characteristic
		var providers sql.NullString
		var embedding sql.NullString
		var embeddedAt sql.NullTime
		if err := rows.Scan(
			&c.ID,
			&c.Name,
			&providers,
			&c.Valid,
			&embedding,
			&embeddedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		c.Providers = providers.String
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &c.Embedding); err != nil {
				return nil, fmt.Errorf("failed to decode embedding for %s: %v", c.Name, err)
			}
		}
		if embeddedAt.Valid {
			c.EmbeddedAt = embeddedAt.Time
		}
		result = append(result, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %v", err)
	}

	return result, nil
}
