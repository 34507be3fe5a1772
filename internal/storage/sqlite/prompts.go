package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yegors/clipgremlin/internal/pipeline"
	"github.com/yegors/clipgremlin/pkg/logger"

	_ "modernc.org/sqlite"
)

var (
	String = logger.String
	Error  = logger.Error
)

// PromptEntry is one row of the prompt audit log
type PromptEntry struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	CreatedAt  time.Time `json:"created_at"`
	Language   string    `json:"language"`
	Transcript string    `json:"transcript"`
	Prompt     string    `json:"prompt"`
	Outcome    string    `json:"outcome"`
}

// PromptLog records prompt cycles in SQLite
type PromptLog struct {
	db     *sql.DB
	logger *logger.Logger
}

// Open opens or creates the audit log at dbPath
func Open(dbPath string, log *logger.Logger) (*PromptLog, error) {
	storageLogger := log.Named("sqlite")
	storageLogger.Info("Initializing SQLite prompt log", String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := initDB(db); err != nil {
		db.Close()
		return nil, err
	}

	return &PromptLog{db: db, logger: storageLogger}, nil
}

func initDB(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS prompts (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			language TEXT,
			transcript TEXT,
			prompt TEXT,
			outcome TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create prompts table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_prompts_created_at ON prompts(created_at)`); err != nil {
		return fmt.Errorf("failed to create created_at index: %w", err)
	}
	return nil
}

// RecordPrompt implements pipeline.Recorder
func (s *PromptLog) RecordPrompt(ctx context.Context, rec pipeline.PromptRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prompts (id, run_id, created_at, language, transcript, prompt, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		rec.RunID,
		rec.At.UTC().Format(time.RFC3339Nano),
		rec.Language,
		rec.Transcript,
		rec.Prompt,
		string(rec.Outcome),
	)
	if err != nil {
		return fmt.Errorf("failed to insert prompt: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first
func (s *PromptLog) Recent(ctx context.Context, limit int) ([]PromptEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, created_at, language, transcript, prompt, outcome
		FROM prompts
		ORDER BY created_at DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompts: %w", err)
	}
	defer rows.Close()

	entries := make([]PromptEntry, 0, limit)
	for rows.Next() {
		var (
			e                            PromptEntry
			createdAt                    string
			language, transcript, prompt sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RunID, &createdAt, &language, &transcript, &prompt, &e.Outcome); err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		e.Language = language.String
		e.Transcript = transcript.String
		e.Prompt = prompt.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database connection
func (s *PromptLog) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ pipeline.Recorder = (*PromptLog)(nil)
