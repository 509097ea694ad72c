package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/chatcfd/backend/internal/storage/models"
	"github.com/chatcfd/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err = db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		query_text TEXT NOT NULL,
		response TEXT,
		retrieved_count INTEGER DEFAULT 0,
		sanitized INTEGER DEFAULT 0,
		rewritten INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_mode ON interactions(mode);
	CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at);

	CREATE TABLE IF NOT EXISTS interaction_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		interaction_id TEXT NOT NULL,
		file TEXT NOT NULL,
		snippet TEXT,
		score REAL,
		FOREIGN KEY (interaction_id) REFERENCES interactions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_interaction ON interaction_sources(interaction_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// InsertInteraction stores one completed request with its sources.
func (c *Client) InsertInteraction(rec *models.Interaction, sources []models.InteractionSource) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO interactions (id, mode, query_text, response, retrieved_count, sanitized, rewritten, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Mode,
		rec.Query,
		rec.Response,
		rec.RetrievedCount,
		boolToInt(rec.Sanitized),
		boolToInt(rec.Rewritten),
		rec.LatencyMS,
		rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}

	for _, source := range sources {
		_, err = tx.Exec(`
			INSERT INTO interaction_sources (interaction_id, file, snippet, score)
			VALUES (?, ?, ?, ?)`,
			rec.ID,
			source.File,
			source.Snippet,
			source.Score,
		)
		if err != nil {
			return fmt.Errorf("failed to insert interaction source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit interaction: %w", err)
	}

	return nil
}

// RecentInteractions returns the latest interactions, newest first,
// optionally filtered by mode.
func (c *Client) RecentInteractions(mode string, limit int) ([]models.Interaction, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, mode, query_text, response, retrieved_count, sanitized, rewritten, latency_ms, created_at
		FROM interactions`
	args := []interface{}{}
	if mode != "" {
		query += " WHERE mode = ?"
		args = append(args, mode)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var records []models.Interaction
	for rows.Next() {
		var rec models.Interaction
		var sanitized, rewritten int
		var createdAt int64
		var latency sql.NullInt64
		var response sql.NullString

		err := rows.Scan(&rec.ID, &rec.Mode, &rec.Query, &response, &rec.RetrievedCount, &sanitized, &rewritten, &latency, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}

		rec.Response = response.String
		rec.Sanitized = sanitized != 0
		rec.Rewritten = rewritten != 0
		rec.LatencyMS = int(latency.Int64)
		rec.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, rec)
	}

	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
