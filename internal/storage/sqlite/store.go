// Package sqlite is the SQLite implementation of the storage boundary.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/insurechat-vn/orchestrator/internal/agent"
	"github.com/insurechat-vn/orchestrator/internal/conversation"
	"github.com/insurechat-vn/orchestrator/internal/decode"
	"github.com/insurechat-vn/orchestrator/internal/storage"
)

// Store is a SQLite implementation of storage.Store.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			raw TEXT,
			stage TEXT,
			awaiting_decision INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS stage_results (
			conversation_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			result TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (conversation_id, stage),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) CreateConversation(ctx context.Context, id, title string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, title, now, now)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*storage.Conversation, error) {
	var conv storage.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	turns, err := s.getTurns(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Turns = turns

	return &conv, nil
}

func (s *Store) ListConversations(ctx context.Context) ([]storage.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []storage.Conversation
	for rows.Next() {
		var conv storage.Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *Store) getTurns(ctx context.Context, convID string) ([]conversation.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, raw, stage, awaiting_decision, created_at
		 FROM turns WHERE conversation_id = ? ORDER BY created_at ASC`, convID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []conversation.Turn
	for rows.Next() {
		var turn conversation.Turn
		var role string
		var raw, stage sql.NullString
		var awaiting int
		if err := rows.Scan(&turn.ID, &role, &turn.Content, &raw, &stage, &awaiting, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.Role = conversation.Role(role)
		turn.Stage = stage.String
		turn.AwaitingDecision = awaiting != 0
		if raw.Valid && raw.String != "" {
			var res decode.Result
			if err := json.Unmarshal([]byte(raw.String), &res); err != nil {
				return nil, fmt.Errorf("failed to unmarshal turn payload: %w", err)
			}
			turn.Raw = res
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func (s *Store) RecordTurn(ctx context.Context, conversationID string, turn conversation.Turn) error {
	var raw any
	if turn.Raw != nil {
		data, err := json.Marshal(turn.Raw)
		if err != nil {
			return fmt.Errorf("failed to marshal turn payload: %w", err)
		}
		raw = string(data)
	}

	awaiting := 0
	if turn.AwaitingDecision {
		awaiting = 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, conversation_id, role, content, raw, stage, awaiting_decision, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, conversationID, string(turn.Role), turn.Content, raw, turn.Stage, awaiting, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}

	return s.touch(ctx, conversationID)
}

func (s *Store) ResolveTurn(ctx context.Context, conversationID, turnID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE turns SET awaiting_decision = 0 WHERE id = ? AND conversation_id = ?`,
		turnID, conversationID)
	if err != nil {
		return fmt.Errorf("failed to resolve turn: %w", err)
	}
	return s.touch(ctx, conversationID)
}

func (s *Store) RetractTurn(ctx context.Context, conversationID, turnID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE id = ? AND conversation_id = ?`, turnID, conversationID)
	if err != nil {
		return fmt.Errorf("failed to retract turn: %w", err)
	}
	return s.touch(ctx, conversationID)
}

func (s *Store) RecordStageResult(ctx context.Context, conversationID string, stage agent.Stage, result decode.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal stage result: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stage_results (conversation_id, stage, result, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(conversation_id, stage) DO UPDATE SET result = excluded.result, updated_at = excluded.updated_at`,
		conversationID, string(stage), string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record stage result: %w", err)
	}
	return nil
}

func (s *Store) GetStageResults(ctx context.Context, conversationID string) ([]storage.StageResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, result, updated_at FROM stage_results WHERE conversation_id = ? ORDER BY stage ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage results: %w", err)
	}
	defer rows.Close()

	var out []storage.StageResult
	for rows.Next() {
		var sr storage.StageResult
		var stage, data string
		if err := rows.Scan(&stage, &data, &sr.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage result: %w", err)
		}
		sr.Stage = agent.Stage(stage)
		if err := json.Unmarshal([]byte(data), &sr.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stage result: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (s *Store) touch(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now().UTC(), conversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
