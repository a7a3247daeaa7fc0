// Package storage defines the persistence boundary for conversations,
// transcript turns, and cached stage results.
package storage

import (
	"context"
	"time"

	"github.com/insurechat-vn/orchestrator/internal/agent"
	"github.com/insurechat-vn/orchestrator/internal/conversation"
	"github.com/insurechat-vn/orchestrator/internal/decode"
)

// Conversation is a persisted conversation with its transcript.
type Conversation struct {
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	Turns     []conversation.Turn `json:"turns"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// StageResult is one persisted decoded stage result. Replaying a stage needs
// the query plus the results of every stage before it; this is the unit that
// makes that possible across restarts.
type StageResult struct {
	Stage     agent.Stage   `json:"stage"`
	Result    decode.Result `json:"result"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Store persists conversations, turns, and stage results. Writes are best
// effort from the pipeline's perspective; a storage error never fails a run.
type Store interface {
	CreateConversation(ctx context.Context, id, title string) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context) ([]Conversation, error)

	RecordTurn(ctx context.Context, conversationID string, turn conversation.Turn) error
	ResolveTurn(ctx context.Context, conversationID, turnID string) error
	RetractTurn(ctx context.Context, conversationID, turnID string) error

	RecordStageResult(ctx context.Context, conversationID string, stage agent.Stage, result decode.Result) error
	GetStageResults(ctx context.Context, conversationID string) ([]StageResult, error)

	Close() error
}
