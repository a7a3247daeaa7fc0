// Package conversation models the UI-facing transcript: an ordered log of
// user turns and per-stage assistant turns.
package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/insurechat-vn/orchestrator/internal/agent"
	"github.com/insurechat-vn/orchestrator/internal/decode"
)

// Role is the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StageTagComplete marks the closing assistant turn of a finished pipeline.
const StageTagComplete = "complete"

// Turn is one transcript entry. Content never mutates after creation; the
// only permitted patch is flipping AwaitingDecision to false on approval.
type Turn struct {
	ID               string        `json:"id"`
	Role             Role          `json:"role"`
	Content          string        `json:"content"`
	Raw              decode.Result `json:"raw,omitempty"`
	Stage            string        `json:"stage,omitempty"`
	AwaitingDecision bool          `json:"awaiting_decision"`
	CreatedAt        time.Time     `json:"created_at"`
}

// DeriveTitle derives a conversation title from the opening query.
func DeriveTitle(query string) string {
	const max = 50
	runes := []rune(query)
	if len(runes) <= max {
		return query
	}
	return string(runes[:max]) + "..."
}

// NewUserTurn creates a user turn.
func NewUserTurn(content string) Turn {
	return Turn{
		ID:        uuid.New().String(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewStageTurn creates an assistant turn for one stage's decoded result.
func NewStageTurn(stage agent.Stage, content string, raw decode.Result, awaiting bool) Turn {
	return Turn{
		ID:               uuid.New().String(),
		Role:             RoleAssistant,
		Content:          content,
		Raw:              raw,
		Stage:            string(stage),
		AwaitingDecision: awaiting,
		CreatedAt:        time.Now().UTC(),
	}
}

// Transcript is an append-only ordered sequence of turns. The single
// exception to append-only is RetractLastUser, which models "the user's
// message was never actually answered" after an entry-stage transport
// failure. Turns are never reordered.
type Transcript struct {
	turns []Turn
}

// Append adds a turn at the end of the transcript.
func (t *Transcript) Append(turn Turn) {
	t.turns = append(t.turns, turn)
}

// Turns returns a copy of the transcript in creation order.
func (t *Transcript) Turns() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of turns.
func (t *Transcript) Len() int { return len(t.turns) }

// Last returns the most recent turn.
func (t *Transcript) Last() (Turn, bool) {
	if len(t.turns) == 0 {
		return Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}

// LastAwaiting returns the most recent turn flagged for a human decision.
func (t *Transcript) LastAwaiting() (Turn, bool) {
	for i := len(t.turns) - 1; i >= 0; i-- {
		if t.turns[i].AwaitingDecision {
			return t.turns[i], true
		}
	}
	return Turn{}, false
}

// Resolve flips AwaitingDecision to false on the turn with the given ID.
func (t *Transcript) Resolve(id string) bool {
	for i := range t.turns {
		if t.turns[i].ID == id {
			t.turns[i].AwaitingDecision = false
			return true
		}
	}
	return false
}

// RetractLastUser removes the trailing turn if and only if it is a user
// turn. It reports whether a turn was removed.
func (t *Transcript) RetractLastUser() bool {
	if len(t.turns) == 0 {
		return false
	}
	if t.turns[len(t.turns)-1].Role != RoleUser {
		return false
	}
	t.turns = t.turns[:len(t.turns)-1]
	return true
}
