package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/insurechat-vn/orchestrator/internal/agent"
	"github.com/insurechat-vn/orchestrator/internal/conversation"
	"github.com/insurechat-vn/orchestrator/internal/decode"
	"github.com/insurechat-vn/orchestrator/internal/metrics"
	"github.com/insurechat-vn/orchestrator/internal/render"
)

// State describes pipeline progress.
type State string

const (
	StateIdle             State = "idle"
	StateRunning          State = "running"
	StateAwaitingApproval State = "awaiting_approval"
	StateComplete         State = "complete"
	StateFailed           State = "failed"
)

// Status is the externally visible pipeline state plus, when relevant, the
// stage it refers to.
type Status struct {
	State State       `json:"state"`
	Stage agent.Stage `json:"stage,omitempty"`
}

var (
	// ErrBusy is returned when an operation arrives while a stage call is
	// in flight. Submissions are not queued.
	ErrBusy = errors.New("a stage call is already in flight")

	// ErrEmptyQuery rejects a blank query before any network call.
	ErrEmptyQuery = errors.New("query must not be empty")

	// ErrEmptyFeedback rejects blank feedback before any network call.
	ErrEmptyFeedback = errors.New("feedback must not be empty")

	// ErrNoPendingApproval is returned by Approve or Feedback when the
	// pipeline is not paused at a gate.
	ErrNoPendingApproval = errors.New("no stage is awaiting a decision")
)

// Invoker performs one network call to a stage endpoint.
type Invoker interface {
	Invoke(ctx context.Context, d agent.Descriptor, body map[string]any) (decode.Result, error)
}

// Recorder persists transcript and stage-result changes. Persistence is
// best effort and never fails the pipeline.
type Recorder interface {
	RecordTurn(ctx context.Context, conversationID string, turn conversation.Turn) error
	ResolveTurn(ctx context.Context, conversationID, turnID string) error
	RetractTurn(ctx context.Context, conversationID, turnID string) error
	RecordStageResult(ctx context.Context, conversationID string, stage agent.Stage, result decode.Result) error
}

// Option configures a controller.
type Option func(*Controller)

// WithRecorder persists turns and stage results through rec.
func WithRecorder(rec Recorder) Option {
	return func(c *Controller) { c.recorder = rec }
}

// WithMetrics records state transitions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// Controller owns all mutable pipeline state for one conversation: the
// status, the stage-result cache, and the transcript. It is the single
// writer; operations are serialized by an in-flight guard and concurrent
// reads are safe.
type Controller struct {
	ID    string
	Title string

	invoker  Invoker
	recorder Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu         sync.Mutex
	inFlight   bool
	status     Status
	query      string
	sourceIDs  []string
	cache      map[agent.Stage]decode.Result
	transcript conversation.Transcript
}

// NewController creates an idle controller for one conversation.
func NewController(invoker Invoker, opts ...Option) *Controller {
	c := &Controller{
		ID:      uuid.New().String(),
		invoker: invoker,
		logger:  slog.Default(),
		status:  Status{State: StateIdle},
		cache:   map[agent.Stage]decode.Result{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the current pipeline status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Transcript returns the transcript turns in creation order.
func (c *Controller) Transcript() []conversation.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Turns()
}

// StageResult returns the cached decoded result for a stage, if present.
func (c *Controller) StageResult(stage agent.Stage) (decode.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.cache[stage]
	return res, ok
}

// LatestResult returns the decoded result of the furthest completed stage.
func (c *Controller) LatestResult() (decode.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stages := agent.Stages()
	for i := len(stages) - 1; i >= 0; i-- {
		if res, ok := c.cache[stages[i].Stage]; ok {
			return res, true
		}
	}
	return nil, false
}

// Submit starts a run for the given user query. The entry stage is invoked
// synchronously; on success the pipeline pauses at the first approval gate.
// On a transport failure the just-appended user turn is retracted, so the
// transcript never shows an unanswered message.
func (c *Controller) Submit(ctx context.Context, query string, sourceIDs []string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrEmptyQuery
	}

	if err := c.begin(StateIdle, StateComplete, StateFailed); err != nil {
		return err
	}
	defer c.end()

	c.mu.Lock()
	c.query = query
	c.sourceIDs = sourceIDs
	c.cache = map[agent.Stage]decode.Result{}
	if c.Title == "" {
		c.Title = conversation.DeriveTitle(query)
	}
	c.mu.Unlock()

	userTurn := conversation.NewUserTurn(query)
	c.appendTurn(ctx, userTurn)

	first := agent.First()
	c.setStatus(Status{State: StateRunning, Stage: first.Stage})

	res, err := c.invoker.Invoke(ctx, first, c.composeBody(first, ""))
	if err != nil {
		c.retractTurn(ctx, userTurn.ID)
		c.setStatus(Status{State: StateFailed, Stage: first.Stage})
		return fmt.Errorf("submit query: %w", err)
	}

	c.cacheResult(ctx, first.Stage, res)
	c.appendTurn(ctx, conversation.NewStageTurn(first.Stage, render.TurnText(first.Stage, res), res, true))
	c.setStatus(Status{State: StateAwaitingApproval, Stage: first.Stage})
	return nil
}

// Approve resolves the pending gate. At the entry gate it auto-chains the
// remaining stages up to the evaluation gate; at the evaluation gate it
// completes the run with no further network activity.
func (c *Controller) Approve(ctx context.Context) error {
	if err := c.begin(StateAwaitingApproval); err != nil {
		return err
	}
	defer c.end()

	gate := c.Status().Stage
	c.resolveAwaiting(ctx)

	if gate == agent.Last().Stage {
		c.appendTurn(ctx, conversation.Turn{
			ID:        uuid.New().String(),
			Role:      conversation.RoleAssistant,
			Content:   "Phân tích hoàn tất.",
			Stage:     conversation.StageTagComplete,
			CreatedAt: time.Now().UTC(),
		})
		c.setStatus(Status{State: StateComplete})
		return nil
	}

	// Entry gate approved: drive the remaining stages in strict order. Each
	// stage is gated only on the previous network call succeeding.
	for _, d := range agent.Stages() {
		if d.Stage == agent.First().Stage {
			continue
		}

		c.setStatus(Status{State: StateRunning, Stage: d.Stage})

		res, err := c.invoker.Invoke(ctx, d, c.composeBody(d, ""))
		if err != nil {
			// Halt the chain. Cached results and earlier turns stay.
			c.setStatus(Status{State: StateFailed, Stage: d.Stage})
			return fmt.Errorf("auto-chain: %w", err)
		}

		c.cacheResult(ctx, d.Stage, res)
		c.appendTurn(ctx, conversation.NewStageTurn(d.Stage, render.TurnText(d.Stage, res), res, d.Gated))

		if d.Gated {
			c.setStatus(Status{State: StateAwaitingApproval, Stage: d.Stage})
			return nil
		}
	}

	return nil
}

// Feedback re-invokes only the gated stage with the feedback text appended
// to the same stage-appropriate request body. Cached results for other
// stages are untouched; a fresh turn at the same stage awaits a decision.
func (c *Controller) Feedback(ctx context.Context, feedback string) error {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return ErrEmptyFeedback
	}

	if err := c.begin(StateAwaitingApproval); err != nil {
		return err
	}
	defer c.end()

	gate := c.Status().Stage
	d, err := agent.Lookup(gate)
	if err != nil {
		return err
	}

	c.setStatus(Status{State: StateRunning, Stage: d.Stage})

	res, err := c.invoker.Invoke(ctx, d, c.composeBody(d, feedback))
	if err != nil {
		c.setStatus(Status{State: StateFailed, Stage: d.Stage})
		return fmt.Errorf("feedback: %w", err)
	}

	// The superseded turn received its decision (revise), so it no longer
	// awaits one. The fresh turn takes over the gate.
	c.resolveAwaiting(ctx)
	c.cacheResult(ctx, d.Stage, res)
	c.appendTurn(ctx, conversation.NewStageTurn(d.Stage, render.TurnText(d.Stage, res), res, true))
	c.setStatus(Status{State: StateAwaitingApproval, Stage: d.Stage})
	return nil
}

// composeBody builds the stage request body from the original query, the
// cached prior-stage results, and (for resubmissions) the feedback text.
func (c *Controller) composeBody(d agent.Descriptor, feedback string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	body := map[string]any{"data_query": c.query}
	if len(c.sourceIDs) > 0 {
		body["source_ids"] = c.sourceIDs
	}
	for _, f := range d.PriorFields {
		if res, ok := c.cache[f.Stage]; ok {
			body[f.Name] = res
		}
	}
	if feedback != "" {
		body["feedback"] = feedback
	}
	return body
}

// begin acquires the in-flight guard if the pipeline is in one of the given
// states. Operations are rejected, not queued, while a call is in flight.
func (c *Controller) begin(allowed ...State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight {
		return ErrBusy
	}
	for _, s := range allowed {
		if c.status.State == s {
			c.inFlight = true
			return nil
		}
	}
	if contains(allowed, StateAwaitingApproval) {
		return ErrNoPendingApproval
	}
	return fmt.Errorf("pipeline is %s", c.status.State)
}

func (c *Controller) end() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

func (c *Controller) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ObserveTransition(string(s.State))
	}
	c.logger.Debug("pipeline transition",
		slog.String("conversation_id", c.ID),
		slog.String("state", string(s.State)),
		slog.String("stage", string(s.Stage)),
	)
}

func (c *Controller) cacheResult(ctx context.Context, stage agent.Stage, res decode.Result) {
	c.mu.Lock()
	c.cache[stage] = res
	c.mu.Unlock()

	if msg, ok := res.ErrorMessage(); ok {
		c.logger.Warn("agent reported an error",
			slog.String("conversation_id", c.ID),
			slog.String("stage", string(stage)),
			slog.String("error", msg),
		)
	}

	if c.recorder != nil {
		if err := c.recorder.RecordStageResult(ctx, c.ID, stage, res); err != nil {
			c.logger.Error("record stage result", slog.String("error", err.Error()))
		}
	}
}

func (c *Controller) appendTurn(ctx context.Context, turn conversation.Turn) {
	c.mu.Lock()
	c.transcript.Append(turn)
	c.mu.Unlock()

	if c.recorder != nil {
		if err := c.recorder.RecordTurn(ctx, c.ID, turn); err != nil {
			c.logger.Error("record turn", slog.String("error", err.Error()))
		}
	}
}

func (c *Controller) retractTurn(ctx context.Context, turnID string) {
	c.mu.Lock()
	c.transcript.RetractLastUser()
	c.mu.Unlock()

	if c.recorder != nil {
		if err := c.recorder.RetractTurn(ctx, c.ID, turnID); err != nil {
			c.logger.Error("retract turn", slog.String("error", err.Error()))
		}
	}
}

func (c *Controller) resolveAwaiting(ctx context.Context) {
	c.mu.Lock()
	turn, ok := c.transcript.LastAwaiting()
	if ok {
		c.transcript.Resolve(turn.ID)
	}
	c.mu.Unlock()

	if ok && c.recorder != nil {
		if err := c.recorder.ResolveTurn(ctx, c.ID, turn.ID); err != nil {
			c.logger.Error("resolve turn", slog.String("error", err.Error()))
		}
	}
}

func contains(states []State, s State) bool {
	for _, state := range states {
		if state == s {
			return true
		}
	}
	return false
}
