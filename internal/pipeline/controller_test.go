package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/insurechat-vn/orchestrator/internal/agent"
	"github.com/insurechat-vn/orchestrator/internal/conversation"
	"github.com/insurechat-vn/orchestrator/internal/decode"
)

type invocation struct {
	endpoint string
	body     map[string]any
}

// fakeInvoker records every stage call and serves configured results.
type fakeInvoker struct {
	calls     []invocation
	responses map[string]decode.Result
	failures  map[string]error
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		responses: map[string]decode.Result{},
		failures:  map[string]error{},
	}
}

func (f *fakeInvoker) Invoke(_ context.Context, d agent.Descriptor, body map[string]any) (decode.Result, error) {
	f.calls = append(f.calls, invocation{endpoint: d.Endpoint, body: body})
	if err := f.failures[d.Endpoint]; err != nil {
		return nil, err
	}
	if res, ok := f.responses[d.Endpoint]; ok {
		return res, nil
	}
	return decode.Result{"summary": d.Endpoint + " ok"}, nil
}

func (f *fakeInvoker) endpoints() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.endpoint
	}
	return out
}

func stageTurns(turns []conversation.Turn, stage agent.Stage) []conversation.Turn {
	var out []conversation.Turn
	for _, turn := range turns {
		if turn.Stage == string(stage) {
			out = append(out, turn)
		}
	}
	return out
}

func TestSubmit_PausesAtEntryGate(t *testing.T) {
	inv := newFakeInvoker()
	c := NewController(inv)

	if err := c.Submit(context.Background(), "so sánh gói A và B", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := inv.endpoints(); !reflect.DeepEqual(got, []string{"/agent1"}) {
		t.Fatalf("expected a single /agent1 call, got %v", got)
	}

	st := c.Status()
	if st.State != StateAwaitingApproval || st.Stage != agent.StageAnalysis {
		t.Errorf("expected awaiting_approval at stage1, got %+v", st)
	}

	turns := c.Transcript()
	if len(turns) != 2 {
		t.Fatalf("expected user turn + stage turn, got %d", len(turns))
	}
	if turns[0].Role != conversation.RoleUser {
		t.Error("first turn must be the user turn")
	}
	if !turns[1].AwaitingDecision {
		t.Error("entry-gate turn must await a decision")
	}
}

func TestSubmit_EmptyQueryRejectedBeforeAnyCall(t *testing.T) {
	inv := newFakeInvoker()
	c := NewController(inv)

	if err := c.Submit(context.Background(), "   ", nil); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if len(inv.calls) != 0 {
		t.Error("validation failure must not reach the network")
	}
	if c.Status().State != StateIdle {
		t.Error("validation failure must not change state")
	}
}

func TestApprove_AutoChainsEveryStageOnceInOrder(t *testing.T) {
	inv := newFakeInvoker()
	c := NewController(inv)
	ctx := context.Background()

	if err := c.Submit(ctx, "phân tích gói bảo hiểm", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := c.Approve(ctx); err != nil {
		t.Fatalf("approve: %v", err)
	}

	want := []string{"/agent1", "/agent2", "/agent3", "/agent4", "/agent5"}
	if got := inv.endpoints(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected each agent called once in order, got %v", got)
	}

	st := c.Status()
	if st.State != StateAwaitingApproval || st.Stage != agent.StageEvaluation {
		t.Errorf("expected pause at the evaluation gate, got %+v", st)
	}

	turns := c.Transcript()
	for _, mid := range []agent.Stage{agent.StageOptimization, agent.StageInsights, agent.StageQA} {
		got := stageTurns(turns, mid)
		if len(got) != 1 {
			t.Fatalf("expected one turn for %s, got %d", mid, len(got))
		}
		if got[0].AwaitingDecision {
			t.Errorf("intermediate stage %s must not await a decision", mid)
		}
	}
	if got := stageTurns(turns, agent.StageEvaluation); len(got) != 1 || !got[0].AwaitingDecision {
		t.Error("evaluation turn must await a decision")
	}
}

func TestAutoChain_EachBodyCarriesAllPriorResults(t *testing.T) {
	inv := newFakeInvoker()
	for i := 1; i <= 5; i++ {
		ep := fmt.Sprintf("/agent%d", i)
		inv.responses[ep] = decode.Result{"summary": fmt.Sprintf("result-%d", i)}
	}
	c := NewController(inv)
	ctx := context.Background()

	if err := c.Submit(ctx, "Q", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := c.Approve(ctx); err != nil {
		t.Fatalf("approve: %v", err)
	}

	fieldsByEndpoint := map[string][]string{
		"/agent2": {"analysis_result"},
		"/agent3": {"analysis_result", "optimization_result"},
		"/agent4": {"analysis_result", "optimization_result", "additional_insights"},
		"/agent5": {"analysis_result", "optimization_result", "additional_insights", "qa_result"},
	}
	resultsByField := map[string]string{
		"analysis_result":     "result-1",
		"optimization_result": "result-2",
		"additional_insights": "result-3",
		"qa_result":           "result-4",
	}

	for _, call := range inv.calls {
		if call.body["data_query"] != "Q" {
			t.Errorf("%s: body must always carry the original query", call.endpoint)
		}
		for _, field := range fieldsByEndpoint[call.endpoint] {
			res, ok := call.body[field].(decode.Result)
			if !ok {
				t.Fatalf("%s: missing prior result field %s", call.endpoint, field)
			}
			if res["summary"] != resultsByField[field] {
				t.Errorf("%s: field %s carries %v, want %s",
					call.endpoint, field, res["summary"], resultsByField[field])
			}
		}
	}
}

func TestApprove_EvaluationGateCompletesWithoutNetwork(t *testing.T) {
	inv := newFakeInvoker()
	c := NewController(inv)
	ctx := context.Background()

	if err := c.Submit(ctx, "Q", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := c.Approve(ctx); err != nil {
		t.Fatalf("approve entry gate: %v", err)
	}

	callsBefore := len(inv.calls)
	if err := c.Approve(ctx); err != nil {
		t.Fatalf("approve evaluation gate: %v", err)
	}

	if len(inv.calls) != callsBefore {
		t.Error("final approval must not issue network calls")
	}
	if c.Status().State != StateComplete {
		t.Errorf("expected complete, got %+v", c.Status())
	}

	if len(c.Transcript()) == 0 {
		t.Fatal("transcript unexpectedly empty")
	}
	for _, turn := range c.Transcript() {
		if turn.AwaitingDecision {
			t.Errorf("no turn may await a decision after completion: %+v", turn)
		}
	}
}

func TestFeedback_EntryGateReinvokesOnlyAgent1(t *testing.T) {
	inv := newFakeInvoker()
	c := NewController(inv)
	ctx := context.Background()

	if err := c.Submit(ctx, "Q", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := c.Feedback(ctx, "thêm chi tiết về quyền lợi"); err != nil {
		t.Fatalf("feedback: %v", err)
	}

	want := []string{"/agent1", "/agent1"}
	if got := inv.endpoints(); !reflect.DeepEqual(got, want) {
		t.Fatalf("feedback must re-invoke only /agent1, got %v", got)
	}

	last := inv.calls[len(inv.calls)-1]
	if last.body["feedback"] != "thêm chi tiết về quyền lợi" {
		t.Error("resubmission body must carry the feedback text")
	}
	if last.body["data_query"] != "Q" {
		t.Error("resubmission body must carry the original query")
	}

	st := c.Status()
	if st.State != StateAwaitingApproval || st.Stage != agent.StageAnalysis {
		t.Errorf("feedback must return to the same gate, got %+v", st)
	}

	gateTurns := stageTurns(c.Transcript(), agent.StageAnalysis)
	if len(gateTurns) != 2 {
		t.Fatalf("expected two stage1 turns, got %d", len(gateTurns))
	}
	if gateTurns[0].AwaitingDecision {
		t.Error("superseded turn no longer awaits a decision")
	}
	if !gateTurns[1].AwaitingDecision {
		t.Error("fresh turn must await a decision")
	}
}

func TestFeedback_EvaluationGateKeepsOtherCachedResults(t *testing.T) {
	inv := newFakeInvoker()
	c := NewController(inv)
	ctx := context.Background()

	if err := c.Submit(ctx, "Q", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := c.Approve(ctx); err != nil {
		t.Fatalf("approve: %v", err)
	}

	before, _ := c.StageResult(agent.StageQA)

	if err := c.Feedback(ctx, "xem lại mức phí"); err != nil {
		t.Fatalf("feedback: %v", err)
	}

	want := []string{"/agent1", "/agent2", "/agent3", "/agent4", "/agent5", "/agent5"}
	if got := inv.endpoints(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected call sequence: %v", got)
	}

	after, _ := c.StageResult(agent.StageQA)
	if !reflect.DeepEqual(before, after) {
		t.Error("feedback at stage5 must not touch other stages' cached results")
	}

	last := inv.calls[len(inv.calls)-1]
	for _, field := range []string{"analysis_result", "optimization_result", "additional_insights", "qa_result"} {
		if _, ok := last.body[field]; !ok {
			t.Errorf("stage5 resubmission missing prior field %s", field)
		}
	}
}

func TestFeedback_EmptyRejectedBeforeAnyCall(t *testing.T) {
	inv := newFakeInvoker()
	c := NewController(inv)
	ctx := context.Background()

	if err := c.Submit(ctx, "Q", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	calls := len(inv.calls)

	if err := c.Feedback(ctx, "  "); !errors.Is(err, ErrEmptyFeedback) {
		t.Fatalf("expected ErrEmptyFeedback, got %v", err)
	}
	if len(inv.calls) != calls {
		t.Error("validation failure must not reach the network")
	}
}

func TestSubmit_TransportFailureRetractsUserTurn(t *testing.T) {
	inv := newFakeInvoker()
	inv.failures["/agent1"] = errors.New("connection refused")
	c := NewController(inv)

	err := c.Submit(context.Background(), "Q", nil)
	if err == nil {
		t.Fatal("expected error")
	}

	if got := len(c.Transcript()); got != 0 {
		t.Errorf("transcript must be empty after entry-stage failure, got %d turns", got)
	}
	if c.Status().State != StateFailed {
		t.Errorf("expected failed, got %+v", c.Status())
	}
}

func TestAutoChain_TransportFailureMidChainHalts(t *testing.T) {
	inv := newFakeInvoker()
	inv.failures["/agent3"] = errors.New("gateway timeout")
	c := NewController(inv)
	ctx := context.Background()

	if err := c.Submit(ctx, "Q", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := c.Approve(ctx); err == nil {
		t.Fatal("expected chain failure")
	}

	want := []string{"/agent1", "/agent2", "/agent3"}
	if got := inv.endpoints(); !reflect.DeepEqual(got, want) {
		t.Fatalf("later stages must not be attempted, got %v", got)
	}

	if _, ok := c.StageResult(agent.StageAnalysis); !ok {
		t.Error("stage1 result must stay cached")
	}
	if _, ok := c.StageResult(agent.StageOptimization); !ok {
		t.Error("stage2 result must stay cached")
	}
	for _, s := range []agent.Stage{agent.StageInsights, agent.StageQA, agent.StageEvaluation} {
		if _, ok := c.StageResult(s); ok {
			t.Errorf("stage %s must not be cached", s)
		}
	}

	turns := c.Transcript()
	for _, s := range []agent.Stage{agent.StageInsights, agent.StageQA, agent.StageEvaluation} {
		if len(stageTurns(turns, s)) != 0 {
			t.Errorf("no turn may exist for %s", s)
		}
	}
	if len(stageTurns(turns, agent.StageAnalysis)) != 1 || len(stageTurns(turns, agent.StageOptimization)) != 1 {
		t.Error("turns for completed stages must be retained")
	}
	if c.Status().State != StateFailed {
		t.Errorf("expected failed, got %+v", c.Status())
	}
}

func TestAutoChain_UpstreamErrorDoesNotHalt(t *testing.T) {
	inv := newFakeInvoker()
	inv.responses["/agent3"] = decode.Result{"error": "tài liệu không đủ dữ liệu"}
	c := NewController(inv)
	ctx := context.Background()

	if err := c.Submit(ctx, "Q", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := c.Approve(ctx); err != nil {
		t.Fatalf("an upstream-reported error must not halt the chain: %v", err)
	}

	if got := inv.endpoints(); len(got) != 5 {
		t.Fatalf("expected all five stages invoked, got %v", got)
	}
	st := c.Status()
	if st.State != StateAwaitingApproval || st.Stage != agent.StageEvaluation {
		t.Errorf("expected the evaluation gate reached, got %+v", st)
	}
}

func TestApprove_WithoutPendingGate(t *testing.T) {
	c := NewController(newFakeInvoker())

	if err := c.Approve(context.Background()); !errors.Is(err, ErrNoPendingApproval) {
		t.Fatalf("expected ErrNoPendingApproval, got %v", err)
	}
}

func TestResubmit_UsesFreshResults(t *testing.T) {
	inv := newFakeInvoker()
	inv.responses["/agent1"] = decode.Result{"summary": "first-run"}
	c := NewController(inv)
	ctx := context.Background()

	if err := c.Submit(ctx, "Q1", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := c.Approve(ctx); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := c.Approve(ctx); err != nil {
		t.Fatalf("final approve: %v", err)
	}

	inv.responses["/agent1"] = decode.Result{"summary": "second-run"}
	if err := c.Submit(ctx, "Q2", nil); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if err := c.Approve(ctx); err != nil {
		t.Fatalf("approve second run: %v", err)
	}

	// Find the /agent2 call of the second run and check it carries the
	// second run's stage1 result, not the first run's.
	var lastAgent2 invocation
	for _, call := range inv.calls {
		if call.endpoint == "/agent2" {
			lastAgent2 = call
		}
	}
	res, ok := lastAgent2.body["analysis_result"].(decode.Result)
	if !ok {
		t.Fatal("missing analysis_result on second run")
	}
	if res["summary"] != "second-run" {
		t.Errorf("second run must use fresh results, got %v", res["summary"])
	}
	if lastAgent2.body["data_query"] != "Q2" {
		t.Errorf("second run must carry the new query, got %v", lastAgent2.body["data_query"])
	}
}
