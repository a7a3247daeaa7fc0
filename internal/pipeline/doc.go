// Package pipeline drives the five-stage analysis run for one conversation.
//
// A run starts from a user query, invokes the analysis agent, and pauses for
// a human decision. Approval auto-chains the optimization, insights, QA, and
// evaluation stages in strict order, each stage's request body carrying the
// decoded results of every stage before it. The evaluation stage pauses
// again; approving it completes the run. At either gate, feedback re-invokes
// the same stage with the feedback text instead of advancing.
//
// # State machine
//
//	idle → running(stage1) → awaiting_approval(stage1)
//	     → running(stage2..stage5) → awaiting_approval(stage5) → complete
//
// Feedback at a gate returns to running for that stage only. Any transport
// failure moves the run to failed and halts auto-chaining; results already
// cached and turns already appended are retained.
package pipeline
