// Package agent invokes the remote analysis agents, one endpoint per
// pipeline stage, and decodes their responses.
package agent

import "fmt"

// Stage identifies one of the five ordered analysis stages.
type Stage string

const (
	StageAnalysis     Stage = "stage1"
	StageOptimization Stage = "stage2"
	StageInsights     Stage = "stage3"
	StageQA           Stage = "stage4"
	StageEvaluation   Stage = "stage5"
)

// Descriptor describes how to invoke one stage: which endpoint it lives at,
// which prior-stage results its request body carries, and the field name its
// own decoded result is cached and forwarded under.
type Descriptor struct {
	Stage    Stage
	Endpoint string // path suffix under the agent base URL

	// PriorFields lists, in stage order, the request-body field names for
	// results of every earlier stage. The value for each is looked up in the
	// result cache by the owning stage.
	PriorFields []Field

	// ResultField is the body field later stages carry this result under.
	ResultField string

	// Gated stages pause for human approval and accept feedback resubmission.
	Gated bool
}

// Field pairs a request-body field name with the stage whose cached result
// fills it.
type Field struct {
	Name  string
	Stage Stage
}

// descriptors is the canonical ordered stage table. Every stage's request
// accretes the result fields of all stages before it.
var descriptors = []Descriptor{
	{
		Stage:       StageAnalysis,
		Endpoint:    "/agent1",
		ResultField: "analysis_result",
		Gated:       true,
	},
	{
		Stage:       StageOptimization,
		Endpoint:    "/agent2",
		PriorFields: []Field{{"analysis_result", StageAnalysis}},
		ResultField: "optimization_result",
	},
	{
		Stage:    StageInsights,
		Endpoint: "/agent3",
		PriorFields: []Field{
			{"analysis_result", StageAnalysis},
			{"optimization_result", StageOptimization},
		},
		ResultField: "additional_insights",
	},
	{
		Stage:    StageQA,
		Endpoint: "/agent4",
		PriorFields: []Field{
			{"analysis_result", StageAnalysis},
			{"optimization_result", StageOptimization},
			{"additional_insights", StageInsights},
		},
		ResultField: "qa_result",
	},
	{
		Stage:    StageEvaluation,
		Endpoint: "/agent5",
		PriorFields: []Field{
			{"analysis_result", StageAnalysis},
			{"optimization_result", StageOptimization},
			{"additional_insights", StageInsights},
			{"qa_result", StageQA},
		},
		ResultField: "evaluation_result",
		Gated:       true,
	},
}

// Stages returns the ordered stage table.
func Stages() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// Lookup returns the descriptor for a stage.
func Lookup(s Stage) (Descriptor, error) {
	for _, d := range descriptors {
		if d.Stage == s {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("unknown stage %q", s)
}

// First returns the entry-point stage descriptor.
func First() Descriptor { return descriptors[0] }

// Last returns the final stage descriptor.
func Last() Descriptor { return descriptors[len(descriptors)-1] }
