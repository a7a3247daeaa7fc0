// Package decode normalizes raw agent response payloads into a canonical
// structured form.
//
// Agent responses arrive in several shapes: a JSON object under "result", a
// JSON-encoded string that needs a second parse pass, or (for the evaluator
// stage) a flattened textual record resembling a constructor call, e.g.
// Name(field=value, other='text'). Decode never fails: worst case the raw
// text is preserved under a single field and the pipeline keeps moving.
package decode

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// Result is the canonical decoded form of one agent payload. Field values are
// primitives, lists, or nested records (map[string]any). The "error" key is
// only present when the agent itself reported a failure.
type Result map[string]any

// ErrorMessage returns the upstream-reported error, if any.
func (r Result) ErrorMessage() (string, bool) {
	v, ok := r["error"]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Text returns the best human-readable text for the result: an explicit
// summary or report field when present, otherwise the preserved raw text.
func (r Result) Text() string {
	for _, key := range []string{"summary", "report", "response", "raw_text"} {
		if s, ok := r[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// envelope is the wire shape common to every agent endpoint.
type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// Decode converts a raw response body into a Result. It is a pure function;
// parse failures are logged at debug level and recovered into a best-effort
// shape, never returned as errors.
func Decode(body []byte) Result {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		slog.Debug("agent response is not a JSON envelope", "error", err)
		return Result{"raw_text": string(body)}
	}

	res := decodeResultField(env.Result)

	if env.Error != "" {
		res["error"] = env.Error
	}

	// The evaluator record may arrive flattened as a repr string rather than
	// a JSON object. Expand it in place so callers always see a record.
	if s, ok := res["evaluator"].(string); ok && looksLikeRecord(s) {
		res["evaluator"] = ParseEvaluator(s)
	}

	return res
}

// decodeResultField normalizes the "result" field: object passthrough,
// string with a second JSON parse pass, and raw-text fallback.
func decodeResultField(raw json.RawMessage) Result {
	if len(raw) == 0 {
		return Result{}
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		return Result(obj)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		slog.Debug("agent result field is neither object nor string")
		return Result{"raw_text": string(raw)}
	}

	// A string-valued result is often JSON encoded a second time.
	var inner map[string]any
	if err := json.Unmarshal([]byte(s), &inner); err == nil {
		return Result(inner)
	}

	slog.Debug("agent result string is not structured, keeping raw text")
	return Result{"raw_text": s}
}

// looksLikeRecord reports whether s resembles a flattened constructor-style
// record such as EvaluationResult(...).
func looksLikeRecord(s string) bool {
	open := strings.IndexByte(s, '(')
	if open <= 0 {
		return false
	}
	name := strings.TrimSpace(s[:open])
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return strings.Contains(s, ")")
}
