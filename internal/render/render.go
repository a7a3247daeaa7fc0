// Package render projects decoded stage results into human-readable
// markdown. It is a pure projection of the decoded data and holds no state.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/insurechat-vn/orchestrator/internal/agent"
	"github.com/insurechat-vn/orchestrator/internal/decode"
)

// stageHeadings name each stage in the transcript, matching the product's
// Vietnamese-facing copy.
var stageHeadings = map[agent.Stage]string{
	agent.StageAnalysis:     "Phân tích",
	agent.StageOptimization: "Tối ưu hóa",
	agent.StageInsights:     "Thông tin bổ sung",
	agent.StageQA:           "Kiểm tra chất lượng",
	agent.StageEvaluation:   "Đánh giá",
}

var vnPrinter = message.NewPrinter(language.Vietnamese)

// TurnText renders the display text for one stage's transcript turn. An
// upstream-reported error is shown in place of the result but never hides a
// partial one.
func TurnText(stage agent.Stage, res decode.Result) string {
	var b strings.Builder

	if heading, ok := stageHeadings[stage]; ok {
		fmt.Fprintf(&b, "### %s\n\n", heading)
	}

	if msg, ok := res.ErrorMessage(); ok {
		fmt.Fprintf(&b, "**Lỗi từ agent:** %s\n\n", msg)
	}

	if text := res.Text(); text != "" {
		b.WriteString(text)
		b.WriteString("\n")
	}

	if body := Markdown(res); body != "" {
		b.WriteString("\n")
		b.WriteString(body)
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "Đã nhận được phản hồi"
	}
	return out
}

// Markdown renders the structured portions of a decoded result: comparison
// table, recommendation list, citations, and the evaluator record.
func Markdown(res decode.Result) string {
	var sections []string

	if table := comparisonTable(res["comparison_table"]); table != "" {
		sections = append(sections, table)
	}
	if recs := recommendations(res["recommendations"]); recs != "" {
		sections = append(sections, recs)
	}
	if ev, ok := res["evaluator"].(map[string]any); ok {
		if s := evaluator(ev); s != "" {
			sections = append(sections, s)
		}
	}
	if cites := citations(res["citations"]); cites != "" {
		sections = append(sections, cites)
	}

	return strings.Join(sections, "\n\n")
}

func comparisonTable(v any) string {
	rows := records(v)
	if len(rows) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("**So sánh gói bảo hiểm**\n\n")
	b.WriteString("| Gói | Phí BH | Quyền lợi | Loại trừ | Khấu trừ |\n")
	b.WriteString("| --- | --- | --- | --- | --- |\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			cell(row["plan_name"]),
			FormatVND(cell(row["premium"])),
			cell(row["coverage"]),
			cell(row["exclusions"]),
			FormatVND(cell(row["deductible"])),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

func recommendations(v any) string {
	recs := records(v)
	if len(recs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("**Đề xuất phù hợp**\n")
	for _, rec := range recs {
		fmt.Fprintf(&b, "\n- **%s** — %s/100\n", cell(rec["plan_name"]), cell(rec["score"]))
		if reason := cell(rec["reason"]); reason != "" {
			fmt.Fprintf(&b, "  - Lý do: %s\n", reason)
		}
		if bestFor := cell(rec["best_for"]); bestFor != "" {
			fmt.Fprintf(&b, "  - Phù hợp cho: %s\n", bestFor)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func citations(v any) string {
	cites := records(v)
	if len(cites) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("**Trích dẫn**\n")
	for _, cite := range cites {
		fmt.Fprintf(&b, "\n- %q", cell(cite["text"]))
		if src := cell(cite["source"]); src != "" {
			fmt.Fprintf(&b, " (%s", src)
			if page := cell(cite["page"]); page != "" {
				fmt.Fprintf(&b, ", trang %s", page)
			}
			b.WriteString(")")
		}
	}
	return b.String()
}

func evaluator(ev map[string]any) string {
	var b strings.Builder
	b.WriteString("**Kết quả đánh giá**\n")

	if company, ok := ev["company"].(map[string]any); ok {
		fmt.Fprintf(&b, "\n- Gói hiện tại: %s", cell(company["name"]))
		if price := cell(company["current_price"]); price != "" {
			fmt.Fprintf(&b, " — %s", FormatVND(price))
		}
	}
	if market, ok := ev["market"].(map[string]any); ok {
		if avg := cell(market["avg_price"]); avg != "" {
			fmt.Fprintf(&b, "\n- Giá trung bình thị trường: %s", FormatVND(avg))
		}
		if seg := cell(market["segment"]); seg != "" {
			fmt.Fprintf(&b, "\n- Phân khúc: %s", seg)
		}
	}
	if add := stringList(ev["benefits_to_add"]); len(add) > 0 {
		fmt.Fprintf(&b, "\n- Quyền lợi nên bổ sung: %s", strings.Join(add, ", "))
	}
	if remove := stringList(ev["benefits_to_remove"]); len(remove) > 0 {
		fmt.Fprintf(&b, "\n- Quyền lợi nên lược bỏ: %s", strings.Join(remove, ", "))
	}
	if reasoning := cell(ev["reasoning"]); reasoning != "" {
		fmt.Fprintf(&b, "\n- Nhận định: %s", reasoning)
	}

	out := b.String()
	if out == "**Kết quả đánh giá**\n" {
		return ""
	}
	return out
}

// FormatVND formats a numeric-looking value with Vietnamese thousands
// grouping and the VND suffix. Non-numeric values pass through unchanged;
// decoding keeps the raw value, formatting happens here only.
func FormatVND(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			return vnPrinter.Sprintf("%.0f VND", f)
		}
		return raw
	}
	return vnPrinter.Sprintf("%d VND", n)
}

// records coerces a decoded list-of-records field.
func records(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []map[string]any
	for _, item := range items {
		if rec, ok := item.(map[string]any); ok {
			out = append(out, rec)
		}
	}
	return out
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, cell(item))
		}
		return out
	default:
		return nil
	}
}

func cell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
