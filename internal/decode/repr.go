package decode

import (
	"strings"
)

// subRecords maps the constructor names that may be embedded in an evaluator
// record to the canonical field names they decode under.
var subRecords = map[string]string{
	"CompanyMatch":  "company",
	"MarketSummary": "market",
}

// ParseEvaluator decodes a flattened evaluator record of the form
//
//	EvaluationResult(company_match=CompanyMatch(product_id='P1', ...),
//	                 market_summary=MarketSummary(...),
//	                 benefits_to_add=['X', 'Y'], reasoning='...')
//
// Known sub-records are located by constructor name and surfaced under their
// canonical keys; the outer record's own scalar and list fields are merged
// alongside them. Missing fields and missing sub-records decode to absence.
func ParseEvaluator(s string) map[string]any {
	out := map[string]any{}

	for ctor, key := range subRecords {
		if body, ok := recordBody(s, ctor); ok {
			out[key] = parseFields(body)
		}
	}

	if body, ok := outerBody(s); ok {
		for k, v := range parseFields(body) {
			// Nested records already surfaced under canonical keys.
			if _, nested := v.(map[string]any); nested {
				continue
			}
			if _, taken := out[k]; !taken {
				out[k] = v
			}
		}
	}

	return out
}

// outerBody returns the contents of the outermost Name(...) span.
func outerBody(s string) (string, bool) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return "", false
	}
	return spanBody(s, open)
}

// recordBody locates the first span written as ctor(...) and returns its
// contents. The scan matches word boundaries so MarketSummary does not match
// inside, say, RegionalMarketSummary.
func recordBody(s, ctor string) (string, bool) {
	for from := 0; from < len(s); {
		idx := strings.Index(s[from:], ctor+"(")
		if idx < 0 {
			return "", false
		}
		idx += from
		if idx > 0 && isIdentByte(s[idx-1]) {
			from = idx + len(ctor)
			continue
		}
		return spanBody(s, idx+len(ctor))
	}
	return "", false
}

// spanBody returns the text between the paren at s[open] and its match. The
// format nests sub-records one level at most, so a simple depth counter that
// skips quoted runs is sufficient.
func spanBody(s string, open int) (string, bool) {
	depth := 0
	inQuote := false
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '\'':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if inQuote {
				continue
			}
			depth--
			if depth == 0 {
				return s[open+1 : i], true
			}
		}
	}
	return "", false
}

// parseFields splits a record body into field=value pairs and decodes each
// value. Malformed fragments are skipped rather than failing the record.
func parseFields(body string) map[string]any {
	out := map[string]any{}
	for _, pair := range splitTop(body) {
		eq := strings.IndexByte(pair, '=')
		if eq <= 0 {
			continue
		}
		name := strings.TrimSpace(pair[:eq])
		if name == "" {
			continue
		}
		value, present := parseValue(strings.TrimSpace(pair[eq+1:]))
		if !present {
			// Literal None decodes to absence, not the string "None".
			continue
		}
		out[name] = value
	}
	return out
}

// splitTop splits on commas that are not inside quotes, parens, or brackets.
func splitTop(body string) []string {
	var parts []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '\'':
			inQuote = !inQuote
		case '(', '[':
			if !inQuote {
				depth++
			}
		case ')', ']':
			if !inQuote {
				depth--
			}
		case ',':
			if !inQuote && depth == 0 {
				parts = append(parts, body[start:i])
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(body[start:]); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

// parseValue decodes a single field value. The second return is false when
// the value is the literal None, i.e. the field is absent.
func parseValue(tok string) (any, bool) {
	switch {
	case tok == "None":
		return nil, false
	case len(tok) >= 2 && tok[0] == '\'' && tok[len(tok)-1] == '\'':
		return tok[1 : len(tok)-1], true
	case len(tok) >= 2 && tok[0] == '[' && tok[len(tok)-1] == ']':
		return parseList(tok[1 : len(tok)-1]), true
	case looksLikeRecord(tok):
		open := strings.IndexByte(tok, '(')
		if body, ok := spanBody(tok, open); ok {
			return parseFields(body), true
		}
		return tok, true
	default:
		// Unquoted scalar. Numbers stay as their raw token; formatting is a
		// presentation concern.
		return tok, true
	}
}

// parseList splits a [a, b, c] body into elements with quotes stripped.
// An empty body is an empty list, not a one-element list of "".
func parseList(body string) []string {
	if strings.TrimSpace(body) == "" {
		return []string{}
	}
	raw := strings.Split(body, ",")
	items := make([]string, 0, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		item = strings.Trim(item, "'\"")
		items = append(items, item)
	}
	return items
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
