// Package normalize coerces loosely-structured model output into validated
// summaries, digests, and vocabulary entries. Providers disagree on nesting
// and key names, so extraction works through alias tables consulted against
// a small set of known root paths rather than a fixed schema.
package normalize

import (
	"sort"
	"strings"
)

// rootKeys lists the wrapper keys providers have been observed nesting the
// real payload under.
var rootKeys = []string{"A", "a", "analysis", "data", "result", "output"}

// maxCoerceDepth bounds recursion into nested arrays/objects.
const maxCoerceDepth = 2

// fieldAliases maps each logical field to its candidate keys in priority
// order. The first non-empty match wins.
var fieldAliases = map[string][]string{
	"one_liner_zh":       {"one_liner_zh", "summary_zh", "oneliner_zh", "one_liner", "一句话总结", "中文一句话"},
	"one_liner_en":       {"one_liner_en", "summary_en", "oneliner_en", "english_summary"},
	"core_viewpoint":     {"core_viewpoint", "core_view", "main_point", "viewpoint", "核心观点"},
	"underlying_problem": {"underlying_problem", "real_problem", "root_problem", "problem", "底层问题"},
	"reusable_insights":  {"reusable_insights", "insights", "takeaways", "可复用洞见"},
	"logic_points":       {"logic_points", "logic_structure", "argument_structure", "逻辑结构"},
	"hidden_assumptions": {"hidden_assumptions", "assumptions", "隐藏假设"},
	"counter_views":      {"counter_views", "counterpoints", "counter_arguments", "反方观点"},
	"claims":             {"claims", "statements", "assertions"},
	"tags":               {"tags", "topics", "标签"},
	"action_items":       {"action_items", "actions", "next_steps", "行动项"},
	"research_keywords":  {"research_keywords", "keywords", "search_terms", "研究关键词"},
	"key_technologies":   {"key_technologies", "technologies", "tech_stack"},
	"libraries":          {"libraries", "libs", "frameworks"},

	"themes":     {"themes", "topics", "主题"},
	"highlights": {"highlights", "top_items", "items"},
	"risks":      {"risks", "concerns", "风险"},
	"actions":    {"actions", "next_steps", "行动"},
}

// roots returns the candidate payload roots in priority order: the payload
// itself, then every known wrapper key holding an object.
func roots(payload map[string]any) []map[string]any {
	out := []map[string]any{payload}
	for _, k := range rootKeys {
		if m, ok := payload[k].(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// lookupString finds the first non-empty string value for a logical field
// across all roots and aliases. Non-string values are coerced and their
// first element used.
func lookupString(rs []map[string]any, field string) string {
	for _, alias := range fieldAliases[field] {
		for _, r := range rs {
			v, ok := r[alias]
			if !ok {
				continue
			}
			if s, ok := v.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					return trimmed
				}
				continue
			}
			if list := CoerceStringList(v); len(list) > 0 {
				return list[0]
			}
		}
	}
	return ""
}

// lookupList finds the first non-empty coerced list for a logical field.
func lookupList(rs []map[string]any, field string) []string {
	for _, alias := range fieldAliases[field] {
		for _, r := range rs {
			v, ok := r[alias]
			if !ok {
				continue
			}
			if list := CoerceStringList(v); len(list) > 0 {
				return list
			}
		}
	}
	return nil
}

// CoerceStringList converts a string, array, or nested object into a
// deduplicated, order-preserving list of strings. Multi-line and
// semicolon-delimited strings are split into items when no native array is
// present; recursion into nested containers is bounded.
func CoerceStringList(v any) []string {
	items := coerce(v, 0)
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

func coerce(v any, depth int) []string {
	switch val := v.(type) {
	case string:
		return splitItems(val)
	case []any:
		if depth >= maxCoerceDepth {
			return nil
		}
		var out []string
		for _, e := range val {
			out = append(out, coerce(e, depth+1)...)
		}
		return out
	case map[string]any:
		if depth >= maxCoerceDepth {
			return nil
		}
		// Objects often carry the useful text under descriptive keys;
		// collect values in key order for determinism.
		var out []string
		for _, key := range sortedKeys(val) {
			out = append(out, coerce(val[key], depth+1)...)
		}
		return out
	case float64, bool:
		return nil
	default:
		return nil
	}
}

func splitItems(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		for _, part := range strings.FieldsFunc(line, func(r rune) bool {
			return r == ';' || r == '；'
		}) {
			part = strings.TrimSpace(part)
			part = strings.TrimLeft(part, "-•*0123456789. ")
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
