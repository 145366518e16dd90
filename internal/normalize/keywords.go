package normalize

import (
	"regexp"
	"strings"
)

// keywordBlocklist rejects meta-words that describe the summarization task
// instead of a research topic.
var keywordBlocklist = map[string]bool{
	"summary": true, "summaries": true, "analysis": true, "keyword": true,
	"keywords": true, "research": true, "topic": true, "topics": true,
	"content": true, "tweet": true, "tweets": true, "twitter": true,
	"post": true, "posts": true, "article": true, "thread": true,
	"misc": true, "general": true, "other": true, "unknown": true,
	"info": true, "information": true, "insight": true, "insights": true,
}

// keywordStopwords is applied per hyphen-segment; a keyword whose segments
// are all stopwords is rejected.
var keywordStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"in": true, "on": true, "for": true, "to": true, "with": true,
	"is": true, "are": true, "was": true, "be": true, "this": true,
	"that": true, "it": true, "as": true, "at": true, "by": true,
	"from": true, "how": true, "what": true, "why": true, "about": true,
	"your": true, "my": true, "our": true, "their": true,
}

var (
	nonIdentRe = regexp.MustCompile(`[^a-z0-9]+`)
	hashtagRe  = regexp.MustCompile(`#([A-Za-z][A-Za-z0-9_]*)`)
	letterRe   = regexp.MustCompile(`[a-z]`)
)

const (
	minKeywordLen = 3
	maxKeywordLen = 40
	maxKeywords   = 8
)

// NormalizeKeyword canonicalizes one research keyword: lowercase, non-ASCII
// stripped, non-identifier runs collapsed to hyphens, stopword segments
// dropped, 3-40 characters, must contain a letter, not a blocklisted
// meta-word. Normalization is idempotent.
func NormalizeKeyword(raw string) (string, bool) {
	lower := strings.ToLower(raw)

	var ascii strings.Builder
	for _, r := range lower {
		if r < 128 {
			ascii.WriteRune(r)
		}
	}
	s := nonIdentRe.ReplaceAllString(ascii.String(), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "", false
	}

	segments := strings.Split(s, "-")
	kept := segments[:0]
	for _, seg := range segments {
		if seg == "" || keywordStopwords[seg] {
			continue
		}
		kept = append(kept, seg)
	}
	s = strings.Join(kept, "-")

	if len(s) < minKeywordLen || len(s) > maxKeywordLen {
		return "", false
	}
	if !letterRe.MatchString(s) {
		return "", false
	}
	if keywordBlocklist[s] {
		return "", false
	}
	return s, true
}

// NormalizeKeywords canonicalizes and deduplicates a keyword list,
// preserving order.
func NormalizeKeywords(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, r := range raw {
		kw, ok := NormalizeKeyword(r)
		if !ok || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
		if len(out) >= maxKeywords {
			break
		}
	}
	return out
}

// SynthesizeKeywords builds research keywords when the model produced none:
// tags, key-technology names, library names, and hashtags pulled from the
// source text, all normalized through the same rules.
func SynthesizeKeywords(tags, technologies, libraries []string, sourceText string) []string {
	var raw []string
	raw = append(raw, tags...)
	raw = append(raw, technologies...)
	raw = append(raw, libraries...)
	for _, match := range hashtagRe.FindAllStringSubmatch(sourceText, -1) {
		raw = append(raw, match[1])
	}
	return NormalizeKeywords(raw)
}
