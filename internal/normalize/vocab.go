package normalize

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/jonathan/bookmark-agent/internal/llm"
	"github.com/jonathan/bookmark-agent/internal/prompts"
	"github.com/jonathan/bookmark-agent/internal/types"
)

// VocabEntry is one structured vocabulary lookup result.
type VocabEntry struct {
	Term         string   `json:"term"`
	DefinitionZh string   `json:"definition_zh"`
	DefinitionEn string   `json:"definition_en"`
	Examples     []string `json:"examples,omitempty"`
	Register     string   `json:"register,omitempty"`
}

// vocabSchema is the structural contract a vocabulary response must satisfy.
const vocabSchema = `{
	"type": "object",
	"required": ["term", "definition_zh", "definition_en"],
	"properties": {
		"term": {"type": "string", "minLength": 1},
		"definition_zh": {"type": "string", "minLength": 1},
		"definition_en": {"type": "string", "minLength": 1},
		"examples": {"type": "array", "items": {"type": "string"}},
		"register": {"type": "string"}
	}
}`

var vocabSchemaLoader = gojsonschema.NewStringLoader(vocabSchema)

// Vocabulary looks up a term through the provider chain. Unlike summaries
// there is no deterministic fallback; when every provider fails the caller
// gets ErrServiceUnavailable. Malformed model output gets one repair pass
// before the provider is considered failed.
func (s *Summarizer) Vocabulary(ctx context.Context, term string) (*VocabEntry, error) {
	candidates, _, err := s.selector.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, &types.ErrServiceUnavailable{
			Upstream: "llm",
			Detail:   "no enabled providers configured",
		}
	}

	var lastErr error
	for _, p := range candidates {
		entry, err := s.tryVocabProvider(ctx, p, term)
		if err != nil {
			s.log.Warn("provider failed for vocabulary lookup",
				zap.String("provider", p.Name),
				zap.String("term", term),
				zap.Error(err))
			lastErr = err
			continue
		}
		return entry, nil
	}
	return nil, &types.ErrServiceUnavailable{
		Upstream: "llm",
		Detail:   fmt.Sprintf("all providers failed for term %q", term),
		Cause:    lastErr,
	}
}

func (s *Summarizer) tryVocabProvider(ctx context.Context, p types.ProviderConfig, term string) (*VocabEntry, error) {
	client, err := s.factory(p)
	if err != nil {
		return nil, fmt.Errorf("client for %s: %w", p.Name, err)
	}

	system, err := s.prompts.Get("vocab.json", "system")
	if err != nil {
		return nil, err
	}
	template, err := s.prompts.Get("vocab.json", "lookup")
	if err != nil {
		return nil, err
	}
	user := prompts.Format(template, map[string]string{"Term": term})

	raw, err := client.ChatJSON(ctx, llm.Request{
		Model:       p.MiniModel,
		System:      system,
		User:        user,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}
	s.recordSpend(ctx, len(user)+len(raw))

	entry, parseErr := parseVocab(raw)
	if parseErr == nil {
		return entry, nil
	}

	// One repair pass: hand the broken output back and ask for a reformat
	// only, never new content.
	repairTemplate, err := s.prompts.Get("vocab.json", "repair")
	if err != nil {
		return nil, err
	}
	repaired, err := client.ChatJSON(ctx, llm.Request{
		Model:       p.MiniModel,
		System:      system,
		User:        prompts.Format(repairTemplate, map[string]string{"Term": term, "Raw": raw}),
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("repair call failed after parse error (%v): %w", parseErr, err)
	}
	s.recordSpend(ctx, len(raw)+len(repaired))

	entry, err = parseVocab(repaired)
	if err != nil {
		return nil, fmt.Errorf("vocabulary output invalid even after repair: %w", err)
	}
	return entry, nil
}

func parseVocab(raw string) (*VocabEntry, error) {
	span := llm.ExtractJSONSpan(raw)

	result, err := gojsonschema.Validate(vocabSchemaLoader, gojsonschema.NewStringLoader(span))
	if err != nil {
		return nil, fmt.Errorf("vocabulary output is not parseable JSON: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("vocabulary output failed schema validation: %v", result.Errors())
	}

	var entry VocabEntry
	if err := json.Unmarshal([]byte(span), &entry); err != nil {
		return nil, fmt.Errorf("vocabulary output did not decode: %w", err)
	}
	return &entry, nil
}
