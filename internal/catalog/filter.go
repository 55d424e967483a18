package catalog

import (
	"strings"

	"github.com/Dhanuzh/airefiner/internal/provider"
)

// RulesVersion tags the built-in keyword tables. Bump it whenever a table changes.
const RulesVersion = "2025.1"

// Decision is the outcome of classifying one raw model.
type Decision int

const (
	Exclude Decision = iota
	Include
)

func (d Decision) String() string {
	if d == Include {
		return "include"
	}
	return "exclude"
}

// Built-in exclude categories. Matching is by substring on the lower-cased
// identifier, so short stems like "vid" also match longer names.
var excludeCategories = map[string][]string{
	"vision":    {"image", "vision", "dalle", "clip", "vit", "img", "visual", "pic", "photo"},
	"audio":     {"audio", "tts", "whisper", "speech", "voice", "sound", "music"},
	"video":     {"video", "vid", "motion", "animation"},
	"embedding": {"embed", "embedding", "similarity", "vector", "retrieval"},
	"code":      {"code", "programming", "dev", "developer"},
	"safety":    {"moderation", "safety", "content-filter", "toxic", "guard", "guardian", "safety-model"},
	"training":  {"fine-tune", "finetune", "training", "custom"},
	"reasoning": {"reasoning", "math", "science", "research"},
	"edit":      {"edit", "davinci-edit", "curie-edit"},
}

var defaultInclude = []string{
	"chat", "gpt", "claude", "gemini", "llama", "mistral", "qwen", "deepseek", "grok",
	"text", "language", "conversation", "instruct", "assistant",
}

var defaultProviderExcludes = map[provider.ID][]string{
	provider.OpenAI: {"davinci-edit", "curie-edit", "babbage-edit", "ada-edit"},
	provider.Google: {"bison", "gecko", "otter", "unicorn"},
	provider.Groq:   {"whisper", "distil-whisper"},
}

// RuleSet is the data-driven rule table consulted by Classify. It is built
// once at startup and treated as read-only afterwards.
type RuleSet struct {
	Version          string
	Include          []string
	Exclude          []string
	CustomExcludes   []string
	ProviderExcludes map[provider.ID][]string
	// Strict requires an include match; otherwise "not excluded" is enough.
	Strict bool
}

// DefaultRules returns the built-in tables in strict mode.
func DefaultRules() RuleSet {
	var exclude []string
	for _, cat := range []string{"vision", "audio", "video", "embedding", "code", "safety", "training", "reasoning", "edit"} {
		exclude = append(exclude, excludeCategories[cat]...)
	}
	pex := make(map[provider.ID][]string, len(defaultProviderExcludes))
	for id, kws := range defaultProviderExcludes {
		pex[id] = append([]string(nil), kws...)
	}
	return RuleSet{
		Version:          RulesVersion,
		Include:          append([]string(nil), defaultInclude...),
		Exclude:          exclude,
		ProviderExcludes: pex,
		Strict:           true,
	}
}

// WithCustomExcludes returns a copy of r with extra user keywords appended.
func (r RuleSet) WithCustomExcludes(keywords ...string) RuleSet {
	out := r
	out.CustomExcludes = append(append([]string(nil), r.CustomExcludes...), lowerAll(keywords)...)
	return out
}

// Classify decides whether a raw model belongs in the text-only listing.
// It is a pure function of its arguments.
func Classify(rules RuleSet, id provider.ID, rawID string, metadata ...string) Decision {
	d, _ := ClassifyWithReason(rules, id, rawID, metadata...)
	return d
}

// ClassifyWithReason is Classify plus the keyword that decided the outcome
// ("" when an unmatched model is let through or failed closed).
func ClassifyWithReason(rules RuleSet, id provider.ID, rawID string, metadata ...string) (Decision, string) {
	fields := make([]string, 0, len(metadata)+1)
	fields = append(fields, strings.ToLower(rawID))
	for _, m := range metadata {
		if m != "" {
			fields = append(fields, strings.ToLower(m))
		}
	}

	// Exclusion wins over any include match.
	if kw, ok := matchAny(fields, rules.Exclude); ok {
		return Exclude, kw
	}
	if kw, ok := matchAny(fields, rules.CustomExcludes); ok {
		return Exclude, kw
	}
	if kw, ok := matchAny(fields, rules.ProviderExcludes[id]); ok {
		return Exclude, kw
	}

	if !rules.Strict {
		return Include, ""
	}
	if kw, ok := matchAny(fields, rules.Include); ok {
		return Include, kw
	}
	return Exclude, ""
}

func matchAny(fields, keywords []string) (string, bool) {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		for _, f := range fields {
			if strings.Contains(f, kw) {
				return kw, true
			}
		}
	}
	return "", false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
