// Package safety implements the safety filter: content inspection
// before persistence, applying block/redact/warn actions per detector.
package safety

import (
	"regexp"
	"strings"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/kernelerr"
)

// Action is one of the three dispositions a detector's rule can carry.
type Action string

const (
	ActionBlock  Action = "block"
	ActionRedact Action = "redact"
	ActionWarn   Action = "warn"
)

// Finding records one detector match and the span it covers in the
// original content.
type Finding struct {
	Kind       string `json:"kind"`
	Span       [2]int `json:"span"`
	MatchedLen int    `json:"-"`
}

// Result is the output of a single Filter.Inspect call.
type Result struct {
	Action           Action    `json:"action"`
	SanitizedContent string    `json:"sanitizedContent"`
	Findings         []Finding `json:"findings"`
}

var detectorPatterns = map[string]*regexp.Regexp{
	"email":       regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	"phone":       regexp.MustCompile(`\+?\d{1,3}?[-. (]*\d{3}[-. )]*\d{3}[-. ]*\d{4}`),
	"national_id": regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"credit_card": regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),
	"ip_address":  regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`),
	"api_key":     regexp.MustCompile(`\b(?:sk|pk|api|key)[-_][A-Za-z0-9]{16,}\b`),
}

// Filter applies the detector/action rules from config.SafetyConfig.
type Filter struct {
	cfg config.SafetyConfig
}

// New constructs a Filter bound to the given safety configuration.
func New(cfg config.SafetyConfig) *Filter {
	return &Filter{cfg: cfg}
}

// Inspect scans content for every detector named in the Filter's rules,
// applying the most severe action among them: block beats redact beats warn.
// When disabled, content always passes through unchanged.
func (f *Filter) Inspect(content string) (Result, error) {
	if !f.cfg.Enabled {
		return Result{Action: ActionWarn, SanitizedContent: content}, nil
	}

	if f.cfg.MaxChars > 0 && len(content) > f.cfg.MaxChars {
		return Result{}, &kernelerr.PolicyViolation{
			Rule:   "length_cap",
			Reason: "content exceeds max_chars",
		}
	}

	var findings []Finding
	blocked := false

	for kind, action := range f.cfg.Rules {
		if Action(action) == "" {
			continue
		}
		matches := findMatches(kind, content, f.cfg.SensitiveWords)
		if len(matches) == 0 {
			continue
		}
		if Action(action) == ActionBlock {
			blocked = true
		}
		findings = append(findings, matches...)
	}

	if blocked {
		return Result{}, &kernelerr.PolicyViolation{
			Rule:   "content_detector",
			Reason: "blocked content detected",
		}
	}

	sanitized := content
	for kind, action := range f.cfg.Rules {
		if Action(action) != ActionRedact {
			continue
		}
		sanitized = redactKind(kind, sanitized, f.cfg.SensitiveWords)
	}

	// Warn-only matches leave content untouched and are reported as such;
	// the result is redact only when a redact-rule detector actually fired.
	action := ActionWarn
	for _, finding := range findings {
		if Action(f.cfg.Rules[finding.Kind]) == ActionRedact {
			action = ActionRedact
			break
		}
	}

	return Result{Action: action, SanitizedContent: sanitized, Findings: findings}, nil
}

func findMatches(kind, content string, sensitiveWords []string) []Finding {
	if kind == "sensitive_word" {
		return findSensitiveWords(content, sensitiveWords)
	}
	re, ok := detectorPatterns[kind]
	if !ok {
		return nil
	}
	var out []Finding
	for _, loc := range re.FindAllStringIndex(content, -1) {
		out = append(out, Finding{Kind: kind, Span: [2]int{loc[0], loc[1]}})
	}
	return out
}

func findSensitiveWords(content string, words []string) []Finding {
	var out []Finding
	lower := strings.ToLower(content)
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		start := 0
		for {
			idx := strings.Index(lower[start:], w)
			if idx < 0 {
				break
			}
			abs := start + idx
			out = append(out, Finding{Kind: "sensitive_word", Span: [2]int{abs, abs + len(w)}})
			start = abs + len(w)
		}
	}
	return out
}

func redactKind(kind, content string, sensitiveWords []string) string {
	if kind == "sensitive_word" {
		for _, w := range sensitiveWords {
			w = strings.TrimSpace(w)
			if w == "" {
				continue
			}
			content = replaceCaseInsensitive(content, w)
		}
		return content
	}
	re, ok := detectorPatterns[kind]
	if !ok {
		return content
	}
	return re.ReplaceAllStringFunc(content, func(m string) string {
		return strings.Repeat("*", len(m))
	})
}

func replaceCaseInsensitive(content, word string) string {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(word))
	return re.ReplaceAllStringFunc(content, func(m string) string {
		return strings.Repeat("*", len(m))
	})
}
