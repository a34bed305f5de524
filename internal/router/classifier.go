// Package router classifies completed user utterances and decides which
// backend should answer them.
//
// The [Classifier] analyses sentence text using compiled pattern tables and
// weighted keyword scoring to produce a [Decision] for each utterance. It
// deliberately avoids LLM calls on the hot path to keep classification
// latency well below 1 ms — fast enough to run inline in the audio relay
// loop. Uncertain decisions can optionally be confirmed by the [Verifier],
// which asks a small model off the hot path.
package router

import (
	"regexp"
	"sort"
	"strings"
)

// Complexity is the classified difficulty of an utterance.
type Complexity int

const (
	// Simple utterances are fully handled by the fast speech backend.
	Simple Complexity = iota

	// Complex utterances are additionally dispatched to the reasoning
	// backend.
	Complex

	// Uncertain utterances default to the speech backend but may be
	// escalated after verification.
	Uncertain
)

// String returns the human-readable name of the complexity class.
func (c Complexity) String() string {
	switch c {
	case Simple:
		return "simple"
	case Complex:
		return "complex"
	case Uncertain:
		return "uncertain"
	default:
		return "unknown"
	}
}

// Backend names used in decisions, events, and metrics.
const (
	// BackendPrimary is the fast speech backend.
	BackendPrimary = "primary"

	// BackendSecondary is the reasoning backend.
	BackendSecondary = "secondary"
)

// Decision is the outcome of classifying one utterance.
type Decision struct {
	// Complexity is the classified difficulty.
	Complexity Complexity

	// Confidence is the classifier's certainty in [0.0, 1.0].
	Confidence float64

	// Reason is a short human-readable explanation for logs and events.
	Reason string

	// Target names the backend that should answer: BackendPrimary or
	// BackendSecondary.
	Target string
}

// simplePatterns match utterances the speech backend handles on its own:
// greetings, back-channel, short factual questions, and flow-control
// commands. First match wins.
var simplePatterns = compile(
	`^(hi|hello|hey|good (morning|afternoon|evening)|howdy)\b`,
	`^how are you`,
	`^what'?s up`,
	`^(thanks|thank you|bye|goodbye|see you|later)\b`,
	`^what time is it`,
	`^what'?s the (time|date|weather)`,
	`^(yes|no|yeah|nope|okay|ok|sure|alright)\b`,
	`^(uh-?huh|hmm|i see|got it|makes sense|right|exactly)\b`,
	`^(stop|pause|cancel|nevermind|never mind)\b`,
	`^(repeat that|say that again|what did you say)\b`,
)

// complexPatterns match utterances that warrant the reasoning backend:
// explanation requests, code and math, research, multi-step tasks, and
// generation or analysis work.
var complexPatterns = compile(
	`\b(explain|why|how does|what causes|analyze|compare)\b.*\?`,
	`\b(difference between|pros and cons|advantages|disadvantages)\b`,
	`\b(code|program|function|class|bug|error|debug|fix)\b`,
	`\b(python|javascript|swift|rust|java|sql|api)\b`,
	`\b(algorithm|data structure|complexity|optimize)\b`,
	`\b(calculate|compute|solve|equation|formula|math)\b`,
	`\b\d+\s*[\+\-\*\/\^]\s*\d+`,
	`\b(research|study|paper|article|source|reference)\b`,
	`\b(history of|origin of|when was|who invented)\b`,
	`\b(definition|meaning of|what is a)\b.{10,}`,
	`\b(step by step|walk me through|guide|tutorial)\b`,
	`\b(first|then|after that|finally)\b.*\b(and|then)\b`,
	`\b(write|create|generate|compose|draft)\b.{15,}`,
	`\b(story|poem|essay|email|letter|report)\b`,
	`\b(summarize|summary|key points|main ideas)\b`,
	`\b(review|critique|evaluate|assess)\b`,
)

// complexityWeights boost the heuristic score when no pattern matched
// outright. Substring matches accumulate.
var complexityWeights = map[string]float64{
	"explain":      0.3,
	"why":          0.2,
	"how":          0.15,
	"analyze":      0.4,
	"compare":      0.3,
	"code":         0.5,
	"program":      0.4,
	"calculate":    0.3,
	"write":        0.25,
	"create":       0.2,
	"research":     0.3,
	"summarize":    0.35,
	"step by step": 0.4,
	"in detail":    0.3,
	"thoroughly":   0.3,
}

// Score thresholds for the keyword fallback path.
const (
	// complexThreshold is the minimum keyword score classified Complex.
	complexThreshold = 0.5

	// uncertainThreshold is the minimum keyword score classified Uncertain.
	uncertainThreshold = 0.25
)

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// Classifier decides per utterance which backend should answer. It is
// stateless and safe for concurrent use.
type Classifier struct {
	simple  []*regexp.Regexp
	complex []*regexp.Regexp
	weights map[string]float64
}

// NewClassifier creates a Classifier with the built-in pattern tables.
func NewClassifier() *Classifier {
	return &Classifier{
		simple:  simplePatterns,
		complex: complexPatterns,
		weights: complexityWeights,
	}
}

// Classify returns a routing Decision for the given utterance. It applies
// the following priority (highest first):
//
//  1. Very short text (under 3 characters) — Simple.
//  2. Simple pattern match — Simple.
//  3. Complex pattern match — Complex.
//  4. Weighted keyword score with length and question adjustments:
//     score ≥ 0.5 → Complex, score ≥ 0.25 → Uncertain, else Simple.
//
// Classify is goroutine-safe and performs no I/O.
func (c *Classifier) Classify(text string) Decision {
	lower := strings.ToLower(strings.TrimSpace(text))

	if len(lower) < 3 {
		return Decision{
			Complexity: Simple,
			Confidence: 0.9,
			Reason:     "very short utterance",
			Target:     BackendPrimary,
		}
	}

	for _, p := range c.simple {
		if p.MatchString(lower) {
			return Decision{
				Complexity: Simple,
				Confidence: 0.85,
				Reason:     "matched simple pattern",
				Target:     BackendPrimary,
			}
		}
	}

	for _, p := range c.complex {
		if p.MatchString(lower) {
			return Decision{
				Complexity: Complex,
				Confidence: 0.8,
				Reason:     "matched complex pattern",
				Target:     BackendSecondary,
			}
		}
	}

	score, matched := c.keywordScore(lower)

	// Longer utterances lean complex.
	switch words := len(strings.Fields(lower)); {
	case words > 20:
		score += 0.2
	case words > 10:
		score += 0.1
	}

	// Questions lean slightly complex.
	if strings.HasSuffix(strings.TrimSpace(text), "?") {
		score += 0.1
	}

	switch {
	case score >= complexThreshold:
		return Decision{
			Complexity: Complex,
			Confidence: min(0.9, 0.5+score),
			Reason:     "high keyword score: " + strings.Join(matched, ", "),
			Target:     BackendSecondary,
		}
	case score >= uncertainThreshold:
		return Decision{
			Complexity: Uncertain,
			Confidence: 0.5,
			Reason:     "medium keyword score",
			Target:     BackendPrimary,
		}
	default:
		return Decision{
			Complexity: Simple,
			Confidence: 0.7,
			Reason:     "low keyword score",
			Target:     BackendPrimary,
		}
	}
}

// keywordScore sums the weights of all keywords found in the lowercased
// text and returns the matched keywords for the decision reason.
func (c *Classifier) keywordScore(lower string) (float64, []string) {
	var (
		score   float64
		matched []string
	)
	for keyword, weight := range c.weights {
		if strings.Contains(lower, keyword) {
			score += weight
			matched = append(matched, keyword)
		}
	}
	sort.Strings(matched)
	return score, matched
}
