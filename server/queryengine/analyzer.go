// Package queryengine scores a query's estimated reasoning difficulty.
// The analyzer is a pure function of the query text and conversation
// length: no I/O, deterministic, and it never fails.
package queryengine

import (
	"regexp"
	"strings"
)

// Tier is the discrete complexity classification.
type Tier string

const (
	// TierSimple covers greetings, acknowledgments, and vague asks.
	TierSimple Tier = "simple"
	// TierModerate covers concrete single-topic business questions.
	TierModerate Tier = "moderate"
	// TierComplex covers strategic, multi-part, or data-analysis asks.
	TierComplex Tier = "complex"
)

// Complexity is the analyzer's result.
type Complexity struct {
	Tier       Tier
	Score      float64 // 0-1, higher = harder
	Confidence float64 // 0-1
	Signals    []string
}

// maxAnalyzedChars bounds the scanned input so analysis stays constant
// time for pathological inputs.
const maxAnalyzedChars = 4000

// Analyzer is the rule-based complexity scorer.
type Analyzer struct {
	greetingPatterns []*regexp.Regexp
	boosterPatterns  []*regexp.Regexp
	questionPatterns []*regexp.Regexp

	vagueKeywords     []string
	businessKeywords  []string
	strategicKeywords []string
	dataKeywords      []string
	ackWords          []string
}

// NewAnalyzer creates an analyzer with the built-in keyword rules.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		greetingPatterns: compileAll(
			`^(hi|hello|hey|good morning|good afternoon|good evening)\b`,
			`^(how are you|what('s| is) up|how('s| is) it going)`,
			`^(thanks|thank you|thx|appreciate)`,
			`^(bye|goodbye|see you|talk later)`,
			`^(sorry|my bad|oops)`,
		),
		boosterPatterns: compileAll(
			`compare\b.*\boptions`,
			`evaluate\b.*\balternatives`,
			`pros\b.*\bcons`,
			`trade.?offs?`,
			`multiple\b.*\bfactors`,
			`several\b.*\bissues`,
		),
		questionPatterns: compileAll(
			`why\b.*\band\b.*\bhow`,
			`what\b.*\bif\b.*\bthen`,
			`how\b.*\bwould\b.*\baffect`,
			`what\b.*\bimpact\b.*\bon`,
			`which\b.*\bbetter\b.*\bfor`,
		),
		vagueKeywords: []string{
			"help", "advice", "guidance", "suggestions", "ideas",
			"what should i", "how can i", "looking for",
		},
		businessKeywords: []string{
			"pricing", "revenue", "costs", "expenses", "budget", "forecast",
			"hiring", "recruitment", "team", "staff",
			"marketing", "sales", "customers", "clients", "leads",
			"operations", "processes", "workflow", "efficiency",
			"tools", "software", "systems", "crm",
		},
		strategicKeywords: []string{
			"strategy", "strategic", "vision", "mission", "roadmap",
			"swot", "porter", "mckinsey", "framework", "business model",
			"competitive analysis", "market analysis",
			"roi", "investment", "valuation", "business case",
			"margin", "cash flow", "funding", "capital",
			"acquisition", "merger", "partnership", "expansion", "scaling",
			"restructure", "transformation", "pivot",
			"risk", "opportunity", "differentiation", "value proposition",
		},
		dataKeywords: []string{
			"analyze", "report", "data", "spreadsheet", "csv", "excel",
			"metrics", "kpi", "dashboard", "analytics", "trends",
		},
		ackWords: []string{"yes", "no", "ok", "okay", "thanks", "sure", "cool"},
	}
}

// Analyze scores the query text. historyTurns is the number of prior
// conversation turns; longer conversations nudge the score upward.
func (a *Analyzer) Analyze(text string, historyTurns int) Complexity {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		// Unparseable input maps to the lowest-confidence moderate
		// default rather than failing.
		return Complexity{Tier: TierModerate, Score: 0.5, Confidence: 0.2, Signals: []string{"empty_input"}}
	}
	if len(trimmed) > maxAnalyzedChars {
		trimmed = trimmed[:maxAnalyzedChars]
	}
	lower := strings.ToLower(trimmed)
	words := strings.Fields(lower)

	for _, p := range a.greetingPatterns {
		if p.MatchString(lower) {
			return Complexity{Tier: TierSimple, Score: 0.1, Confidence: 0.95, Signals: []string{"greeting"}}
		}
	}
	if len(words) <= 3 && containsAny(lower, a.ackWords) {
		return Complexity{Tier: TierSimple, Score: 0.05, Confidence: 0.95, Signals: []string{"acknowledgment"}}
	}

	var score float64
	var signals []string

	if hit := firstMatch(lower, a.dataKeywords); hit != "" {
		score += 0.8
		signals = append(signals, "data_keywords:"+hit)
	}
	if hit := firstMatch(lower, a.strategicKeywords); hit != "" {
		score += 0.7
		signals = append(signals, "strategic_keywords:"+hit)
	}
	if hit := firstMatch(lower, a.businessKeywords); hit != "" {
		score += 0.4
		signals = append(signals, "business_keywords:"+hit)
	}
	if hit := firstMatch(lower, a.vagueKeywords); hit != "" {
		score += 0.2
		signals = append(signals, "vague_keywords:"+hit)
	}

	switch {
	case len(words) > 50:
		score += 0.3
		signals = append(signals, "long_query")
	case len(words) > 25:
		score += 0.2
		signals = append(signals, "medium_query")
	}

	if strings.Count(trimmed, "?") > 1 {
		score += 0.2
		signals = append(signals, "multiple_questions")
	}
	for _, p := range a.boosterPatterns {
		if p.MatchString(lower) {
			score += 0.3
			signals = append(signals, "comparison_pattern")
			break
		}
	}
	for _, p := range a.questionPatterns {
		if p.MatchString(lower) {
			score += 0.25
			signals = append(signals, "multi_step_question")
			break
		}
	}
	if historyTurns > 3 {
		score += 0.1
		signals = append(signals, "long_conversation")
	}

	if score > 1.0 {
		score = 1.0
	}

	tier := TierModerate
	switch {
	case score <= 0.4:
		tier = TierSimple
	case score <= 0.65:
		tier = TierModerate
	default:
		tier = TierComplex
	}

	confidence := 0.5 + 0.1*float64(len(signals))
	if confidence > 0.9 {
		confidence = 0.9
	}
	if len(signals) == 0 {
		confidence = 0.4
		signals = []string{"no_signals"}
	}

	return Complexity{Tier: tier, Score: score, Confidence: confidence, Signals: signals}
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

func firstMatch(text string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw
		}
	}
	return ""
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
