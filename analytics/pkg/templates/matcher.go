package templates

import (
	"cmp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/altocentral/backend/analytics/pkg/metrics"
)

const (
	DefaultMinConfidence    = 0.7
	DefaultSuggestionMin    = 0.5
	DefaultSuggestionsLimit = 5

	siteBoost = 0.1
)

// Match is a template selected for a prompt together with its confidence.
type Match struct {
	Template   *Template
	Confidence float64
}

// Normalize lowercases s, drops everything but letters, digits, underscores,
// hyphens and whitespace, and collapses whitespace runs.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

type prompt struct {
	text  string
	words map[string]bool
	runes int
}

func newPrompt(s string) prompt {
	text := Normalize(s)
	words := map[string]bool{}
	for _, w := range strings.Fields(text) {
		words[w] = true
	}
	return prompt{text: text, words: words, runes: utf8.RuneCountInString(text)}
}

func (p prompt) mentions(keyword string) bool {
	k := Normalize(keyword)
	if k == "" {
		return false
	}
	return p.words[k] || strings.Contains(p.text, k)
}

// PhraseScore scores one trigger phrase against a prompt. A phrase contained in
// the prompt scores 0.5 plus half its share of the prompt length; otherwise the
// share of phrase words found in the prompt is scaled to at most 0.6.
func PhraseScore(phrase, request string) float64 {
	return newPrompt(request).score(phrase)
}

func (p prompt) score(phrase string) float64 {
	ph := Normalize(phrase)
	if ph == "" || p.text == "" {
		return 0
	}
	if strings.Contains(p.text, ph) {
		return 0.5 + 0.5*float64(utf8.RuneCountInString(ph))/float64(p.runes)
	}
	words := map[string]bool{}
	for _, w := range strings.Fields(ph) {
		words[w] = true
	}
	overlap := 0
	for w := range words {
		if p.words[w] {
			overlap++
		}
	}
	return 0.6 * float64(overlap) / float64(len(words))
}

// confidence returns the template's raw score, or false when an excluded
// keyword is present or a required group is unmet.
func (p prompt) confidence(t *Template) (float64, bool) {
	m := t.Matching
	for _, k := range m.ExcludedKeywords {
		if p.mentions(k) {
			return 0, false
		}
	}
	for _, group := range m.RequiredKeywords {
		if !slices.ContainsFunc(group, p.mentions) {
			return 0, false
		}
	}
	best := 0.0
	for _, phrase := range m.TriggerPhrases {
		best = max(best, p.score(phrase))
	}
	return best, true
}

func threshold(t *Template) float64 {
	if t.Matching.ConfidenceThreshold == 0 {
		return DefaultConfidenceThreshold
	}
	return t.Matching.ConfidenceThreshold
}

func boosted(t *Template, site string, score float64) float64 {
	if site != "" && t.Site == site {
		return score + siteBoost
	}
	return score
}

// FindMatch picks the best template for request. A template must clear its own
// confidence threshold before the site boost is applied; the boosted winner
// must then reach minConfidence. Ties go to the template listed first.
func FindMatch(request, site string, catalog []*Template, minConfidence float64) (Match, bool) {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	p := newPrompt(request)
	var best Match
	for _, t := range catalog {
		score, ok := p.confidence(t)
		if !ok || score < threshold(t) {
			continue
		}
		score = boosted(t, site, score)
		if score > best.Confidence {
			best = Match{Template: t, Confidence: score}
		}
	}
	if best.Template == nil || best.Confidence < minConfidence {
		metrics.TemplateMatchesTotal.WithLabelValues("miss").Inc()
		return Match{}, false
	}
	metrics.TemplateMatchesTotal.WithLabelValues("hit").Inc()
	return best, true
}

// FindAllMatches ranks every template whose raw score reaches minConfidence,
// boosted for the caller's site, best first, at most limit entries.
func FindAllMatches(request, site string, catalog []*Template, minConfidence float64, limit int) []Match {
	if minConfidence <= 0 {
		minConfidence = DefaultSuggestionMin
	}
	if limit <= 0 {
		limit = DefaultSuggestionsLimit
	}
	p := newPrompt(request)
	var out []Match
	for _, t := range catalog {
		score, ok := p.confidence(t)
		if !ok || score < minConfidence {
			continue
		}
		out = append(out, Match{Template: t, Confidence: boosted(t, site, score)})
	}
	slices.SortStableFunc(out, func(a, b Match) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
