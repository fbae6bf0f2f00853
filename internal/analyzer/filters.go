package analyzer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/raaihank/photo-sentinel/internal/pii"
)

// FilterConfig holds the noise rules applied to recognized entities
type FilterConfig struct {
	BroadLabels        []string
	ShortAllowlist     []string
	CommonWords        []string
	CommonWordMinScore float64
	SnippetContext     int
}

// filter is the compiled form of FilterConfig
type filter struct {
	broad          map[string]bool
	shortAllowed   map[string]bool
	common         map[string]bool
	commonMinScore float64
}

const shortSnippetRunes = 3

func newFilter(cfg FilterConfig) *filter {
	f := &filter{
		broad:          upperSet(cfg.BroadLabels),
		shortAllowed:   upperSet(cfg.ShortAllowlist),
		common:         make(map[string]bool, len(cfg.CommonWords)),
		commonMinScore: cfg.CommonWordMinScore,
	}
	for _, w := range cfg.CommonWords {
		f.common[strings.ToLower(w)] = true
	}
	return f
}

func upperSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToUpper(v)] = true
	}
	return set
}

// keep reports whether an entity over text survives every rule
func (f *filter) keep(e pii.Entity, text string, threshold float64) (bool, string) {
	if e.Score < threshold {
		return false, "below_threshold"
	}
	if f.broad[strings.ToUpper(e.Label)] {
		return false, "broad_label"
	}

	snippet := strings.TrimSpace(text[e.Start:e.End])
	runes := utf8.RuneCountInString(snippet)

	if runes == 1 {
		r, _ := utf8.DecodeRuneInString(snippet)
		if unicode.IsLetter(r) {
			return false, "single_letter"
		}
	}
	if runes <= shortSnippetRunes && !f.shortAllowed[strings.ToUpper(snippet)] {
		return false, "short_snippet"
	}
	if f.common[strings.ToLower(snippet)] && e.Score < f.commonMinScore {
		return false, "common_word"
	}
	return true, ""
}
