package privacy

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/pii"
	"go.uber.org/zap"
)

// Detector runs the regex and checksum battery over raw text
type Detector struct {
	rules   []DetectionRule
	enabled map[string]bool
	logger  *logger.Logger
}

// New creates a new heuristic detector with the named rules enabled ("all" enables every rule)
func New(detectors []string, log *logger.Logger) (*Detector, error) {
	detector := &Detector{
		rules:   GetDefaultRules(),
		enabled: make(map[string]bool),
		logger:  log,
	}

	if err := detector.configureDetectors(detectors); err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	log.Info("Heuristic detector initialized",
		zap.Int("total_rules", len(detector.rules)),
		zap.Int("enabled_rules", detector.countEnabledRules()),
	)

	return detector, nil
}

// configureDetectors enables/disables rules based on configuration
func (d *Detector) configureDetectors(detectors []string) error {
	for _, rule := range d.rules {
		d.enabled[rule.Name] = false
	}

	for _, detector := range detectors {
		if detector == "all" {
			for _, rule := range d.rules {
				d.enabled[rule.Name] = true
			}
			continue
		}

		found := false
		for _, rule := range d.rules {
			if rule.Name == detector {
				d.enabled[rule.Name] = true
				found = true
				break
			}
		}

		if !found {
			return fmt.Errorf("unknown detector: %s", detector)
		}
	}

	return nil
}

// Detect returns every entity found in text, ordered by start offset
func (d *Detector) Detect(text string) []pii.Entity {
	text = capText(text, MaxTextLength)

	var entities []pii.Entity
	for _, rule := range d.rules {
		if !d.enabled[rule.Name] {
			continue
		}

		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			if rule.Bounded && continuesToken(text, start) {
				continue
			}
			if rule.Validate != nil && !rule.Validate(text[start:end]) {
				continue
			}
			entities = append(entities, pii.Entity{
				Label: rule.Label,
				Start: start,
				End:   end,
				Score: rule.Score,
			})
		}
	}

	entities = dropShadowedPhones(entities)

	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Start != entities[j].Start {
			return entities[i].Start < entities[j].Start
		}
		return entities[i].Label < entities[j].Label
	})

	if len(entities) > 0 {
		d.logger.Debug("Heuristic entities detected", zap.Int("count", len(entities)))
	}

	return entities
}

// Redact replaces every detected entity with its label, for log output
func (d *Detector) Redact(text string) string {
	entities := d.Detect(text)
	if len(entities) == 0 {
		return capText(text, MaxTextLength)
	}
	text = capText(text, MaxTextLength)

	var b strings.Builder
	cursor := 0
	for _, e := range entities {
		if e.Start < cursor {
			continue
		}
		b.WriteString(text[cursor:e.Start])
		b.WriteString("[" + e.Label + "]")
		cursor = e.End
	}
	b.WriteString(text[cursor:])
	return b.String()
}

// dropShadowedPhones removes phone matches that overlap a stronger numeric entity
func dropShadowedPhones(entities []pii.Entity) []pii.Entity {
	kept := make([]pii.Entity, 0, len(entities))
	for _, e := range entities {
		if e.Label == "PHONE_NUMBER" && overlapsOther(e, entities) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func overlapsOther(phone pii.Entity, entities []pii.Entity) bool {
	for _, other := range entities {
		switch other.Label {
		case "CREDIT_CARD", "IBAN", "NATIONAL_ID":
			if phone.Overlaps(other.Start, other.End) {
				return true
			}
		}
	}
	return false
}

// continuesToken reports whether the rune before start is a letter or digit
func continuesToken(text string, start int) bool {
	if start == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:start])
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// capText truncates text to at most n bytes without splitting a rune
func capText(text string, n int) string {
	if len(text) <= n {
		return text
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}

// countEnabledRules returns the number of enabled detection rules
func (d *Detector) countEnabledRules() int {
	count := 0
	for _, enabled := range d.enabled {
		if enabled {
			count++
		}
	}
	return count
}

// GetEnabledRules returns a sorted list of enabled rule names
func (d *Detector) GetEnabledRules() []string {
	var enabled []string
	for ruleName, isEnabled := range d.enabled {
		if isEnabled {
			enabled = append(enabled, ruleName)
		}
	}
	sort.Strings(enabled)
	return enabled
}
