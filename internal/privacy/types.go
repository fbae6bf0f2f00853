package privacy

import "regexp"

// MaxTextLength caps how much text the pattern battery scans
const MaxTextLength = 20000

// DetectionRule represents a single PII pattern matcher
type DetectionRule struct {
	Name    string
	Label   string
	Pattern *regexp.Regexp
	Score   float64
	// Validate, when set, must accept the matched text for it to count
	Validate func(match string) bool
	// Bounded rejects matches that continue a preceding word or number
	Bounded bool
}

// GetDefaultRules returns the built-in rule battery
func GetDefaultRules() []DetectionRule {
	return []DetectionRule{
		{
			Name:    "email",
			Label:   "EMAIL",
			Pattern: regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`),
			Score:   0.90,
		},
		{
			Name:    "phone",
			Label:   "PHONE_NUMBER",
			Pattern: regexp.MustCompile(`(?:\+?\d{1,3}[\s.-]?)?(?:\(?\d{2,4}\)?[\s.-]?)?\d{3,4}[\s.-]?\d{3,4}\b`),
			Score:   0.75,
			Bounded: true,
		},
		{
			Name:     "credit_card",
			Label:    "CREDIT_CARD",
			Pattern:  regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`),
			Score:    0.85,
			Validate: luhnValid,
		},
		{
			Name:    "iban",
			Label:   "IBAN",
			Pattern: regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b`),
			Score:   0.80,
		},
		{
			Name:    "national_id",
			Label:   "NATIONAL_ID",
			Pattern: regexp.MustCompile(`\b[STFG]\d{7}[A-Z]\b`),
			Score:   0.90,
		},
	}
}

// luhnValid checks the Luhn checksum over the digits of s, which must contain
// between 13 and 19 digits.
func luhnValid(s string) bool {
	digits := make([]int, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
