package match

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Cheap prefilters that kill obviously-wrong candidates before any
// confirmation call is spent.

var (
	// $2,100 / $100K / $1.5M style amounts.
	dollarRE = regexp.MustCompile(`\$([\d,]+(?:\.\d+)?)\s*([KkMmBb])?`)
	// Bare measurements used by weather markets (3 inches, 4.5 in).
	inchesRE = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s+(?:inches|inch|in)\b`)
)

var suffixMultipliers = map[string]float64{
	"k": 1e3,
	"m": 1e6,
	"b": 1e9,
}

// DatesCompatible reports whether two end dates are close enough to plausibly
// describe the same event. A missing date on either side defers the decision
// to the confirmation step.
func DatesCompatible(a, b *time.Time, tolerance time.Duration) bool {
	if a == nil || b == nil {
		return true
	}
	diff := a.Sub(*b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// ExtractThresholds pulls the significant numeric thresholds out of a
// question text: dollar amounts and inch measurements.
func ExtractThresholds(text string) map[float64]struct{} {
	values := make(map[float64]struct{})
	for _, m := range dollarRE.FindAllStringSubmatch(text, -1) {
		num := strings.ReplaceAll(m[1], ",", "")
		v, err := strconv.ParseFloat(num, 64)
		if err != nil {
			continue
		}
		if m[2] != "" {
			v *= suffixMultipliers[strings.ToLower(m[2])]
		}
		values[v] = struct{}{}
	}
	for _, m := range inchesRE.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		values[v] = struct{}{}
	}
	return values
}

// ThresholdsCompatible returns false only when both questions carry numeric
// thresholds and none of them overlap. That one check eliminates the
// near-duplicate price-bin markets ($2,100 vs $2,750) that dominate
// embedding candidates. Either side having no numbers defers to confirmation.
func ThresholdsCompatible(questionA, questionB string) bool {
	a := ExtractThresholds(questionA)
	b := ExtractThresholds(questionB)
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for v := range a {
		if _, ok := b[v]; ok {
			return true
		}
	}
	return false
}
