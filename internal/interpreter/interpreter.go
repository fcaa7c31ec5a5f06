// Package interpreter turns the free-text verdict returned by the inference
// oracle into a label and a confidence percentage.
//
// The oracle answers in prose. Nothing here fails: text without the expected
// markers falls back to FAKE at 50% confidence, and the raw text is always
// kept as the explanation.
package interpreter

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Labels produced by Interpret.
const (
	LabelReal = "REAL"
	LabelFake = "FAKE"
)

// DefaultConfidence is reported when the text carries no confidence figure.
const DefaultConfidence = 50

var (
	classificationPattern = regexp.MustCompile(`(?i)classification\s*:[\s*_]*(real|fake)\b`)
	confidencePattern     = regexp.MustCompile(`(?i)confidence\s*:`)
	integerPattern        = regexp.MustCompile(`\d+`)
)

// Verdict is the structured reading of one oracle response.
type Verdict struct {
	Label       string
	Confidence  int
	Explanation string
}

// Interpret extracts the verdict from text.
func Interpret(text string) Verdict {
	return Verdict{
		Label:       label(text),
		Confidence:  confidence(text),
		Explanation: text,
	}
}

func label(text string) string {
	match := classificationPattern.FindStringSubmatch(text)
	if match == nil {
		return LabelFake
	}
	return strings.ToUpper(match[1])
}

// confidence reads the first integer after "confidence:" on the first line
// that mentions it with a number. Numbering such as "2. Confidence: 87%" is
// skipped.
func confidence(text string) int {
	for _, line := range strings.Split(text, "\n") {
		loc := confidencePattern.FindStringIndex(line)
		if loc == nil {
			continue
		}
		if digits := integerPattern.FindString(line[loc[1]:]); digits != "" {
			return clamp(digits)
		}
	}
	return DefaultConfidence
}

func clamp(digits string) int {
	n, err := strconv.Atoi(digits)
	if err != nil {
		// only out-of-range values get here; \d+ is always numeric
		n = math.MaxInt
	}
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	default:
		return n
	}
}
