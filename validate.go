package enigma

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Fixed classification axes. Stage outputs must match a member exactly.
var (
	// QuestionTypes is the question-type axis.
	QuestionTypes = []string{
		"Nine-square grid",
		"Horizontal square",
		"Two-group",
		"Two set of number",
		"Others",
	}

	// KnowledgePoints is the knowledge-point axis.
	KnowledgePoints = []string{
		"Correlated",
		"Summarize",
		"Others",
	}
)

// Regularity list bounds enforced by the abstraction stage.
const (
	MaxRegularities  = 5
	MaxRegularityLen = 300 // runes per entry
)

// DefaultFigurePhrases are the figure-reference phrases the cleanup stage
// must eliminate. The list is configurable because source explanations vary
// in phrasing.
var DefaultFigurePhrases = []string{
	"as shown in the figure",
	"as shown in the image",
	"as shown below",
	"in the figure below",
	"in the image below",
	"the figure above",
	"see the figure",
	"according to the figure",
}

// answerLeakRE matches a literal option label immediately followed by an
// affirmative claim, e.g. "B is correct" or "option C is the answer".
// Regularities must describe the pattern, not give the answer away.
var answerLeakRE = regexp.MustCompile(`(?i)\b(option\s+)?([A-D])\s+(is|must\s+be|would\s+be)\s+(the\s+)?(correct|right|answer)`)

// ValidateEnum checks that value is a member of the allowed set.
// Violations are retryable with a hint naming the allowed members.
func ValidateEnum(section, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	hint := fmt.Sprintf("the <%s> tag must contain exactly one of: %s", section, strings.Join(allowed, ", "))
	return policyError("", section, hint, "%q is not a valid %s", value, section)
}

// ValidateRegularities enforces the abstraction-stage bounds: at most
// MaxRegularities entries, each non-empty, bounded in length, and free of
// answer-revealing text.
func ValidateRegularities(items []string) error {
	if len(items) == 0 {
		return policyError("", "key_points", "list at least one regularity as a '- ' bullet",
			"empty regularity list")
	}
	if len(items) > MaxRegularities {
		return policyError("", "key_points",
			fmt.Sprintf("merge the regularities down to at most %d bullet points", MaxRegularities),
			"regularity list has %d entries, limit is %d", len(items), MaxRegularities)
	}
	for i, item := range items {
		if strings.TrimSpace(item) == "" {
			return policyError("", "key_points", "remove empty bullet points",
				"regularity %d is empty", i+1)
		}
		if utf8.RuneCountInString(item) > MaxRegularityLen {
			return policyError("", "key_points",
				fmt.Sprintf("keep each regularity under %d characters", MaxRegularityLen),
				"regularity %d exceeds %d characters", i+1, MaxRegularityLen)
		}
		if m := answerLeakRE.FindString(item); m != "" {
			return policyError("", "key_points",
				fmt.Sprintf("state the pattern without asserting which option is correct (found %q)", m),
				"regularity %d reveals the answer: %q", i+1, m)
		}
	}
	return nil
}

// ValidatePhrases rejects text containing any of the given phrases,
// case-insensitively. Used by the cleanup stage against figure references:
// "as shown in the figure below, there are three circles" must come back as
// the standalone fact "there are three circles".
func ValidatePhrases(section, text string, phrases []string) error {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			hint := fmt.Sprintf("remove the phrase %q and restate the underlying fact so it stands alone", p)
			return policyError("", section, hint, "text contains forbidden phrase %q", p)
		}
	}
	return nil
}

// ValidateAnswer checks that the answer label is one of the instance's
// option labels or the Problematic sentinel.
func ValidateAnswer(inst PuzzleInstance, answer string) error {
	if answer == AnswerProblematic {
		return nil
	}
	for _, l := range inst.Labels() {
		if answer == l {
			return nil
		}
	}
	allowed := append(inst.Labels(), AnswerProblematic)
	hint := fmt.Sprintf("the <answer> tag must contain exactly one of: %s", strings.Join(allowed, ", "))
	return policyError("", "answer", hint, "%q is not an allowed answer label", answer)
}
