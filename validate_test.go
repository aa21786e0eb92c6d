package enigma

import (
	"strings"
	"testing"
)

func TestValidateEnum(t *testing.T) {
	t.Run("member passes", func(t *testing.T) {
		for _, qt := range QuestionTypes {
			if err := ValidateEnum("question_type", qt, QuestionTypes); err != nil {
				t.Errorf("ValidateEnum(%q) = %v", qt, err)
			}
		}
	})

	t.Run("non-member fails with hint", func(t *testing.T) {
		err := ValidateEnum("question_type", "Diagonal grid", QuestionTypes)
		if err == nil {
			t.Fatal("expected error")
		}
		if KindOf(err) != KindPolicy {
			t.Errorf("kind = %v, want policy", KindOf(err))
		}
		if !strings.Contains(HintOf(err), "Nine-square grid") {
			t.Errorf("hint should list the allowed members: %q", HintOf(err))
		}
	})

	t.Run("near miss is rejected", func(t *testing.T) {
		if err := ValidateEnum("knowledge_point", "correlated", KnowledgePoints); err == nil {
			t.Error("enum match must be exact, lowercase should fail")
		}
	})
}

func TestValidateRegularities(t *testing.T) {
	t.Run("valid list", func(t *testing.T) {
		items := []string{"shapes rotate clockwise", "shading alternates", "count grows per row"}
		if err := ValidateRegularities(items); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("empty list fails", func(t *testing.T) {
		if err := ValidateRegularities(nil); err == nil {
			t.Error("expected error for empty list")
		}
	})

	t.Run("six entries exceed the bound", func(t *testing.T) {
		items := make([]string, MaxRegularities+1)
		for i := range items {
			items[i] = "a rule"
		}
		err := ValidateRegularities(items)
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(HintOf(err), "merge") {
			t.Errorf("hint = %q, want merge guidance", HintOf(err))
		}
	})

	t.Run("five entries pass", func(t *testing.T) {
		items := make([]string, MaxRegularities)
		for i := range items {
			items[i] = "a rule"
		}
		if err := ValidateRegularities(items); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("oversized entry fails", func(t *testing.T) {
		long := strings.Repeat("x", MaxRegularityLen+1)
		if err := ValidateRegularities([]string{long}); err == nil {
			t.Error("expected error for oversized regularity")
		}
	})

	t.Run("length is counted in runes", func(t *testing.T) {
		// Multi-byte runes, but under the rune bound.
		ok := strings.Repeat("ö", MaxRegularityLen)
		if err := ValidateRegularities([]string{ok}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("answer leak fails", func(t *testing.T) {
		tests := []string{
			"option B is correct because the shapes align",
			"C is the answer",
			"clearly A must be the correct choice",
		}
		for _, item := range tests {
			err := ValidateRegularities([]string{item})
			if err == nil {
				t.Errorf("expected leak rejection for %q", item)
				continue
			}
			if KindOf(err) != KindPolicy {
				t.Errorf("kind = %v, want policy", KindOf(err))
			}
		}
	})

	t.Run("pattern statements do not trip the leak check", func(t *testing.T) {
		items := []string{
			"each row contains exactly one shaded cell",
			"the third column is the sum of the first two",
		}
		if err := ValidateRegularities(items); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestValidatePhrases(t *testing.T) {
	t.Run("clean text passes", func(t *testing.T) {
		text := "there are three circles and each row adds one"
		if err := ValidatePhrases("translated_explanation", text, DefaultFigurePhrases); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("figure reference fails case-insensitively", func(t *testing.T) {
		text := "As Shown In The Figure, there are three circles"
		err := ValidatePhrases("translated_explanation", text, DefaultFigurePhrases)
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(HintOf(err), "stands alone") {
			t.Errorf("hint = %q, want restate guidance", HintOf(err))
		}
	})

	t.Run("empty phrase list accepts anything", func(t *testing.T) {
		if err := ValidatePhrases("x", "as shown in the figure", nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestValidateAnswer(t *testing.T) {
	inst := PuzzleInstance{
		ID:       "p1",
		Question: "q",
		Options: []Option{
			{Label: "A", Content: "one"},
			{Label: "B", Content: "two"},
		},
		Answer: "A",
	}

	t.Run("option label passes", func(t *testing.T) {
		if err := ValidateAnswer(inst, "B"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("problematic sentinel passes", func(t *testing.T) {
		if err := ValidateAnswer(inst, AnswerProblematic); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("unknown label fails with allowed set", func(t *testing.T) {
		err := ValidateAnswer(inst, "E")
		if err == nil {
			t.Fatal("expected error")
		}
		hint := HintOf(err)
		if !strings.Contains(hint, "A, B, Problematic") {
			t.Errorf("hint = %q, want the allowed labels", hint)
		}
	})

	t.Run("free text fails", func(t *testing.T) {
		if err := ValidateAnswer(inst, "the answer is A"); err == nil {
			t.Error("expected error for non-label answer")
		}
	})
}
