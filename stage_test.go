package enigma

import (
	"strings"
	"testing"
)

func TestDefaultStages(t *testing.T) {
	stages := DefaultStages(DefaultStageConfig())

	t.Run("fixed order", func(t *testing.T) {
		want := []string{StageRewrite, StageAbstraction, StageClassification, StageReasoning}
		if len(stages) != len(want) {
			t.Fatalf("stages = %d, want %d", len(stages), len(want))
		}
		for i, name := range want {
			if stages[i].Name != name {
				t.Errorf("stage %d = %q, want %q", i, stages[i].Name, name)
			}
		}
	})

	t.Run("grammars match the templates", func(t *testing.T) {
		// Every grammar section's tag pair must appear in the stage's own
		// template instructions, so the model sees what the parser expects.
		for _, st := range stages {
			for _, s := range st.Grammar.Sections {
				open := "<" + s.Name + ">"
				if !strings.Contains(st.Template, open) {
					t.Errorf("stage %s: template does not mention %s", st.Name, open)
				}
			}
		}
	})

	t.Run("image stages", func(t *testing.T) {
		withImage := map[string]bool{
			StageRewrite:        false,
			StageAbstraction:    true,
			StageClassification: true,
			StageReasoning:      true,
		}
		for _, st := range stages {
			if st.Image != withImage[st.Name] {
				t.Errorf("stage %s: image = %v, want %v", st.Name, st.Image, withImage[st.Name])
			}
		}
	})

	t.Run("temperature override applies to all stages", func(t *testing.T) {
		custom := DefaultStageConfig()
		custom.Temperature = 0.2
		for _, st := range DefaultStages(custom) {
			if st.Temperature != 0.2 {
				t.Errorf("stage %s: temperature = %v", st.Name, st.Temperature)
			}
		}
	})
}

func TestBaseVars(t *testing.T) {
	inst := testInstance("p1")
	inst.Image = &ImageRef{Path: "puzzles/p1.png", MIME: "image/png"}

	vars := baseVars(inst)
	if vars["prompt"] != inst.Question {
		t.Errorf("prompt = %q", vars["prompt"])
	}
	if vars["options_block"] != inst.OptionsBlock() {
		t.Errorf("options_block = %q", vars["options_block"])
	}
	if vars["correct_answer"] != "A" {
		t.Errorf("correct_answer = %q", vars["correct_answer"])
	}
	if vars["explanation"] != inst.Explanation {
		t.Errorf("explanation = %q", vars["explanation"])
	}
	if vars["image_ref"] != "puzzles/p1.png" {
		t.Errorf("image_ref = %q", vars["image_ref"])
	}
}

func TestStageCarryFlow(t *testing.T) {
	// Abstraction output feeds the classification template via the carried
	// key_points variable.
	stages := DefaultStages(DefaultStageConfig())
	abstraction := stages[1]

	rec := NewRecord(testInstance("p1"))
	vars := baseVars(rec.Instance)
	sections := map[string]string{
		"detailed_analysis": "rows rotate",
		"puzzle_breakdown":  "3x3 grid",
		"key_points":        "- rotation per cell\n- alternating shading",
	}
	abstraction.Carry(rec, vars, sections)

	if len(rec.Regularities) != 2 {
		t.Fatalf("regularities = %v", rec.Regularities)
	}
	if vars["key_points"] != sections["key_points"] {
		t.Errorf("key_points var = %q", vars["key_points"])
	}
	if vars["puzzle_breakdown"] != "3x3 grid" {
		t.Errorf("puzzle_breakdown var = %q", vars["puzzle_breakdown"])
	}
}
