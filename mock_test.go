package enigma

import (
	"context"
	"strings"
	"testing"
)

func TestMockProviderResponses(t *testing.T) {
	m := NewMockProvider()
	stages := DefaultStages(DefaultStageConfig())

	// Each stage's rendered template must elicit a response that satisfies
	// that stage's own grammar.
	vars := baseVars(testInstance("p1"))
	vars["key_points"] = "- rotation per cell"

	for _, st := range stages {
		t.Run(st.Name, func(t *testing.T) {
			prompt, err := RenderTemplate(st.Name, st.Template, vars)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			resp, err := m.Call(context.Background(), Request{Prompt: prompt})
			if err != nil {
				t.Fatalf("call: %v", err)
			}
			if _, err := st.Grammar.Extract(resp.Content); err != nil {
				t.Errorf("mock response does not satisfy the %s grammar: %v\n%s", st.Name, err, resp.Content)
			}
		})
	}
}

func TestMockProviderCleansFigureReferences(t *testing.T) {
	inst := testInstance("p1")
	inst.Explanation = "As shown in the figure, there are three circles per row."

	stages := DefaultStages(DefaultStageConfig())
	prompt, err := RenderTemplate(StageRewrite, stages[0].Template, baseVars(inst))
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	resp, err := NewMockProvider().Call(context.Background(), Request{Prompt: prompt})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	sections, err := stages[0].Grammar.Extract(resp.Content)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if err := ValidatePhrases("translated_explanation", sections["translated_explanation"], DefaultFigurePhrases); err != nil {
		t.Errorf("mock rewrite output still references the figure: %v", err)
	}
	if !strings.Contains(sections["translated_explanation"], "three circles") {
		t.Errorf("cleanup dropped the underlying fact: %q", sections["translated_explanation"])
	}
}

func TestMockProviderUnavailable(t *testing.T) {
	m := NewMockProvider()
	m.SetAvailable(false)

	_, err := m.Call(context.Background(), Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindProviderTransient {
		t.Errorf("kind = %v, want transient", KindOf(err))
	}

	m.SetAvailable(true)
	if _, err := m.Call(context.Background(), Request{Prompt: "hi"}); err != nil {
		t.Errorf("unexpected error after recovery: %v", err)
	}
}

func TestSequencedProvider(t *testing.T) {
	p := NewSequencedProvider("one", "two")

	for _, want := range []string{"one", "two", "two", "two"} {
		resp, err := p.Call(context.Background(), Request{})
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if resp.Content != want {
			t.Errorf("content = %q, want %q", resp.Content, want)
		}
	}
	if p.CallCount() != 4 {
		t.Errorf("call count = %d, want 4", p.CallCount())
	}
}

func TestCallRecorder(t *testing.T) {
	r := NewCallRecorder(NewProviderWithResponse("ok"))

	if _, err := r.Call(context.Background(), Request{Prompt: "first", Temperature: 0.5}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := r.Call(context.Background(), Request{Prompt: "second", Image: &ImageRef{}}); err != nil {
		t.Fatalf("call: %v", err)
	}

	calls := r.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	if calls[0].Prompt != "first" || calls[0].Temperature != 0.5 {
		t.Errorf("first call = %+v", calls[0])
	}
	if !calls[1].HasImage {
		t.Error("second call should record the image")
	}
	if r.LastCall().Prompt != "second" {
		t.Errorf("last call = %+v", r.LastCall())
	}
}
