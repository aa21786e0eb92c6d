package enigma

import "strings"

// Stage names of the default pipeline, in execution order.
const (
	StageRewrite        = "rewrite"
	StageAbstraction    = "abstraction"
	StageClassification = "classification"
	StageReasoning      = "reasoning"
)

// StageSpec describes one pipeline step: the template it renders, the
// variables it needs, the tagged-section grammar its output must satisfy,
// the semantic rules applied to the parsed sections, and how its output is
// folded into the record and the next stage's variables.
//
// Stages form a fixed ordered sequence; the orchestrator consumes the slice
// as-is, so new stages can be inserted without touching orchestrator logic.
type StageSpec struct {
	Name        string
	Template    string
	Required    []string // variable names the template consumes
	Image       bool     // attach the puzzle image to the model call
	Temperature float32  // 0 = DefaultTemperature
	MaxTokens   int      // 0 = DefaultMaxTokens
	Grammar     Grammar

	// Validate classifies acceptability of the parsed sections. It never
	// mutates content; a policy error may carry a repair hint for the next
	// retry attempt.
	Validate func(inst PuzzleInstance, sections map[string]string) error

	// Carry folds the valid sections into the record and exports selected
	// fields as variables for subsequent stages.
	Carry func(rec *PuzzleRecord, vars, sections map[string]string)
}

// Tagged output shapes of the default stages. Grammars are derived from the
// section tags, in field order.
type rewriteOutput struct {
	Explanation string `section:"translated_explanation"`
}

type abstractionOutput struct {
	DetailedAnalysis string `section:"detailed_analysis"`
	Breakdown        string `section:"puzzle_breakdown"`
	KeyPoints        string `section:"key_points"`
}

type classificationOutput struct {
	Breakdown      string `section:"puzzle_breakdown,optional"`
	QuestionType   string `section:"question_type"`
	KnowledgePoint string `section:"knowledge_point"`
}

type reasoningOutput struct {
	Reasoning string `section:"reasoning"`
	Answer    string `section:"answer"`
}

// StageConfig carries the tunables of the default pipeline.
type StageConfig struct {
	// FigurePhrases is the forbidden-phrase list for the cleanup stage.
	FigurePhrases []string
	// Temperature overrides DefaultTemperature for all stages when non-zero.
	Temperature float32
	// MaxTokens overrides DefaultMaxTokens for all stages when non-zero.
	MaxTokens int
}

// DefaultStageConfig returns the stock configuration.
func DefaultStageConfig() StageConfig {
	return StageConfig{FigurePhrases: DefaultFigurePhrases}
}

// DefaultStages returns the fixed four-stage pipeline:
// rewrite -> abstraction -> classification -> reasoning.
func DefaultStages(cfg StageConfig) []StageSpec {
	phrases := cfg.FigurePhrases
	if phrases == nil {
		phrases = DefaultFigurePhrases
	}

	return []StageSpec{
		{
			Name:        StageRewrite,
			Template:    rewriteTemplate,
			Required:    []string{"explanation"},
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Grammar:     GrammarFor[rewriteOutput](),
			Validate: func(_ PuzzleInstance, sections map[string]string) error {
				return ValidatePhrases("translated_explanation", sections["translated_explanation"], phrases)
			},
			Carry: func(rec *PuzzleRecord, vars, sections map[string]string) {
				rec.Explanation = sections["translated_explanation"]
				vars["explanation"] = rec.Explanation
			},
		},
		{
			Name:        StageAbstraction,
			Template:    abstractionTemplate,
			Required:    []string{"prompt", "options_block", "explanation", "correct_answer"},
			Image:       true,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Grammar:     GrammarFor[abstractionOutput](),
			Validate: func(_ PuzzleInstance, sections map[string]string) error {
				return ValidateRegularities(ParseList(sections["key_points"]))
			},
			Carry: func(rec *PuzzleRecord, vars, sections map[string]string) {
				rec.Regularities = ParseList(sections["key_points"])
				vars["puzzle_breakdown"] = sections["puzzle_breakdown"]
				vars["key_points"] = sections["key_points"]
			},
		},
		{
			Name:        StageClassification,
			Template:    classificationTemplate,
			Required:    []string{"prompt", "options_block", "key_points"},
			Image:       true,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Grammar:     GrammarFor[classificationOutput](),
			Validate: func(_ PuzzleInstance, sections map[string]string) error {
				if err := ValidateEnum("question_type", sections["question_type"], QuestionTypes); err != nil {
					return err
				}
				return ValidateEnum("knowledge_point", sections["knowledge_point"], KnowledgePoints)
			},
			Carry: func(rec *PuzzleRecord, vars, sections map[string]string) {
				rec.QuestionType = sections["question_type"]
				rec.KnowledgePoint = sections["knowledge_point"]
				vars["question_type"] = rec.QuestionType
				vars["knowledge_point"] = rec.KnowledgePoint
			},
		},
		{
			Name:        StageReasoning,
			Template:    reasoningTemplate,
			Required:    []string{"prompt", "options_block", "explanation"},
			Image:       true,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Grammar:     GrammarFor[reasoningOutput](),
			Validate: func(inst PuzzleInstance, sections map[string]string) error {
				return ValidateAnswer(inst, strings.TrimSpace(sections["answer"]))
			},
			Carry: func(rec *PuzzleRecord, _, sections map[string]string) {
				rec.Reasoning = sections["reasoning"]
				rec.Answer = strings.TrimSpace(sections["answer"])
			},
		},
	}
}

// baseVars seeds the variable mapping for the first stage from the instance.
func baseVars(inst PuzzleInstance) map[string]string {
	vars := map[string]string{
		"prompt":         inst.Question,
		"options_block":  inst.OptionsBlock(),
		"explanation":    inst.Explanation,
		"correct_answer": inst.Answer,
		"image_ref":      "",
	}
	if inst.Image != nil {
		vars["image_ref"] = inst.Image.Path
	}
	return vars
}
