package enigma

// Default stage templates. These are deliberately plain: the engineering
// contract is the tagged-section grammar each one declares, not the prose.
// Callers can swap any of them out via StageSpec.Template as long as the
// replacement keeps the same variables and closing-tag instructions.

const rewriteTemplate = `You are cleaning up the explanation of a visual logic puzzle.

Rewrite the explanation below in clear, natural English. Do not reference any
figure or image ("as shown in the figure", "the image below", and similar);
restate those observations as standalone facts. Preserve every fact needed to
solve the puzzle and do not add new claims.

Explanation:
{{.explanation}}

Reply with exactly:
<translated_explanation>
the rewritten explanation
</translated_explanation>`

const abstractionTemplate = `You are analyzing a visual logic puzzle. The puzzle image is attached.

Question:
{{.prompt}}

Options:
{{.options_block}}

Explanation of the correct solution (answer: {{.correct_answer}}):
{{.explanation}}

First analyze the puzzle in depth, then break it down structurally, then
abstract the solving rules into at most 5 short, self-contained regularity
statements. Each regularity must describe a reusable pattern and must not
state which option is correct.

Reply with exactly these sections, in order:
<detailed_analysis>
step-by-step analysis of the puzzle
</detailed_analysis>
<puzzle_breakdown>
structural description of the puzzle elements
</puzzle_breakdown>
<key_points>
- regularity one
- regularity two
</key_points>`

const classificationTemplate = `You are classifying a visual logic puzzle. The puzzle image is attached.

Question:
{{.prompt}}

Options:
{{.options_block}}

Regularities observed in this puzzle:
{{.key_points}}

Classify the puzzle along two axes.
question_type must be exactly one of:
Nine-square grid, Horizontal square, Two-group, Two set of number, Others
knowledge_point must be exactly one of:
Correlated, Summarize, Others

Reply with exactly these sections, in order:
<puzzle_breakdown>
one-paragraph justification
</puzzle_breakdown>
<question_type>
the chosen question type
</question_type>
<knowledge_point>
the chosen knowledge point
</knowledge_point>`

const reasoningTemplate = `Solve the visual logic puzzle. The puzzle image is attached.

Question:
{{.prompt}}

Options:
{{.options_block}}

Hint:
{{.explanation}}

Reason through the puzzle step by step, then give your final answer. The
answer must be a single option label, or "Problematic" if no option can be
correct.

Reply with exactly these sections, in order:
<reasoning>
your step-by-step reasoning
</reasoning>
<answer>
A
</answer>`
