package enigma

import (
	"strings"

	"github.com/zoobzio/sentinel"
)

// Section is one named tagged block in a stage's output grammar.
type Section struct {
	Name     string
	Required bool
}

// Grammar is the expected shape of a stage's raw output: an ordered list of
// tagged sections delimited by <name>...</name> pairs. Extraction is
// tolerant of text outside the tags but intolerant of missing required tags,
// nested or unbalanced tags, duplicates, and tags out of declared order.
//
// LLM output is unstructured free text; this small formal grammar is the
// only defense against downstream corruption, so failures are explicit and
// retry-eligible rather than silently defaulting to empty fields.
type Grammar struct {
	Sections []Section
}

// The section tag must be registered before sentinel extracts metadata.
func init() {
	sentinel.Tag("section")
}

// GrammarFor derives a grammar from a struct type using sentinel metadata.
// Fields carry `section:"name"` tags in declaration order; append ",optional"
// to relax the required flag. Fields without a section tag are skipped.
func GrammarFor[T any]() Grammar {
	metadata := sentinel.Inspect[T]()

	var sections []Section
	for _, field := range metadata.Fields {
		tag, ok := field.Tags["section"]
		if !ok || tag == "" || tag == "-" {
			continue
		}
		parts := strings.Split(tag, ",")
		s := Section{Name: parts[0], Required: true}
		for _, p := range parts[1:] {
			if p == "optional" {
				s.Required = false
			}
		}
		sections = append(sections, s)
	}
	return Grammar{Sections: sections}
}

// Instructions renders the grammar as a response-format reminder embedded in
// stage templates and repair hints.
func (g Grammar) Instructions() string {
	var b strings.Builder
	for i, s := range g.Sections {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("<")
		b.WriteString(s.Name)
		b.WriteString(">...</")
		b.WriteString(s.Name)
		b.WriteString(">")
		if !s.Required {
			b.WriteString(" (optional)")
		}
	}
	return b.String()
}

// Extract parses raw model output against the grammar, returning the inner
// text of each section keyed by name. Inner text is whitespace-trimmed.
// On failure it returns a parse error naming the first offending section;
// the caller attributes the stage.
func (g Grammar) Extract(raw string) (map[string]string, error) {
	out := make(map[string]string, len(g.Sections))
	cursor := 0

	for _, s := range g.Sections {
		open := "<" + s.Name + ">"
		closeTag := "</" + s.Name + ">"

		start := strings.Index(raw, open)
		if start == -1 {
			if s.Required {
				return nil, parseError("", s.Name, "missing required section <%s>", s.Name)
			}
			continue
		}
		if start < cursor {
			return nil, parseError("", s.Name, "section <%s> appears out of declared order", s.Name)
		}

		innerStart := start + len(open)
		rel := strings.Index(raw[innerStart:], closeTag)
		if rel == -1 {
			return nil, parseError("", s.Name, "unbalanced section <%s>: closing tag not found", s.Name)
		}
		inner := raw[innerStart : innerStart+rel]
		if strings.Contains(inner, open) {
			return nil, parseError("", s.Name, "nested <%s> tag inside section", s.Name)
		}

		rest := raw[innerStart+rel+len(closeTag):]
		if strings.Contains(rest, open) {
			return nil, parseError("", s.Name, "duplicate <%s> section", s.Name)
		}

		out[s.Name] = strings.TrimSpace(inner)
		cursor = innerStart + rel + len(closeTag)
	}
	return out, nil
}

// Compose renders sections back into grammar-conforming text. Extracting a
// composed response yields the same sections, which is what stage tests and
// the mock provider rely on.
func (g Grammar) Compose(sections map[string]string) string {
	var b strings.Builder
	for _, s := range g.Sections {
		content, ok := sections[s.Name]
		if !ok && !s.Required {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("<")
		b.WriteString(s.Name)
		b.WriteString(">\n")
		b.WriteString(content)
		b.WriteString("\n</")
		b.WriteString(s.Name)
		b.WriteString(">")
	}
	return b.String()
}

// ParseList splits a section's inner text into list items, accepting the
// "- item" bullet form the abstraction stage emits. Blank lines and bare
// dashes are dropped.
func ParseList(s string) []string {
	var items []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimPrefix(line, "-"))
		if line == "" {
			continue
		}
		items = append(items, line)
	}
	return items
}
