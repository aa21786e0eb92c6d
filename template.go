package enigma

import (
	"strings"
	"text/template"
)

// RenderTemplate fills a stage template with the supplied variables and
// returns the exact prompt string sent to the model. Placeholders use
// text/template syntax ({{.explanation}}, {{.options_block}}, ...).
//
// Rendering is pure: it fails with a render error when the template is
// malformed or references a variable with no supplied value, and never
// mutates its inputs.
func RenderTemplate(name, text string, vars map[string]string) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", renderError(name, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, vars); err != nil {
		// missingkey=error surfaces absent variables here.
		return "", renderError(name, err)
	}
	return b.String(), nil
}
