package planner

import (
	"bytes"
	"strings"
	"text/template"
)

var promptFuncs = template.FuncMap{"join": strings.Join}

func renderPrompt(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Funcs(promptFuncs).Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}
