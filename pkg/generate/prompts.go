package generate

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/*.md.tmpl
var promptFS embed.FS

var promptTemplates = template.Must(template.ParseFS(promptFS, "prompts/*.md.tmpl"))

// renderPrompt expands the named prompt template with the run's data
// description.
func renderPrompt(name, dataInfo string) (string, error) {
	var b strings.Builder
	err := promptTemplates.ExecuteTemplate(&b, name, struct{ DataInfo string }{DataInfo: dataInfo})
	if err != nil {
		return "", fmt.Errorf("rendering prompt %s: %w", name, err)
	}
	return b.String(), nil
}
