// Package report renders analysis reports to disk. Reports are written as
// markdown alongside a standalone HTML version with figures inlined, so the
// output directory can be zipped or served as-is.
package report

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"regexp"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	ghtml "github.com/yuin/goldmark/renderer/html"
)

//go:embed style.css
var styleCSS string

//go:embed page.html.tmpl
var pageTemplate string

const (
	markdownName = "report.md"
	htmlName     = "report.html"
	styleName    = "style.css"
)

var imagePattern = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+\.png)\)`)

var page = template.Must(template.New("page").Parse(pageTemplate))

// Write renders the report markdown into outputDir as report.md and
// report.html, with the stylesheet alongside as style.css, and returns the
// markdown and html paths. Image references that resolve to files inside
// outputDir are inlined into the HTML as data URIs.
func Write(markdown, outputDir string) (mdPath, htmlPath string, err error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating report directory: %w", err)
	}

	mdPath = filepath.Join(outputDir, markdownName)
	if err := os.WriteFile(mdPath, []byte(markdown), 0o644); err != nil {
		return "", "", fmt.Errorf("writing report markdown: %w", err)
	}

	inlined := inlineImages(markdown, outputDir)

	md := goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Strikethrough),
		goldmark.WithRendererOptions(ghtml.WithUnsafe()),
	)
	var body bytes.Buffer
	if err := md.Convert([]byte(inlined), &body); err != nil {
		return "", "", fmt.Errorf("rendering report html: %w", err)
	}

	var out bytes.Buffer
	err = page.Execute(&out, map[string]any{
		"Style": template.CSS(styleCSS),
		"Body":  template.HTML(body.String()),
	})
	if err != nil {
		return "", "", fmt.Errorf("rendering report page: %w", err)
	}

	htmlPath = filepath.Join(outputDir, htmlName)
	if err := os.WriteFile(htmlPath, out.Bytes(), 0o644); err != nil {
		return "", "", fmt.Errorf("writing report html: %w", err)
	}

	// The stylesheet ships next to the report as well, so the directory
	// stays usable with markdown viewers that load it by name.
	stylePath := filepath.Join(outputDir, styleName)
	if err := os.WriteFile(stylePath, []byte(styleCSS), 0o644); err != nil {
		return "", "", fmt.Errorf("writing stylesheet: %w", err)
	}
	return mdPath, htmlPath, nil
}

// inlineImages rewrites local image references as base64 data URIs. Remote
// or missing images are left untouched.
func inlineImages(markdown, dir string) string {
	return imagePattern.ReplaceAllStringFunc(markdown, func(match string) string {
		parts := imagePattern.FindStringSubmatch(match)
		alt, src := parts[1], parts[2]

		// Only files that actually live inside the output directory.
		local := filepath.Join(dir, filepath.Base(src))
		data, err := os.ReadFile(local)
		if err != nil {
			return match
		}
		uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
		return fmt.Sprintf("![%s](%s)", alt, uri)
	})
}
